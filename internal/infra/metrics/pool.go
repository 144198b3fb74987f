package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(automationEngines, automationHandles)
}

var automationEngines = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "automation_engines",
		Help: "Automation engines currently in rotation.",
	},
)

var automationHandles = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "automation_handles",
		Help: "Open (account, lead) session handles.",
	},
)

func SetAutomationPool(engines, handles int) {
	automationEngines.Set(float64(engines))
	automationHandles.Set(float64(handles))
}
