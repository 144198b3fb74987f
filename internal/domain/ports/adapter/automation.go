package adapter

import "context"

// LocatorStrategy selects how a locator value is interpreted by the
// automation engine.
type LocatorStrategy string

const (
	LocatorCSS   LocatorStrategy = "css selector"
	LocatorXPath LocatorStrategy = "xpath"
)

// Locator is one way to find a logical UI element. Interactions carry an
// ordered list of these and succeed on the first match, which absorbs
// minor markup drift without code changes.
type Locator struct {
	Strategy LocatorStrategy
	Value    string
}

// Element is a located UI element within one session.
type Element interface {
	Click(ctx context.Context) error
	Type(ctx context.Context, text string) error
	Text(ctx context.Context) (string, error)
}

// Cookie is injected into a session to carry an authenticated CRM session.
type Cookie struct {
	Name   string
	Value  string
	Domain string
	Secure bool
}

// AutomationSession is a synchronous command surface over one isolated
// browser context. Workers call it blocking-style; concurrency comes from
// multiple sessions, never from interleaving within one.
type AutomationSession interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	// Find tries each locator in order and returns the first match, or
	// domain.ErrElementNotFound once all are exhausted.
	Find(ctx context.Context, locators []Locator) (Element, error)
	AddCookie(ctx context.Context, c Cookie) error
	Screenshot(ctx context.Context) ([]byte, error)
	Close(ctx context.Context) error
}

// AutomationEngine hosts isolated sessions, up to a per-engine cap.
type AutomationEngine interface {
	NewSession(ctx context.Context) (AutomationSession, error)
	// Healthy reports whether the engine still answers commands.
	Healthy(ctx context.Context) bool
	Close(ctx context.Context) error
}

// EngineFactory creates engines lazily as pool load grows.
type EngineFactory func(ctx context.Context) (AutomationEngine, error)
