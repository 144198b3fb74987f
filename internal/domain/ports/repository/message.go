package repository

import (
	"context"

	"crm-delivery-engine/internal/domain/model"
)

// MessageRecordRepository is the narrow outcome hook toward the data layer.
// The engine never reads message records back.
type MessageRecordRepository interface {
	ReportOutcome(ctx context.Context, rec *model.MessageRecord) error
}
