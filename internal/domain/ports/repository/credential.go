package repository

import (
	"context"

	"crm-delivery-engine/internal/domain/model"
)

type CredentialRepository interface {
	FindByAccount(ctx context.Context, tx Tx, accountID int64) (*model.Credential, error)
	// Save persists a rotated token pair. Called after every successful
	// refresh; the CRM invalidates the old refresh token on first use, so
	// losing this write strands the account.
	Save(ctx context.Context, tx Tx, cred *model.Credential) error
	UpdateBaseURL(ctx context.Context, tx Tx, accountID int64, baseURL string) error
}

// CredentialCache is a short-TTL warm-restart cache in front of the
// credential repository.
type CredentialCache interface {
	Get(ctx context.Context, accountID int64) (*model.Credential, error)
	Set(ctx context.Context, cred *model.Credential) error
	Invalidate(ctx context.Context, accountID int64) error
}
