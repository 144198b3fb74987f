package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"crm-delivery-engine/internal/domain"
	"crm-delivery-engine/internal/domain/model"
	"crm-delivery-engine/internal/domain/ports/repository"
	"crm-delivery-engine/internal/infra/security"
)

var _ repository.CredentialRepository = (*credentialRepo)(nil)

// credentialRepo stores one OAuth pair per account. Refresh tokens and UI
// passwords go through the encryption service before touching disk.
type credentialRepo struct {
	pool *pgxpool.Pool
	enc  *security.EncryptionService
}

func NewCredentialRepo(pool *pgxpool.Pool, enc *security.EncryptionService) *credentialRepo {
	return &credentialRepo{pool: pool, enc: enc}
}

func (r *credentialRepo) FindByAccount(ctx context.Context, tx repository.Tx, accountID int64) (*model.Credential, error) {
	const q = `
SELECT account_id, access_token, refresh_token, token_expiry, base_url, login, password, updated_at
FROM account_credentials WHERE account_id = $1`

	row, err := pickRow(ctx, r.pool, tx, q, accountID)
	if err != nil {
		return nil, err
	}
	var cred model.Credential
	err = row.Scan(&cred.AccountID, &cred.AccessToken, &cred.RefreshToken,
		&cred.TokenExpiry, &cred.BaseURL, &cred.Login, &cred.Password, &cred.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}

	if cred.RefreshToken != "" {
		if cred.RefreshToken, err = r.enc.Decrypt(cred.RefreshToken); err != nil {
			return nil, err
		}
	}
	if cred.Password != "" {
		if cred.Password, err = r.enc.Decrypt(cred.Password); err != nil {
			return nil, err
		}
	}
	return &cred, nil
}

func (r *credentialRepo) Save(ctx context.Context, tx repository.Tx, cred *model.Credential) error {
	cred.UpdatedAt = time.Now()

	refresh, err := r.enc.Encrypt(cred.RefreshToken)
	if err != nil {
		return err
	}
	password := ""
	if cred.Password != "" {
		if password, err = r.enc.Encrypt(cred.Password); err != nil {
			return err
		}
	}

	// A rotation Save may carry an empty UI pair; that must not wipe a
	// stored one. A non-empty pair replaces it.
	const q = `
INSERT INTO account_credentials (account_id, access_token, refresh_token, token_expiry, base_url, login, password, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (account_id) DO UPDATE SET
  access_token = EXCLUDED.access_token,
  refresh_token = EXCLUDED.refresh_token,
  token_expiry = EXCLUDED.token_expiry,
  base_url = EXCLUDED.base_url,
  login = COALESCE(NULLIF(EXCLUDED.login, ''), account_credentials.login),
  password = COALESCE(NULLIF(EXCLUDED.password, ''), account_credentials.password),
  updated_at = EXCLUDED.updated_at;`

	_, err = execSQL(ctx, r.pool, tx, q,
		cred.AccountID, cred.AccessToken, refresh, cred.TokenExpiry, cred.BaseURL,
		cred.Login, password, cred.UpdatedAt)
	return err
}

func (r *credentialRepo) UpdateBaseURL(ctx context.Context, tx repository.Tx, accountID int64, baseURL string) error {
	_, err := execSQL(ctx, r.pool, tx,
		`UPDATE account_credentials SET base_url = $2, updated_at = now() WHERE account_id = $1`,
		accountID, baseURL)
	return err
}
