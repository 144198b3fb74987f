package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"crm-delivery-engine/internal/domain"
	"crm-delivery-engine/internal/domain/model"
	"crm-delivery-engine/internal/domain/ports/repository"
	"crm-delivery-engine/internal/infra/security"
)

var _ repository.CredentialCache = (*CredentialCache)(nil)

// CredentialCache keeps the freshest token pair under a short TTL so a warm
// restart does not force a refresh round trip per account. Postgres stays
// the source of truth. The refresh token and UI password are encrypted
// inside the cached snapshot, matching their at-rest treatment in Postgres.
type CredentialCache struct {
	client RedisClient
	enc    *security.EncryptionService
	ttl    time.Duration
}

func NewCredentialCache(client RedisClient, enc *security.EncryptionService, ttl time.Duration) *CredentialCache {
	return &CredentialCache{client: client, enc: enc, ttl: ttl}
}

func (c *CredentialCache) Get(ctx context.Context, accountID int64) (*model.Credential, error) {
	raw, err := c.client.Get(ctx, credKey(accountID))
	if err != nil {
		if IsNil(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	var cred model.Credential
	if err := json.Unmarshal([]byte(raw), &cred); err != nil {
		return nil, err
	}
	if cred.RefreshToken != "" {
		if cred.RefreshToken, err = c.enc.Decrypt(cred.RefreshToken); err != nil {
			return nil, err
		}
	}
	if cred.Password != "" {
		if cred.Password, err = c.enc.Decrypt(cred.Password); err != nil {
			return nil, err
		}
	}
	return &cred, nil
}

func (c *CredentialCache) Set(ctx context.Context, cred *model.Credential) error {
	snap := *cred
	var err error
	if snap.RefreshToken != "" {
		if snap.RefreshToken, err = c.enc.Encrypt(snap.RefreshToken); err != nil {
			return err
		}
	}
	if snap.Password != "" {
		if snap.Password, err = c.enc.Encrypt(snap.Password); err != nil {
			return err
		}
	}
	b, err := json.Marshal(&snap)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, credKey(cred.AccountID), string(b), c.ttl)
}

func (c *CredentialCache) Invalidate(ctx context.Context, accountID int64) error {
	return c.client.Del(ctx, credKey(accountID))
}

func credKey(accountID int64) string {
	return fmt.Sprintf("credential:%d", accountID)
}
