package adapter

import "context"

// TokenSource hands out a valid access token for one account, refreshing
// behind the scenes when needed.
type TokenSource interface {
	// GetValidToken returns a token usable right now.
	GetValidToken(ctx context.Context) (string, error)
	// ForceRefresh discards the cached token and performs a refresh, even
	// if the cached one has not expired yet (401 recovery path).
	ForceRefresh(ctx context.Context) (string, error)
	// BaseURL is the tenant endpoint the token is valid against.
	BaseURL() string
}

// DeliveryClient performs the CRM-side operations of one delivery job.
// Implemented both by the REST client and by the browser automation flow.
type DeliveryClient interface {
	SendMessage(ctx context.Context, leadID int64, text string) error
	AddNote(ctx context.Context, leadID int64, text string) error
	CreateTask(ctx context.Context, leadID int64, text string) error
}
