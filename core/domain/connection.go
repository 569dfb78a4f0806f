package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type ProviderType string

const (
	ProviderGoogle    ProviderType = "GOOGLE"
	ProviderMicrosoft ProviderType = "MICROSOFT"
	ProviderCalendly  ProviderType = "CALENDLY"
)

// ParseProvider normalizes a provider name from a path segment or payload.
func ParseProvider(s string) (ProviderType, bool) {
	switch ProviderType(strings.ToUpper(s)) {
	case ProviderGoogle:
		return ProviderGoogle, true
	case ProviderMicrosoft:
		return ProviderMicrosoft, true
	case ProviderCalendly:
		return ProviderCalendly, true
	default:
		return "", false
	}
}

// CalendarConnection is the per (tenant, provider) OAuth connection record.
// AccessToken and RefreshToken are stored encrypted; decryption happens at
// the persistence boundary only. Disconnect clears tokens and webhook
// fields and disables the row; rows are never physically deleted.
type CalendarConnection struct {
	ID           int64        `json:"id"`
	TenantID     uuid.UUID    `json:"tenant_id"`
	Provider     ProviderType `json:"provider"`
	AccessToken  string       `json:"-"`
	RefreshToken string       `json:"-"`
	ExpiresAt    time.Time    `json:"expires_at"`
	Scopes       []string     `json:"scopes,omitempty"`
	Enabled      bool         `json:"enabled"`
	AccountID    *string      `json:"account_id,omitempty"`
	AccountEmail *string      `json:"account_email,omitempty"`

	// Webhook subscription state for providers that push notifications.
	WebhookChannelID  *string    `json:"webhook_channel_id,omitempty"`
	WebhookResourceID *string    `json:"webhook_resource_id,omitempty"`
	WebhookExpiration *time.Time `json:"webhook_expiration,omitempty"`
	WebhookSecret     string     `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConnectionInfo is the only connection shape handlers may serialize.
// It carries no token or secret fields by construction.
type ConnectionInfo struct {
	ID                int64        `json:"id"`
	TenantID          uuid.UUID    `json:"tenant_id"`
	Provider          ProviderType `json:"provider"`
	Enabled           bool         `json:"enabled"`
	AccountEmail      *string      `json:"account_email,omitempty"`
	Scopes            []string     `json:"scopes,omitempty"`
	TokenExpiresAt    time.Time    `json:"token_expires_at"`
	WebhookExpiration *time.Time   `json:"webhook_expiration,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
}

// Info projects the connection into its serializable shape.
func (c *CalendarConnection) Info() *ConnectionInfo {
	return &ConnectionInfo{
		ID:                c.ID,
		TenantID:          c.TenantID,
		Provider:          c.Provider,
		Enabled:           c.Enabled,
		AccountEmail:      c.AccountEmail,
		Scopes:            c.Scopes,
		TokenExpiresAt:    c.ExpiresAt,
		WebhookExpiration: c.WebhookExpiration,
		CreatedAt:         c.CreatedAt,
	}
}
