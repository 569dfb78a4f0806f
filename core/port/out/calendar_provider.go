package out

import (
	"context"
	"time"

	"schedsync/core/domain"
)

// ============================================================
// Provider types
// ============================================================

// TokenResult is the provider-neutral OAuth token shape.
type TokenResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scopes       []string
}

// ExternalEvent is a raw event as listed from a provider, before parsing.
type ExternalEvent struct {
	ID          string
	ICalUID     string
	CalendarID  string
	ChangeTag   string
	Title       string
	Description string
	Location    string
	StartAt     time.Time
	EndAt       time.Time
	Timezone    string
	AllDay      bool
	Cancelled   bool
}

// UpsertResult is what a push writes back into the mapping ledger.
type UpsertResult struct {
	ExternalEventID    string
	ExternalCalendarID string
	ChangeTag          string
}

// SubscriptionResult describes a created or renewed webhook subscription.
type SubscriptionResult struct {
	ChannelID   string
	ResourceID  string
	Expiration  time.Time
	ClientState string
}

// ListOptions bounds a pull window. Nil From/To use the provider default.
type ListOptions struct {
	CalendarID string
	From       *time.Time
	To         *time.Time
}

// ============================================================
// Provider port
// ============================================================

// CalendarProviderPort is the capability surface every supported external
// calendar system implements. Unimplemented providers still implement it,
// failing each call with an explicit UNSUPPORTED_OPERATION.
type CalendarProviderPort interface {
	// AuthURL builds the provider consent URL carrying state for CSRF.
	AuthURL(state string) (string, error)

	// ExchangeCode trades an authorization code for tokens.
	ExchangeCode(ctx context.Context, code string) (*TokenResult, error)

	// RefreshIfNeeded refreshes when less than two minutes of validity
	// remain and a refresh token exists; otherwise returns tok unchanged.
	RefreshIfNeeded(ctx context.Context, tok *TokenResult) (*TokenResult, error)

	// UpsertEvent creates the external event when mapping is nil, else
	// updates it in place. Writes are silent: no attendee notifications.
	UpsertEvent(ctx context.Context, tok *TokenResult, appt *domain.Appointment, mapping *domain.EventMapping, calendarID string) (*UpsertResult, error)

	// DeleteEvent removes the external event referenced by the mapping.
	DeleteEvent(ctx context.Context, tok *TokenResult, mapping *domain.EventMapping) error

	// ListEvents returns events in the window described by opts.
	ListEvents(ctx context.Context, tok *TokenResult, opts ListOptions) ([]*ExternalEvent, error)

	// ParseToDraft converts a listed event into the local draft shape.
	ParseToDraft(ev *ExternalEvent) (*domain.AppointmentDraft, error)
}

// WebhookCapable is the optional push-notification capability. The sync
// orchestrator asserts for it; adapters without it are treated as
// UNSUPPORTED_OPERATION, never a crash.
type WebhookCapable interface {
	EnsureSubscription(ctx context.Context, tok *TokenResult, callbackURL, calendarID string, conn *domain.CalendarConnection) (*SubscriptionResult, error)
	StopSubscription(ctx context.Context, tok *TokenResult, conn *domain.CalendarConnection) error
}

// ============================================================
// Provider factory
// ============================================================

// ProviderFactory resolves a provider tag to its adapter instance.
type ProviderFactory interface {
	Create(provider domain.ProviderType) (CalendarProviderPort, error)
}
