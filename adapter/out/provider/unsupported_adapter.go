package provider

import (
	"context"

	"schedsync/core/domain"
	"schedsync/core/port/out"
	"schedsync/pkg/apperr"
)

// unsupportedAdapter is the explicit variant for providers without an
// implementation (CALENDLY today). Every call fails with a distinct
// UNSUPPORTED_OPERATION so callers can tell "not implemented" from a
// silent no-op.
type unsupportedAdapter struct {
	provider domain.ProviderType
}

func newUnsupportedAdapter(provider domain.ProviderType) *unsupportedAdapter {
	return &unsupportedAdapter{provider: provider}
}

func (a *unsupportedAdapter) fail(operation string) *apperr.AppError {
	return apperr.UnsupportedOperation(operation + " for provider " + string(a.provider))
}

func (a *unsupportedAdapter) AuthURL(string) (string, error) {
	return "", a.fail("auth url")
}

func (a *unsupportedAdapter) ExchangeCode(context.Context, string) (*out.TokenResult, error) {
	return nil, a.fail("code exchange")
}

func (a *unsupportedAdapter) RefreshIfNeeded(context.Context, *out.TokenResult) (*out.TokenResult, error) {
	return nil, a.fail("token refresh")
}

func (a *unsupportedAdapter) UpsertEvent(context.Context, *out.TokenResult, *domain.Appointment, *domain.EventMapping, string) (*out.UpsertResult, error) {
	return nil, a.fail("event upsert")
}

func (a *unsupportedAdapter) DeleteEvent(context.Context, *out.TokenResult, *domain.EventMapping) error {
	return a.fail("event delete")
}

func (a *unsupportedAdapter) ListEvents(context.Context, *out.TokenResult, out.ListOptions) ([]*out.ExternalEvent, error) {
	return nil, a.fail("event list")
}

func (a *unsupportedAdapter) ParseToDraft(*out.ExternalEvent) (*domain.AppointmentDraft, error) {
	return nil, a.fail("event parse")
}

var _ out.CalendarProviderPort = (*unsupportedAdapter)(nil)
