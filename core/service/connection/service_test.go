package connection

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"schedsync/core/domain"
	"schedsync/core/port/out"
	"schedsync/pkg/apperr"
)

type stubProvider struct {
	exchangeTok *out.TokenResult
	refreshTok  *out.TokenResult
	refreshErr  error
	stopped     bool
}

func (p *stubProvider) AuthURL(state string) (string, error) {
	return "https://example.com/auth?state=" + state, nil
}

func (p *stubProvider) ExchangeCode(context.Context, string) (*out.TokenResult, error) {
	if p.exchangeTok == nil {
		return nil, apperr.OAuthFailed("stub", nil)
	}
	return p.exchangeTok, nil
}

func (p *stubProvider) RefreshIfNeeded(_ context.Context, tok *out.TokenResult) (*out.TokenResult, error) {
	if p.refreshErr != nil {
		return nil, p.refreshErr
	}
	if p.refreshTok != nil {
		return p.refreshTok, nil
	}
	return tok, nil
}

func (p *stubProvider) UpsertEvent(context.Context, *out.TokenResult, *domain.Appointment, *domain.EventMapping, string) (*out.UpsertResult, error) {
	return nil, apperr.UnsupportedOperation("upsert")
}

func (p *stubProvider) DeleteEvent(context.Context, *out.TokenResult, *domain.EventMapping) error {
	return apperr.UnsupportedOperation("delete")
}

func (p *stubProvider) ListEvents(context.Context, *out.TokenResult, out.ListOptions) ([]*out.ExternalEvent, error) {
	return nil, apperr.UnsupportedOperation("list")
}

func (p *stubProvider) ParseToDraft(*out.ExternalEvent) (*domain.AppointmentDraft, error) {
	return nil, apperr.UnsupportedOperation("parse")
}

func (p *stubProvider) EnsureSubscription(context.Context, *out.TokenResult, string, string, *domain.CalendarConnection) (*out.SubscriptionResult, error) {
	return nil, apperr.UnsupportedOperation("subscribe")
}

func (p *stubProvider) StopSubscription(context.Context, *out.TokenResult, *domain.CalendarConnection) error {
	p.stopped = true
	return nil
}

var (
	_ out.CalendarProviderPort = (*stubProvider)(nil)
	_ out.WebhookCapable       = (*stubProvider)(nil)
)

type stubFactory struct{ provider *stubProvider }

func (f stubFactory) Create(domain.ProviderType) (out.CalendarProviderPort, error) {
	return f.provider, nil
}

type stubConns struct {
	byTenant     map[uuid.UUID]*domain.CalendarConnection
	upserted     *domain.CalendarConnection
	updatedToken string
	disconnected bool
}

func (r *stubConns) Upsert(_ context.Context, conn *domain.CalendarConnection) error {
	r.upserted = conn
	return nil
}

func (r *stubConns) GetByTenantProvider(_ context.Context, tenantID uuid.UUID, _ domain.ProviderType) (*domain.CalendarConnection, error) {
	conn, ok := r.byTenant[tenantID]
	if !ok {
		return nil, apperr.NotFound("calendar connection")
	}
	return conn, nil
}

func (r *stubConns) GetByWebhookChannel(context.Context, string) (*domain.CalendarConnection, error) {
	return nil, apperr.NotFound("calendar connection")
}

func (r *stubConns) ListEnabledByTenant(_ context.Context, tenantID uuid.UUID) ([]*domain.CalendarConnection, error) {
	if conn, ok := r.byTenant[tenantID]; ok {
		return []*domain.CalendarConnection{conn}, nil
	}
	return nil, nil
}

func (r *stubConns) ListExpiringSubscriptions(context.Context, time.Time) ([]*domain.CalendarConnection, error) {
	return nil, nil
}

func (r *stubConns) UpdateTokens(_ context.Context, _ int64, accessToken, _ string, _ time.Time) error {
	r.updatedToken = accessToken
	return nil
}

func (r *stubConns) UpdateWebhook(context.Context, int64, string, string, time.Time, string) error {
	return nil
}

func (r *stubConns) Disconnect(context.Context, uuid.UUID, domain.ProviderType) error {
	r.disconnected = true
	return nil
}

var _ out.ConnectionRepository = (*stubConns)(nil)

func TestHandleCallbackKeepsExistingRefreshToken(t *testing.T) {
	tenantID := uuid.New()
	conns := &stubConns{byTenant: map[uuid.UUID]*domain.CalendarConnection{
		tenantID: {
			ID:           7,
			TenantID:     tenantID,
			Provider:     domain.ProviderGoogle,
			RefreshToken: "refresh-original",
			Enabled:      true,
		},
	}}
	provider := &stubProvider{exchangeTok: &out.TokenResult{
		AccessToken: "access-new",
		ExpiresAt:   time.Now().Add(time.Hour),
	}}

	svc := NewService(conns, stubFactory{provider}, nil)

	info, err := svc.HandleCallback(context.Background(), tenantID, domain.ProviderGoogle, "code")
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if info.ID != 7 {
		t.Errorf("info.ID = %d, want existing row 7", info.ID)
	}
	if conns.upserted.RefreshToken != "refresh-original" {
		t.Errorf("refresh token = %q, want the preserved original", conns.upserted.RefreshToken)
	}
}

func TestHandleCallbackRejectsEmptyCode(t *testing.T) {
	svc := NewService(&stubConns{}, stubFactory{&stubProvider{}}, nil)

	_, err := svc.HandleCallback(context.Background(), uuid.New(), domain.ProviderGoogle, "")
	if !apperr.HasCode(err, apperr.CodeInvalidInput) {
		t.Fatalf("err = %v, want INVALID_INPUT", err)
	}
}

func TestEnsureFreshTokenPersistsRotation(t *testing.T) {
	conns := &stubConns{}
	provider := &stubProvider{refreshTok: &out.TokenResult{
		AccessToken:  "access-rotated",
		RefreshToken: "refresh-rotated",
		ExpiresAt:    time.Now().Add(time.Hour),
	}}
	svc := NewService(conns, stubFactory{provider}, nil)

	conn := &domain.CalendarConnection{
		ID:           3,
		Provider:     domain.ProviderGoogle,
		AccessToken:  "access-stale",
		RefreshToken: "refresh-stale",
	}
	tok, err := svc.EnsureFreshToken(context.Background(), conn)
	if err != nil {
		t.Fatalf("EnsureFreshToken: %v", err)
	}
	if tok.AccessToken != "access-rotated" {
		t.Errorf("access token = %q, want rotated", tok.AccessToken)
	}
	if conns.updatedToken != "access-rotated" {
		t.Error("rotated token was not persisted")
	}
	if conn.AccessToken != "access-rotated" {
		t.Error("in-memory connection not updated with rotation")
	}
}

func TestEnsureFreshTokenNoRotationNoWrite(t *testing.T) {
	conns := &stubConns{}
	svc := NewService(conns, stubFactory{&stubProvider{}}, nil)

	conn := &domain.CalendarConnection{ID: 3, Provider: domain.ProviderGoogle, AccessToken: "still-valid"}
	if _, err := svc.EnsureFreshToken(context.Background(), conn); err != nil {
		t.Fatalf("EnsureFreshToken: %v", err)
	}
	if conns.updatedToken != "" {
		t.Error("unexpected token write without rotation")
	}
}

func TestDisconnectStopsSubscription(t *testing.T) {
	tenantID := uuid.New()
	channel := "chan-1"
	conns := &stubConns{byTenant: map[uuid.UUID]*domain.CalendarConnection{
		tenantID: {
			ID:               9,
			TenantID:         tenantID,
			Provider:         domain.ProviderGoogle,
			AccessToken:      "access",
			Enabled:          true,
			WebhookChannelID: &channel,
		},
	}}
	provider := &stubProvider{}
	svc := NewService(conns, stubFactory{provider}, nil)

	if err := svc.Disconnect(context.Background(), tenantID, domain.ProviderGoogle); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if !provider.stopped {
		t.Error("webhook subscription was not stopped")
	}
	if !conns.disconnected {
		t.Error("connection row was not disabled")
	}
}
