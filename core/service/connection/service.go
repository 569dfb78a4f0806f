// Package connection owns the per-tenant OAuth connection lifecycle:
// consent URL generation, callback exchange, token refresh and disconnect.
// Plaintext tokens exist only in memory; the persistence layer encrypts at
// its boundary.
package connection

import (
	"context"
	"time"

	"github.com/google/uuid"

	"schedsync/core/domain"
	"schedsync/core/port/out"
	"schedsync/pkg/apperr"
	"schedsync/pkg/logger"
)

type Service struct {
	conns     out.ConnectionRepository
	providers out.ProviderFactory
	producer  out.JobProducer
}

func NewService(conns out.ConnectionRepository, providers out.ProviderFactory, producer out.JobProducer) *Service {
	return &Service{conns: conns, providers: providers, producer: producer}
}

// AuthURL returns the provider consent URL. state must carry the tenant
// correlation the callback needs.
func (s *Service) AuthURL(provider domain.ProviderType, state string) (string, error) {
	adapter, err := s.providers.Create(provider)
	if err != nil {
		return "", err
	}
	return adapter.AuthURL(state)
}

// HandleCallback exchanges the authorization code, persists the connection
// and schedules the initial pull plus webhook subscription setup.
func (s *Service) HandleCallback(ctx context.Context, tenantID uuid.UUID, provider domain.ProviderType, code string) (*domain.ConnectionInfo, error) {
	if code == "" {
		return nil, apperr.InvalidInput("code", "authorization code is required")
	}

	adapter, err := s.providers.Create(provider)
	if err != nil {
		return nil, err
	}
	tok, err := adapter.ExchangeCode(ctx, code)
	if err != nil {
		return nil, apperr.OAuthFailed(string(provider), err)
	}

	now := time.Now().UTC()
	conn := &domain.CalendarConnection{
		TenantID:     tenantID,
		Provider:     provider,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.ExpiresAt,
		Scopes:       tok.Scopes,
		Enabled:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if existing, err := s.conns.GetByTenantProvider(ctx, tenantID, provider); err == nil {
		conn.ID = existing.ID
		conn.CreatedAt = existing.CreatedAt
		if conn.RefreshToken == "" {
			// Some providers only return a refresh token on first consent.
			conn.RefreshToken = existing.RefreshToken
		}
	}
	if err := s.conns.Upsert(ctx, conn); err != nil {
		return nil, err
	}

	if s.producer != nil {
		if err := s.producer.PublishPull(ctx, out.PullJob{TenantID: tenantID, Provider: provider}); err != nil {
			logger.WithContext(ctx).Warn().Err(err).Msg("enqueue initial pull")
		}
		if err := s.producer.PublishRenew(ctx, out.RenewJob{TenantID: tenantID, Provider: provider}); err != nil {
			logger.WithContext(ctx).Warn().Err(err).Msg("enqueue subscription setup")
		}
	}
	return conn.Info(), nil
}

// List returns the tenant's enabled connections as the serializable
// projection.
func (s *Service) List(ctx context.Context, tenantID uuid.UUID) ([]*domain.ConnectionInfo, error) {
	conns, err := s.conns.ListEnabledByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	infos := make([]*domain.ConnectionInfo, 0, len(conns))
	for _, c := range conns {
		infos = append(infos, c.Info())
	}
	return infos, nil
}

// EnsureFreshToken refreshes the connection's access token when it is
// about to expire, persisting any rotation. The returned token is safe
// for an immediate provider call.
func (s *Service) EnsureFreshToken(ctx context.Context, conn *domain.CalendarConnection) (*out.TokenResult, error) {
	adapter, err := s.providers.Create(conn.Provider)
	if err != nil {
		return nil, err
	}

	tok := &out.TokenResult{
		AccessToken:  conn.AccessToken,
		RefreshToken: conn.RefreshToken,
		ExpiresAt:    conn.ExpiresAt,
		Scopes:       conn.Scopes,
	}
	fresh, err := adapter.RefreshIfNeeded(ctx, tok)
	if err != nil {
		return nil, err
	}
	if fresh.AccessToken != tok.AccessToken {
		if err := s.conns.UpdateTokens(ctx, conn.ID, fresh.AccessToken, fresh.RefreshToken, fresh.ExpiresAt); err != nil {
			return nil, err
		}
		conn.AccessToken = fresh.AccessToken
		conn.RefreshToken = fresh.RefreshToken
		conn.ExpiresAt = fresh.ExpiresAt
	}
	return fresh, nil
}

// Disconnect stops the provider webhook subscription on a best-effort
// basis, then disables the connection. Tokens and webhook fields are
// cleared; the row is retained.
func (s *Service) Disconnect(ctx context.Context, tenantID uuid.UUID, provider domain.ProviderType) error {
	conn, err := s.conns.GetByTenantProvider(ctx, tenantID, provider)
	if err != nil {
		return err
	}

	if adapter, err := s.providers.Create(provider); err == nil {
		if capable, ok := adapter.(out.WebhookCapable); ok && conn.WebhookChannelID != nil {
			tok, err := s.EnsureFreshToken(ctx, conn)
			if err != nil {
				tok = &out.TokenResult{
					AccessToken:  conn.AccessToken,
					RefreshToken: conn.RefreshToken,
					ExpiresAt:    conn.ExpiresAt,
				}
			}
			if err := capable.StopSubscription(ctx, tok, conn); err != nil {
				logger.WithContext(ctx).Warn().Err(err).
					Str("provider", string(provider)).
					Msg("stop webhook subscription on disconnect")
			}
		}
	}

	return s.conns.Disconnect(ctx, tenantID, provider)
}
