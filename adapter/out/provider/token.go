package provider

import (
	"context"
	"time"

	"golang.org/x/oauth2"

	"schedsync/core/port/out"
	"schedsync/pkg/apperr"
)

const (
	// tokenRefreshWindow is how much remaining validity triggers a refresh.
	tokenRefreshWindow = 2 * time.Minute
	// requestTimeout bounds every provider network call.
	requestTimeout = 8 * time.Second
)

func toOAuth2Token(tok *out.TokenResult) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       tok.ExpiresAt,
	}
}

// refreshIfNeeded refreshes through the oauth2 config when less than
// tokenRefreshWindow of validity remains and a refresh token exists.
// Otherwise tok passes through unchanged.
func refreshIfNeeded(ctx context.Context, cfg *oauth2.Config, providerName string, tok *out.TokenResult) (*out.TokenResult, error) {
	if tok == nil {
		return nil, apperr.InvalidInput("token", "token is required")
	}
	if tok.RefreshToken == "" || time.Until(tok.ExpiresAt) >= tokenRefreshWindow {
		return tok, nil
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	fresh, err := cfg.TokenSource(ctx, toOAuth2Token(tok)).Token()
	if err != nil {
		return nil, apperr.OAuthFailed(providerName, err)
	}

	result := &out.TokenResult{
		AccessToken:  fresh.AccessToken,
		RefreshToken: fresh.RefreshToken,
		ExpiresAt:    fresh.Expiry,
		Scopes:       tok.Scopes,
	}
	if result.RefreshToken == "" {
		result.RefreshToken = tok.RefreshToken
	}
	return result, nil
}

func exchangeCode(ctx context.Context, cfg *oauth2.Config, providerName, code string) (*out.TokenResult, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, apperr.OAuthFailed(providerName, err)
	}
	return &out.TokenResult{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		Scopes:       cfg.Scopes,
	}, nil
}
