package provider

import (
	"sync"

	"schedsync/core/domain"
	"schedsync/core/port/out"
)

// Config holds the OAuth client registrations for every supported
// provider.
type Config struct {
	Google    GoogleConfig
	Microsoft MicrosoftConfig
}

// Factory resolves a provider tag to its adapter. Adapters are built once
// and shared; they are stateless beyond their HTTP clients.
type Factory struct {
	cfg  Config
	mu   sync.Mutex
	pool map[domain.ProviderType]out.CalendarProviderPort
}

func NewFactory(cfg Config) *Factory {
	return &Factory{
		cfg:  cfg,
		pool: make(map[domain.ProviderType]out.CalendarProviderPort),
	}
}

func (f *Factory) Create(provider domain.ProviderType) (out.CalendarProviderPort, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if adapter, ok := f.pool[provider]; ok {
		return adapter, nil
	}

	var adapter out.CalendarProviderPort
	switch provider {
	case domain.ProviderGoogle:
		adapter = NewGoogleAdapter(f.cfg.Google)
	case domain.ProviderMicrosoft:
		adapter = NewMicrosoftAdapter(f.cfg.Microsoft)
	default:
		adapter = newUnsupportedAdapter(provider)
	}
	f.pool[provider] = adapter
	return adapter, nil
}

var _ out.ProviderFactory = (*Factory)(nil)
