// Package settings supplies the per-session knobs the engine reads but never
// writes: the offer TTL and whether the waitlist is enabled.
package settings

import (
	"context"
	"fmt"
	"time"

	"clubsched/pkg/cache"

	"github.com/google/uuid"
)

// SessionSettings is the resolved configuration for one session.
type SessionSettings struct {
	SessionID       uuid.UUID     `json:"session_id"`
	OfferTTL        time.Duration `json:"offer_ttl"`
	WaitlistEnabled bool          `json:"waitlist_enabled"`
}

// Record is what a Source stores; nil fields fall back to Defaults.
type Record struct {
	WaitlistEnabled *bool
	OfferTTLSeconds *int
}

// Source loads stored settings (defined here to avoid import cycles)
type Source interface {
	LoadSettings(ctx context.Context, sessionID uuid.UUID) (*Record, error)
}

// Defaults apply when a session carries no override.
type Defaults struct {
	OfferTTL        time.Duration
	WaitlistEnabled bool
}

// Provider resolves settings for a session.
type Provider interface {
	Get(ctx context.Context, sessionID uuid.UUID) (*SessionSettings, error)
	Invalidate(ctx context.Context, sessionID uuid.UUID) error
}

type provider struct {
	source   Source
	cache    cache.Service
	defaults Defaults
	ttl      time.Duration
}

// NewProvider creates a cache-aside settings provider. A nil cache disables caching.
func NewProvider(source Source, cacheService cache.Service, defaults Defaults, cacheTTL time.Duration) Provider {
	if cacheService == nil {
		cacheService = cache.NewNoopService()
	}
	return &provider{
		source:   source,
		cache:    cacheService,
		defaults: defaults,
		ttl:      cacheTTL,
	}
}

func cacheKey(sessionID uuid.UUID) string {
	return "settings:session:" + sessionID.String()
}

func (p *provider) Get(ctx context.Context, sessionID uuid.UUID) (*SessionSettings, error) {
	var resolved SessionSettings
	err := p.cache.GetOrSet(ctx, cacheKey(sessionID), p.ttl, func() (interface{}, error) {
		record, err := p.source.LoadSettings(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		return p.resolve(sessionID, record), nil
	}, &resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings for session %s: %w", sessionID, err)
	}

	return &resolved, nil
}

func (p *provider) Invalidate(ctx context.Context, sessionID uuid.UUID) error {
	return p.cache.Delete(ctx, cacheKey(sessionID))
}

func (p *provider) resolve(sessionID uuid.UUID, record *Record) *SessionSettings {
	out := &SessionSettings{
		SessionID:       sessionID,
		OfferTTL:        p.defaults.OfferTTL,
		WaitlistEnabled: p.defaults.WaitlistEnabled,
	}
	if record == nil {
		return out
	}
	if record.WaitlistEnabled != nil {
		out.WaitlistEnabled = *record.WaitlistEnabled
	}
	if record.OfferTTLSeconds != nil && *record.OfferTTLSeconds > 0 {
		out.OfferTTL = time.Duration(*record.OfferTTLSeconds) * time.Second
	}
	return out
}

// Static returns the same settings for every session. Handy for tools and tests.
type Static struct {
	Settings SessionSettings
}

func (s Static) Get(ctx context.Context, sessionID uuid.UUID) (*SessionSettings, error) {
	out := s.Settings
	out.SessionID = sessionID
	return &out, nil
}

func (Static) Invalidate(ctx context.Context, sessionID uuid.UUID) error { return nil }
