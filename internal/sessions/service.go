package sessions

import (
	"context"
	"fmt"

	"clubsched/internal/settings"
	"clubsched/pkg/logger"

	"github.com/google/uuid"
)

// Service exposes session administration on top of the ledger.
type Service interface {
	CreateSession(ctx context.Context, req CreateSessionRequest) (*SessionResponse, error)
	GetSession(ctx context.Context, id uuid.UUID) (*SessionResponse, error)
	ListSessions(ctx context.Context, limit, offset int) ([]SessionResponse, error)
	SetCapacity(ctx context.Context, id uuid.UUID, capacity int) (*SessionResponse, error)
	UpdateSettings(ctx context.Context, id uuid.UUID, req UpdateSettingsRequest) (*SessionResponse, error)
}

// ServiceConfig contains configuration for the session service
type ServiceConfig struct {
	WaitlistEnabledDefault bool
}

type service struct {
	repo     Repository
	ledger   *Ledger
	settings settings.Provider
	config   ServiceConfig
	logger   *logger.Logger
}

// NewService creates a new session service
func NewService(repo Repository, ledger *Ledger, provider settings.Provider, config ServiceConfig, log *logger.Logger) Service {
	if log == nil {
		log = logger.GetDefault()
	}
	return &service{
		repo:     repo,
		ledger:   ledger,
		settings: provider,
		config:   config,
		logger:   log.WithComponent("sessions"),
	}
}

func (s *service) CreateSession(ctx context.Context, req CreateSessionRequest) (*SessionResponse, error) {
	enabled := s.config.WaitlistEnabledDefault
	if req.WaitlistEnabled != nil {
		enabled = *req.WaitlistEnabled
	}

	session := &Session{
		TenantID:        req.TenantID,
		Name:            req.Name,
		StartsAt:        req.StartsAt,
		Capacity:        req.Capacity,
		WaitlistEnabled: enabled,
		OfferTTLSeconds: req.OfferTTLSeconds,
	}
	if err := s.ledger.Create(ctx, session); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "session created",
		"session_id", session.ID.String(),
		"tenant_id", session.TenantID.String(),
		"capacity", session.Capacity,
	)
	return session.ToResponse(), nil
}

func (s *service) GetSession(ctx context.Context, id uuid.UUID) (*SessionResponse, error) {
	session, err := s.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return session.ToResponse(), nil
}

func (s *service) ListSessions(ctx context.Context, limit, offset int) ([]SessionResponse, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	list, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}

	out := make([]SessionResponse, 0, len(list))
	for i := range list {
		out = append(out, *list[i].ToResponse())
	}
	return out, nil
}

// SetCapacity must not run under any engine lock: growth emits free-seat
// events that promote waitlisted participants synchronously.
func (s *service) SetCapacity(ctx context.Context, id uuid.UUID, capacity int) (*SessionResponse, error) {
	session, err := s.ledger.SetCapacity(ctx, id, capacity)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "session capacity changed",
		"session_id", id.String(),
		"capacity", session.Capacity,
	)

	// Reread so the response reflects offers made by the cascade.
	current, err := s.ledger.Get(ctx, id)
	if err != nil {
		return session.ToResponse(), nil
	}
	return current.ToResponse(), nil
}

func (s *service) UpdateSettings(ctx context.Context, id uuid.UUID, req UpdateSettingsRequest) (*SessionResponse, error) {
	if err := s.repo.UpdateSettings(ctx, id, req.WaitlistEnabled, req.OfferTTLSeconds); err != nil {
		return nil, err
	}
	if err := s.settings.Invalidate(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "failed to invalidate cached settings",
			"session_id", id.String(),
			"error", err.Error(),
		)
	}
	return s.GetSession(ctx, id)
}

// SettingsSource adapts the session repository to settings.Source.
type SettingsSource struct {
	repo Repository
}

// NewSettingsSource creates a settings source backed by stored sessions
func NewSettingsSource(repo Repository) *SettingsSource {
	return &SettingsSource{repo: repo}
}

func (s *SettingsSource) LoadSettings(ctx context.Context, sessionID uuid.UUID) (*settings.Record, error) {
	session, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	enabled := session.WaitlistEnabled
	return &settings.Record{
		WaitlistEnabled: &enabled,
		OfferTTLSeconds: session.OfferTTLSeconds,
	}, nil
}
