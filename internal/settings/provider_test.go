package settings

import (
	"context"
	"errors"
	"testing"
	"time"

	"clubsched/pkg/cache"
	"clubsched/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) LoadSettings(ctx context.Context, sessionID uuid.UUID) (*Record, error) {
	args := m.Called(ctx, sessionID)
	if rec := args.Get(0); rec != nil {
		return rec.(*Record), args.Error(1)
	}
	return nil, args.Error(1)
}

var defaults = Defaults{OfferTTL: 15 * time.Minute, WaitlistEnabled: true}

func TestDefaultsApplyWithoutOverrides(t *testing.T) {
	src := new(mockSource)
	id := uuid.New()
	src.On("LoadSettings", mock.Anything, id).Return(&Record{}, nil)

	p := NewProvider(src, nil, defaults, time.Minute)
	got, err := p.Get(context.Background(), id)

	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, got.OfferTTL)
	assert.True(t, got.WaitlistEnabled)
	assert.Equal(t, id, got.SessionID)
	src.AssertExpectations(t)
}

func TestOverridesWin(t *testing.T) {
	src := new(mockSource)
	id := uuid.New()
	disabled := false
	ttl := 90
	src.On("LoadSettings", mock.Anything, id).Return(&Record{WaitlistEnabled: &disabled, OfferTTLSeconds: &ttl}, nil)

	p := NewProvider(src, nil, defaults, time.Minute)
	got, err := p.Get(context.Background(), id)

	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, got.OfferTTL)
	assert.False(t, got.WaitlistEnabled)
}

func TestCachedUntilInvalidated(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	src := new(mockSource)
	id := uuid.New()
	src.On("LoadSettings", mock.Anything, id).Return(&Record{}, nil).Twice()

	p := NewProvider(src, cache.NewService(client, "clubsched:", logger.Discard()), defaults, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := p.Get(ctx, id)
		require.NoError(t, err)
	}
	src.AssertNumberOfCalls(t, "LoadSettings", 1)

	require.NoError(t, p.Invalidate(ctx, id))
	_, err = p.Get(ctx, id)
	require.NoError(t, err)
	src.AssertNumberOfCalls(t, "LoadSettings", 2)
}

func TestSourceErrorPropagates(t *testing.T) {
	src := new(mockSource)
	id := uuid.New()
	src.On("LoadSettings", mock.Anything, id).Return(nil, errors.New("not found"))

	p := NewProvider(src, nil, defaults, time.Minute)
	_, err := p.Get(context.Background(), id)
	assert.ErrorContains(t, err, "not found")
}

func TestStatic(t *testing.T) {
	s := Static{Settings: SessionSettings{OfferTTL: time.Second, WaitlistEnabled: true}}
	id := uuid.New()

	got, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, got.SessionID)
	assert.Equal(t, time.Second, got.OfferTTL)
}
