// Package settings supplies the SLA policy snapshot in force right now.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/support-portal/internal/domain"
	"github.com/spec-kit/support-portal/internal/sla"
)

// Key is the Redis hash holding operator overrides.
const Key = "support:sla:settings"

const (
	fieldPeakMode       = "peak_mode"
	fieldMultiplier     = "multiplier"
	fieldMaxOpenTickets = "max_open_tickets"
)

// Static always returns the same policy.
type Static struct {
	policy sla.Policy
}

// NewStatic wraps a fixed policy.
func NewStatic(policy sla.Policy) *Static {
	return &Static{policy: policy}
}

// Get returns a copy of the configured policy.
func (s *Static) Get(context.Context) (sla.Policy, error) {
	return clonePolicy(s.policy), nil
}

type hashStore interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// RedisSource overlays operator toggles stored in Redis on the static policy.
// Redis failures fall back to the static policy so ticket operations never
// block on settings.
type RedisSource struct {
	store  hashStore
	base   sla.Policy
	logger *zap.Logger
}

// NewRedisSource builds a source over a go-redis client.
func NewRedisSource(client hashStore, base sla.Policy, logger *zap.Logger) *RedisSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSource{store: client, base: base, logger: logger}
}

// Get reads the overrides and merges them into the base policy.
func (s *RedisSource) Get(ctx context.Context) (sla.Policy, error) {
	policy := clonePolicy(s.base)
	values, err := s.store.HGetAll(ctx, Key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("sla settings unavailable, using static policy", zap.Error(err))
		}
		return policy, nil
	}
	if raw, ok := values[fieldPeakMode]; ok {
		if v, err := strconv.ParseBool(raw); err == nil {
			policy.PeakModeActive = v
		}
	}
	if raw, ok := values[fieldMultiplier]; ok {
		if v, err := strconv.Atoi(raw); err == nil && v >= 1 {
			policy.PeakModeMultiplier = v
		}
	}
	if raw, ok := values[fieldMaxOpenTickets]; ok {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			policy.MaxOpenTickets = v
		}
	}
	return policy, nil
}

// SetPeakMode stores the operator's peak-mode toggle.
func (s *RedisSource) SetPeakMode(ctx context.Context, active bool) error {
	if err := s.store.HSet(ctx, Key, fieldPeakMode, strconv.FormatBool(active)).Err(); err != nil {
		return fmt.Errorf("settings: set peak mode: %w", err)
	}
	s.logger.Info("peak mode changed", zap.Bool("active", active))
	return nil
}

func clonePolicy(p sla.Policy) sla.Policy {
	windows := make(map[domain.TicketPriority]time.Duration, len(p.BaseWindows))
	for k, v := range p.BaseWindows {
		windows[k] = v
	}
	p.BaseWindows = windows
	return p
}
