// Package tenant resolves tenant policy: rules, channels, tier and webhook
// endpoints. Policies come from a Source (database tables or a YAML file) and
// are served through a read-through TTL cache.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/AtRiskMedia/intervene/internal/domain/intervention"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/logging"
)

// ErrUnknownTenant is returned when no source knows the tenant.
var ErrUnknownTenant = intervention.ErrUnknownTenant

// Source loads one tenant's policy. Implementations return ErrUnknownTenant
// for tenants they do not hold.
type Source interface {
	LoadPolicy(ctx context.Context, tenantID string) (*intervention.TenantPolicy, error)
}

// Store implements intervention.PolicyStore. Concurrent misses for the same
// tenant share one source load. Returned policies are shared and must not be
// mutated.
type Store struct {
	source Source
	cache  *expirable.LRU[string, *intervention.TenantPolicy]
	group  singleflight.Group
	logger *logging.ChanneledLogger
}

// NewStore wraps source with a cache of at most size tenants, each entry
// living for ttl.
func NewStore(source Source, size int, ttl time.Duration, logger *logging.ChanneledLogger) *Store {
	return &Store{
		source: source,
		cache:  expirable.NewLRU[string, *intervention.TenantPolicy](size, nil, ttl),
		logger: logger,
	}
}

// Policy returns the tenant's prepared policy.
func (s *Store) Policy(ctx context.Context, tenantID string) (*intervention.TenantPolicy, error) {
	if tenantID == "" {
		return nil, ErrUnknownTenant
	}
	if p, ok := s.cache.Get(tenantID); ok {
		return p, nil
	}

	v, err, shared := s.group.Do(tenantID, func() (any, error) {
		if p, ok := s.cache.Get(tenantID); ok {
			return p, nil
		}
		raw, err := s.source.LoadPolicy(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		p := Prepare(raw, s.logger)
		s.cache.Add(tenantID, p)
		return p, nil
	})
	if err != nil {
		if errors.Is(err, ErrUnknownTenant) {
			return nil, err
		}
		s.logger.Tenant().Error("Policy load failed", "tenantId", tenantID, "error", err)
		return nil, fmt.Errorf("load policy for %s: %w", tenantID, err)
	}
	if !shared {
		s.logger.Tenant().Debug("Policy loaded", "tenantId", tenantID)
	}
	return v.(*intervention.TenantPolicy), nil
}

// Invalidate drops one tenant from the cache.
func (s *Store) Invalidate(tenantID string) {
	s.cache.Remove(tenantID)
}

// Purge drops every cached policy.
func (s *Store) Purge() {
	s.cache.Purge()
}

// Cached returns the number of cached tenants.
func (s *Store) Cached() int {
	return s.cache.Len()
}
