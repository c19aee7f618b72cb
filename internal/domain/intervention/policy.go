package intervention

import (
	"context"
	"errors"
)

// Tier is a tenant's plan level. Tiers gate which channels a tenant may use.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierTeam       Tier = "team"
	TierEnterprise Tier = "enterprise"
)

var tierChannels = map[Tier][]Channel{
	TierFree:       {ChannelPush},
	TierPro:        {ChannelPush},
	TierTeam:       {ChannelPush, ChannelWebhook},
	TierEnterprise: {ChannelPush, ChannelWebhook},
}

// Normalize maps unknown tiers to TierFree.
func (t Tier) Normalize() Tier {
	if _, ok := tierChannels[t]; ok {
		return t
	}
	return TierFree
}

// Entitles reports whether the tier includes channel c.
func (t Tier) Entitles(c Channel) bool {
	for _, ch := range tierChannels[t.Normalize()] {
		if ch == c {
			return true
		}
	}
	return false
}

// TenantPolicy is everything the core needs to know about a tenant.
type TenantPolicy struct {
	TenantID        string            `json:"tenantId" yaml:"tenantId"`
	Tier            Tier              `json:"tier" yaml:"tier"`
	EnabledChannels []Channel         `json:"enabledChannels" yaml:"enabledChannels"`
	AlertEmail      string            `json:"alertEmail,omitempty" yaml:"alertEmail"`
	Rules           []Rule            `json:"rules" yaml:"rules"`
	Endpoints       []WebhookEndpoint `json:"endpoints" yaml:"endpoints"`
}

// ChannelEnabled reports whether the tenant both turned the channel on and
// is entitled to it by tier.
func (p *TenantPolicy) ChannelEnabled(c Channel) bool {
	if p == nil || !p.Tier.Entitles(c) {
		return false
	}
	for _, ch := range p.EnabledChannels {
		if ch == c {
			return true
		}
	}
	return false
}

// Permits reports whether every channel the action needs is enabled.
func (p *TenantPolicy) Permits(a Action) bool {
	channels := a.Channels()
	if len(channels) == 0 {
		return false
	}
	for _, c := range channels {
		if !p.ChannelEnabled(c) {
			return false
		}
	}
	return true
}

// ErrUnknownTenant is returned when no policy exists for a tenant id.
var ErrUnknownTenant = errors.New("unknown tenant")

// PolicyStore resolves tenant policy. Implementations may cache.
type PolicyStore interface {
	Policy(ctx context.Context, tenantID string) (*TenantPolicy, error)
}
