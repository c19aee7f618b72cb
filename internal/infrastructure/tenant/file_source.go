package tenant

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/AtRiskMedia/intervene/internal/domain/intervention"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/logging"
)

type policyDocument struct {
	Tenants []intervention.TenantPolicy `yaml:"tenants"`
}

// FileSource serves policies from a YAML document of the form
//
//	tenants:
//	  - tenantId: acme
//	    tier: team
//	    rules: [...]
type FileSource struct {
	path   string
	logger *logging.ChanneledLogger

	mu       sync.RWMutex
	policies map[string]intervention.TenantPolicy
}

// NewFileSource reads path once. Use Reload (or a Watcher) to pick up edits.
func NewFileSource(path string, logger *logging.ChanneledLogger) (*FileSource, error) {
	s := &FileSource{path: path, logger: logger}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// ParsePolicies decodes a YAML policy document.
func ParsePolicies(data []byte) ([]intervention.TenantPolicy, error) {
	var doc policyDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse policy document: %w", err)
	}
	seen := make(map[string]bool, len(doc.Tenants))
	for _, p := range doc.Tenants {
		if p.TenantID == "" {
			return nil, fmt.Errorf("policy document: tenant without tenantId")
		}
		if seen[p.TenantID] {
			return nil, fmt.Errorf("policy document: duplicate tenant %q", p.TenantID)
		}
		seen[p.TenantID] = true
	}
	return doc.Tenants, nil
}

// Reload re-reads the file. A file that fails to parse leaves the previous
// policies in place.
func (s *FileSource) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}
	tenants, err := ParsePolicies(data)
	if err != nil {
		return err
	}
	next := make(map[string]intervention.TenantPolicy, len(tenants))
	for _, p := range tenants {
		next[p.TenantID] = p
	}

	s.mu.Lock()
	s.policies = next
	s.mu.Unlock()
	s.logger.Tenant().Info("Policy file loaded", "path", s.path, "tenants", len(next))
	return nil
}

// LoadPolicy implements Source.
func (s *FileSource) LoadPolicy(_ context.Context, tenantID string) (*intervention.TenantPolicy, error) {
	s.mu.RLock()
	p, ok := s.policies[tenantID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownTenant
	}
	return &p, nil
}

// TenantIDs lists the tenants in the file.
func (s *FileSource) TenantIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.policies))
	for id := range s.policies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Path returns the watched file.
func (s *FileSource) Path() string { return s.path }
