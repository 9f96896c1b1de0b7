package searchparam

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const providerCacheSize = 256

// Provider hands out the registry snapshot for a tenant. Tenants without an
// extension file in dir share the base snapshot. Loaded snapshots are cached
// for ttl, so edited files take effect without a restart.
type Provider struct {
	base  *Registry
	dir   string
	cache *lru.LRU[string, *Registry]
}

// NewProvider returns a provider over base. dir may be empty.
func NewProvider(base *Registry, dir string, ttl time.Duration) *Provider {
	return &Provider{
		base:  base,
		dir:   dir,
		cache: lru.NewLRU[string, *Registry](providerCacheSize, nil, ttl),
	}
}

// Base returns the snapshot shared by tenants without extensions.
func (p *Provider) Base() *Registry {
	return p.base
}

// ForTenant returns the registry for tenant.
func (p *Provider) ForTenant(tenant string) (*Registry, error) {
	if p.dir == "" || tenant == "" {
		return p.base, nil
	}
	if reg, ok := p.cache.Get(tenant); ok {
		return reg, nil
	}
	path := filepath.Join(p.dir, tenant+".yaml")
	reg, err := LoadFile(p.base, path)
	if errors.Is(err, fs.ErrNotExist) {
		reg = p.base
	} else if err != nil {
		return nil, fmt.Errorf("tenant %s: %w", tenant, err)
	}
	p.cache.Add(tenant, reg)
	return reg, nil
}

// Purge drops every cached snapshot.
func (p *Provider) Purge() {
	p.cache.Purge()
}
