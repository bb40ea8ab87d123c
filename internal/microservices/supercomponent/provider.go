package supercomponent

import (
	"sync"

	"opendavinci/internal/data"
	"opendavinci/internal/keyvalue"
)

// GlobalPrefix marks keys handed to every module.
const GlobalPrefix = "global."

// ConfigProvider selects the part of the supercomponent configuration a
// module receives: every global.* key, every <name>.* key, and every
// <name>:<identifier>.* key, the more specific prefix winning on conflicts.
type ConfigProvider struct {
	mu     sync.RWMutex
	config keyvalue.Configuration
}

// NewConfigProvider serves cfg.
func NewConfigProvider(cfg keyvalue.Configuration) *ConfigProvider {
	return &ConfigProvider{config: cfg}
}

// ConfigurationFor implements tcp.ConfigProvider.
func (p *ConfigProvider) ConfigurationFor(desc data.ModuleDescriptor) keyvalue.Configuration {
	p.mu.RLock()
	cfg := p.config
	p.mu.RUnlock()

	out := cfg.SubsetFor(GlobalPrefix).Merge(cfg.SubsetFor(desc.Name + "."))
	if desc.Identifier != "" {
		out = out.Merge(cfg.SubsetFor(desc.Key() + "."))
	}
	return out
}

// Replace swaps the served configuration. Modules already configured keep
// the snapshot they received.
func (p *ConfigProvider) Replace(cfg keyvalue.Configuration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.config = cfg
}

// Configuration returns the full served configuration
func (p *ConfigProvider) Configuration() keyvalue.Configuration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.config
}
