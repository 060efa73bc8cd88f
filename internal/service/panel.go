package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"checkout-ledger/internal/model"
	"checkout-ledger/internal/repository"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const servicePanelKey = "service_panel"

// ServiceDefinition is one retailer/service entry of the service panel.
// SubmissionLimit 0 means unlimited. A disabled service keeps its existing
// subscriptions but accepts no new ones.
type ServiceDefinition struct {
	Name            string `json:"name" yaml:"name"`
	Type            string `json:"type" yaml:"type"`
	SubmissionLimit int    `json:"submission_limit" yaml:"submission_limit"`
	Disabled        bool   `json:"disabled" yaml:"disabled"`
}

func (d ServiceDefinition) validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrUnknownService)
	}
	if d.Type != model.ServiceTypeLoginRequired && d.Type != model.ServiceTypeNoLogin {
		return fmt.Errorf("%w: %q", ErrInvalidServiceType, d.Type)
	}
	if d.SubmissionLimit < 0 {
		return fmt.Errorf("%w: negative submission limit", ErrInvalidSubmission)
	}
	return nil
}

// ServicePanel is the admin-managed service catalogue. It is persisted as
// one JSON setting and cached in memory, so limit checks inside write
// transactions never read the settings table.
type ServicePanel struct {
	settings repository.SettingRepository

	mu       sync.RWMutex
	services map[string]ServiceDefinition
}

func NewServicePanel(settings repository.SettingRepository) *ServicePanel {
	return &ServicePanel{
		settings: settings,
		services: make(map[string]ServiceDefinition),
	}
}

// LoadServiceDefinitions reads a YAML seed file of the form
//
//	services:
//	  - name: target
//	    type: no_login
//	    submission_limit: 2
func LoadServiceDefinitions(path string) ([]ServiceDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read service panel file: %w", err)
	}

	var file struct {
		Services []ServiceDefinition `yaml:"services"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse service panel file: %w", err)
	}

	for _, def := range file.Services {
		if err := def.validate(); err != nil {
			return nil, fmt.Errorf("service %q: %w", def.Name, err)
		}
	}

	return file.Services, nil
}

// Init stores seed as the panel if none is persisted yet, then loads the
// persisted panel into memory.
func (p *ServicePanel) Init(ctx context.Context, seed []ServiceDefinition) error {
	if len(seed) > 0 {
		encoded, err := json.Marshal(seed)
		if err != nil {
			return fmt.Errorf("encode service panel: %w", err)
		}
		created, err := p.settings.CreateIfAbsent(ctx, servicePanelKey, string(encoded))
		if err != nil {
			return fmt.Errorf("seed service panel: %w", err)
		}
		if created {
			log.Info().Int("services", len(seed)).Msg("service panel seeded")
		}
	}

	return p.Reload(ctx)
}

func (p *ServicePanel) Reload(ctx context.Context) error {
	value, ok, err := p.settings.Get(ctx, servicePanelKey)
	if err != nil {
		return fmt.Errorf("read service panel: %w", err)
	}

	var defs []ServiceDefinition
	if ok {
		if err := json.Unmarshal([]byte(value), &defs); err != nil {
			return fmt.Errorf("decode service panel: %w", err)
		}
	}

	services := make(map[string]ServiceDefinition, len(defs))
	for _, def := range defs {
		services[panelKey(def.Name)] = def
	}

	p.mu.Lock()
	p.services = services
	p.mu.Unlock()
	return nil
}

// Lookup finds a service by name, ignoring case and surrounding space.
func (p *ServicePanel) Lookup(name string) (ServiceDefinition, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	def, ok := p.services[panelKey(name)]
	return def, ok
}

// MatchRetailer maps a bot's retailer string onto a service.
func (p *ServicePanel) MatchRetailer(retailer string) (ServiceDefinition, bool) {
	if def, ok := p.Lookup(retailer); ok {
		return def, true
	}
	// bots sometimes send "Target US" or "target.com"
	key := panelKey(retailer)
	p.mu.RLock()
	defer p.mu.RUnlock()
	for name, def := range p.services {
		if strings.HasPrefix(key, name+" ") || strings.HasPrefix(key, name+".") {
			return def, true
		}
	}
	return ServiceDefinition{}, false
}

// Limit returns the submission limit for a service; 0 is unlimited.
func (p *ServicePanel) Limit(name string) int {
	def, _ := p.Lookup(name)
	return def.SubmissionLimit
}

func (p *ServicePanel) List() []ServiceDefinition {
	p.mu.RLock()
	defs := make([]ServiceDefinition, 0, len(p.services))
	for _, def := range p.services {
		defs = append(defs, def)
	}
	p.mu.RUnlock()

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Upsert adds or replaces one definition and persists the whole panel.
func (p *ServicePanel) Upsert(ctx context.Context, def ServiceDefinition) error {
	def.Name = strings.TrimSpace(def.Name)
	if err := def.validate(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	next := make(map[string]ServiceDefinition, len(p.services)+1)
	for k, v := range p.services {
		next[k] = v
	}
	next[panelKey(def.Name)] = def

	defs := make([]ServiceDefinition, 0, len(next))
	for _, v := range next {
		defs = append(defs, v)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })

	encoded, err := json.Marshal(defs)
	if err != nil {
		return fmt.Errorf("encode service panel: %w", err)
	}
	if err := p.settings.Upsert(ctx, servicePanelKey, string(encoded)); err != nil {
		return fmt.Errorf("save service panel: %w", err)
	}

	p.services = next
	return nil
}

func panelKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
