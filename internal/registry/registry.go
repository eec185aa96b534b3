package registry

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrNotFound = errors.New("worker spec not found")

// WorkerSpec is the immutable catalog entry for one worker type. Specs are
// loaded once at startup; a config reload replaces the whole catalog via
// Swap, never edits entries in place.
type WorkerSpec struct {
	Name           string
	Capabilities   []string
	Priority       int
	MaxConcurrency int
	Lane           string
	Timeout        time.Duration
}

// HasAnyCapability reports whether the spec matches any requested capability.
func (s WorkerSpec) HasAnyCapability(capabilities []string) bool {
	for _, want := range capabilities {
		for _, have := range s.Capabilities {
			if want == have {
				return true
			}
		}
	}
	return false
}

type Registry struct {
	mu    sync.RWMutex
	specs map[string]WorkerSpec
}

func New(specs []WorkerSpec) (*Registry, error) {
	r := &Registry{}
	if err := r.Swap(specs); err != nil {
		return nil, err
	}
	return r, nil
}

// Load reads the worker catalog from a YAML file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read worker catalog: %w", err)
	}
	specs, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return New(specs)
}

type specYAML struct {
	Capabilities   []string `yaml:"capabilities"`
	Priority       int      `yaml:"priority"`
	MaxConcurrency int      `yaml:"max_concurrency"`
	Lane           string   `yaml:"lane"`
	Timeout        string   `yaml:"timeout"`
}

type catalogYAML struct {
	Workers map[string]specYAML `yaml:"workers"`
}

func Parse(data []byte) ([]WorkerSpec, error) {
	var doc catalogYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse worker catalog: %w", err)
	}
	specs := make([]WorkerSpec, 0, len(doc.Workers))
	for name, raw := range doc.Workers {
		spec := WorkerSpec{
			Name:           name,
			Capabilities:   raw.Capabilities,
			Priority:       raw.Priority,
			MaxConcurrency: raw.MaxConcurrency,
			Lane:           raw.Lane,
		}
		if spec.Priority == 0 {
			spec.Priority = 5
		}
		if spec.MaxConcurrency == 0 {
			spec.MaxConcurrency = 1
		}
		if spec.Lane == "" {
			spec.Lane = "general"
		}
		if raw.Timeout != "" {
			d, err := time.ParseDuration(raw.Timeout)
			if err != nil {
				return nil, fmt.Errorf("worker %s: invalid timeout %q: %w", name, raw.Timeout, err)
			}
			spec.Timeout = d
		}
		if spec.Timeout <= 0 {
			spec.Timeout = 10 * time.Second
		}
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs, nil
}

func (r *Registry) Get(name string) (WorkerSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[name]
	if !ok {
		return WorkerSpec{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return spec, nil
}

func (r *Registry) All() []WorkerSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]WorkerSpec, 0, len(r.specs))
	for _, spec := range r.specs {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Swap validates and atomically replaces the catalog. Readers never observe
// a partially-updated set.
func (r *Registry) Swap(specs []WorkerSpec) error {
	next := make(map[string]WorkerSpec, len(specs))
	for _, spec := range specs {
		if spec.Name == "" {
			return errors.New("worker spec with empty name")
		}
		if spec.MaxConcurrency <= 0 {
			return fmt.Errorf("worker %s: max_concurrency must be positive", spec.Name)
		}
		if spec.Timeout <= 0 {
			return fmt.Errorf("worker %s: timeout must be positive", spec.Name)
		}
		if _, dup := next[spec.Name]; dup {
			return fmt.Errorf("worker %s: duplicate spec", spec.Name)
		}
		next[spec.Name] = spec
	}
	r.mu.Lock()
	r.specs = next
	r.mu.Unlock()
	return nil
}
