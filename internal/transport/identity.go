// Package transport implements fingerprint-aware fetching. A transport
// issues exactly one request per call under a named identity profile;
// retries and pacing belong to the governor.
package transport

import (
	"crypto/tls"
	"fmt"
	"sync"

	"github.com/fetchpipe/fetchpipe/internal/pipeline"
)

// Profile is a named client identity: the header and TLS characteristics
// presented to a target server. Callers select profiles by name only; the
// concrete parameters live in configuration.
type Profile struct {
	Name          string            `mapstructure:"name" yaml:"name"`
	UserAgent     string            `mapstructure:"user_agent" yaml:"user_agent"`
	Headers       map[string]string `mapstructure:"headers" yaml:"headers"`
	TLSMinVersion string            `mapstructure:"tls_min_version" yaml:"tls_min_version"`
	TLSMaxVersion string            `mapstructure:"tls_max_version" yaml:"tls_max_version"`
	ForceHTTP2    bool              `mapstructure:"force_http2" yaml:"force_http2"`
}

// Registry holds the pre-registered identity profiles and supports rotation
// in registration order.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	profiles map[string]Profile
}

// NewRegistry builds a Registry from the configured profiles. At least one
// profile is required; the first registered profile is the default.
func NewRegistry(profiles []Profile) (*Registry, error) {
	if len(profiles) == 0 {
		return nil, fmt.Errorf("at least one identity profile is required")
	}
	r := &Registry{profiles: make(map[string]Profile, len(profiles))}
	for _, p := range profiles {
		if p.Name == "" {
			return nil, fmt.Errorf("identity profile name is required")
		}
		if _, dup := r.profiles[p.Name]; dup {
			return nil, fmt.Errorf("duplicate identity profile %q", p.Name)
		}
		if _, err := tlsVersion(p.TLSMinVersion); err != nil {
			return nil, fmt.Errorf("profile %q: %w", p.Name, err)
		}
		if _, err := tlsVersion(p.TLSMaxVersion); err != nil {
			return nil, fmt.Errorf("profile %q: %w", p.Name, err)
		}
		r.profiles[p.Name] = p
		r.order = append(r.order, p.Name)
	}
	return r, nil
}

// Default returns the name of the first registered profile.
func (r *Registry) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.order[0]
}

// Lookup resolves a profile by name. An empty name resolves to the default
// profile; an unknown name is a fatal configuration error.
func (r *Registry) Lookup(name string) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		return r.profiles[r.order[0]], nil
	}
	p, ok := r.profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", pipeline.ErrUnknownProfile, name)
	}
	return p, nil
}

// Next returns the profile following current in registration order,
// wrapping around. Rotation reduces fingerprint correlation across retries.
func (r *Registry) Next(current string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i, name := range r.order {
		if name == current {
			return r.order[(i+1)%len(r.order)]
		}
	}
	return r.order[0]
}

// Len reports how many profiles are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func tlsVersion(name string) (uint16, error) {
	switch name {
	case "":
		return 0, nil
	case "1.0":
		return tls.VersionTLS10, nil
	case "1.1":
		return tls.VersionTLS11, nil
	case "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unsupported tls version %q", name)
	}
}
