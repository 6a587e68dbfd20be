package config

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ReadKey names the nested section that configures the read replica.
const ReadKey = "read"

// DefaultConnectTimeout is applied, in seconds, to any pool section that
// does not set connect_timeout itself.
const DefaultConnectTimeout = 5

// Section is one layer of a pool configuration document. Nested mappings are
// kept as map[string]any, exactly as yaml.v3 decodes them.
type Section map[string]any

// Contains reports whether key is set in this layer.
func (s Section) Contains(key string) bool {
	_, ok := s[key]
	return ok
}

// Focus returns the nested section stored under key, or an empty section.
func (s Section) Focus(key string) Section {
	if sub, ok := asSection(s[key]); ok {
		return sub.clone()
	}
	return Section{}
}

// Without returns a copy of s with key removed.
func (s Section) Without(key string) Section {
	out := s.clone()
	delete(out, key)
	return out
}

// Merge layers over on top of s. Keys present in over win; nested sections
// are merged recursively. Neither input is modified.
func (s Section) Merge(over Section) Section {
	out := s.clone()
	for k, v := range over {
		if sub, ok := asSection(v); ok {
			if cur, ok := asSection(out[k]); ok {
				out[k] = map[string]any(cur.Merge(sub))
				continue
			}
			out[k] = map[string]any(sub.clone())
			continue
		}
		out[k] = v
	}
	return out
}

// Default sets key to v only if the key is absent.
func (s Section) Default(key string, v any) Section {
	out := s.clone()
	if _, ok := out[key]; !ok {
		out[key] = v
	}
	return out
}

// ReadSection builds the effective replica configuration: the "read" layer
// merged over the base layer, with connect_timeout defaulted when neither
// sets it. The boolean is false when no "read" layer exists; a "read" value
// that is not a mapping is an error.
func (s Section) ReadSection() (Section, bool, error) {
	if !s.Contains(ReadKey) {
		return nil, false, nil
	}
	if _, ok := asSection(s[ReadKey]); !ok {
		return nil, false, fmt.Errorf("%s must be a mapping, got %T", ReadKey, s[ReadKey])
	}
	eff := s.Without(ReadKey).Merge(s.Focus(ReadKey))
	return eff.Default("connect_timeout", DefaultConnectTimeout), true, nil
}

// Decode unmarshals the section into out using its yaml tags.
func (s Section) Decode(out any) error {
	data, err := yaml.Marshal(map[string]any(s))
	if err != nil {
		return fmt.Errorf("encode section: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode section: %w", err)
	}
	return nil
}

// String renders the section keys in a stable order with url values elided,
// suitable for logs.
func (s Section) String() string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		switch v := s[k].(type) {
		case map[string]any:
			parts = append(parts, fmt.Sprintf("%s: %s", k, Section(v)))
		default:
			if k == "url" {
				v = "***"
			}
			parts = append(parts, fmt.Sprintf("%s: %v", k, v))
		}
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (s Section) clone() Section {
	out := make(Section, len(s))
	for k, v := range s {
		if sub, ok := asSection(v); ok {
			out[k] = map[string]any(sub.clone())
			continue
		}
		out[k] = v
	}
	return out
}

func asSection(v any) (Section, bool) {
	switch m := v.(type) {
	case Section:
		return m, true
	case map[string]any:
		return Section(m), true
	default:
		return nil, false
	}
}

// PoolConfig is the backend-independent view of a pool section.
type PoolConfig struct {
	Driver         string `yaml:"driver"`
	URL            string `yaml:"url"`
	MinConnections int    `yaml:"min_connections"`
	MaxConnections int    `yaml:"max_connections"`
	ConnectTimeout int    `yaml:"connect_timeout"`
	IdleTimeout    int    `yaml:"idle_timeout"`
	MaxLifetime    int    `yaml:"max_lifetime"`
}

// PoolConfig decodes the section and fills backend defaults.
func (s Section) PoolConfig() (PoolConfig, error) {
	var pc PoolConfig
	if err := s.Decode(&pc); err != nil {
		return pc, err
	}
	if pc.MaxConnections <= 0 {
		pc.MaxConnections = 4 * runtime.GOMAXPROCS(0)
	}
	if pc.ConnectTimeout <= 0 {
		pc.ConnectTimeout = DefaultConnectTimeout
	}
	if pc.URL == "" {
		return pc, fmt.Errorf("pool url cannot be empty")
	}
	if pc.MinConnections > pc.MaxConnections {
		return pc, fmt.Errorf("min_connections (%d) exceeds max_connections (%d)", pc.MinConnections, pc.MaxConnections)
	}
	return pc, nil
}

func (c PoolConfig) ConnectTimeoutDuration() time.Duration {
	return time.Duration(c.ConnectTimeout) * time.Second
}

func (c PoolConfig) IdleTimeoutDuration() time.Duration {
	return time.Duration(c.IdleTimeout) * time.Second
}

func (c PoolConfig) MaxLifetimeDuration() time.Duration {
	return time.Duration(c.MaxLifetime) * time.Second
}
