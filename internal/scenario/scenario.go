// Package scenario holds the fixed role-play prompts, embedded as static
// configuration.
package scenario

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"
)

//go:embed scenarios.yaml
var builtin []byte

// Scenario keys shipped with the service.
const (
	VMwareMigration    = "vmware-migration"
	SituationalFluency = "situational-fluency"
	SMBProspecting     = "smb-prospecting"
)

var errNoDefault = errors.New("scenario: default scenario is not defined")

// Scenario is one role-play setup.
type Scenario struct {
	Key           string `yaml:"-"`
	Title         string `yaml:"title"`
	Prompt        string `yaml:"prompt"`
	FallbackReply string `yaml:"fallback_reply"`
}

// Catalog maps scenario keys to scenarios.
type Catalog struct {
	DefaultKey   string              `yaml:"default"`
	DefaultReply string              `yaml:"default_reply"`
	Scenarios    map[string]Scenario `yaml:"scenarios"`
}

// Parse reads a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("scenario: parse catalog: %w", err)
	}
	for key, s := range c.Scenarios {
		s.Key = key
		s.Prompt = strings.TrimSpace(s.Prompt)
		if s.Prompt == "" {
			return nil, fmt.Errorf("scenario: %q has an empty prompt", key)
		}
		c.Scenarios[key] = s
	}
	if _, ok := c.Scenarios[c.DefaultKey]; !ok {
		return nil, errNoDefault
	}
	return &c, nil
}

// Load parses the embedded catalog.
func Load() (*Catalog, error) {
	return Parse(builtin)
}

// MustLoad is Load for program start-up.
func MustLoad() *Catalog {
	c, err := Load()
	if err != nil {
		panic(err)
	}
	return c
}

// Lookup returns the scenario registered under key.
func (c *Catalog) Lookup(key string) (Scenario, bool) {
	s, ok := c.Scenarios[key]
	return s, ok
}

// Resolve returns the scenario for key, or the default scenario when the key
// is unknown.
func (c *Catalog) Resolve(key string) Scenario {
	if s, ok := c.Scenarios[key]; ok {
		return s
	}
	return c.Scenarios[c.DefaultKey]
}

// FallbackReply returns the canned reply for key. Unknown keys get the
// catalog-wide default reply rather than the default scenario's.
func (c *Catalog) FallbackReply(key string) string {
	if s, ok := c.Scenarios[key]; ok && s.FallbackReply != "" {
		return s.FallbackReply
	}
	return c.DefaultReply
}

// Keys returns the scenario keys in sorted order.
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.Scenarios))
	for k := range c.Scenarios {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
