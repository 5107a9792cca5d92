package boop

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
	"github.com/hamba/pkg/v2/errors"
	"gitlab.com/sickit/bag-operator/pkg/bag"
)

const (
	ErrMissingBagDefinition = errors.Error("missing data bag definition")
	ErrMissingTemplate      = errors.Error("missing data bag template")
	ErrInvalidBagName       = errors.Error("invalid data bag name")
)

// DefaultPath is the config file used when CONFIG is unset.
const DefaultPath = "./config.yaml"

// Config maps data bag names to their settings.
type Config map[string]*bag.Config

// Load reads, decodes, defaults and validates the config file at path.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.SetDefaults()
	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return cfg, nil
}

// Parse decodes a config document.
func Parse(b []byte) (Config, error) {
	cfg := Config{}
	validate := validator.New()
	dec := yaml.NewDecoder(
		bytes.NewReader(b),
		yaml.Validator(validate),
		yaml.Strict(),
	)
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetDefaults names every data bag and fills its optional settings.
func (c Config) SetDefaults() {
	for name, bg := range c {
		if bg == nil {
			continue
		}
		bg.Name = name
		bg.SetDefaults()
	}
}

// Validate checks logical/structural requirements that can't be validated with go-yaml.
func (c Config) Validate() error {
	if len(c) == 0 {
		return ErrMissingBagDefinition
	}

	for name, bg := range c {
		if name == "" || strings.ContainsAny(name, "/ \t") || strings.HasPrefix(name, "-") {
			return fmt.Errorf("data bag '%s': %w", name, ErrInvalidBagName)
		}
		if bg == nil || len(bg.DataBag) == 0 {
			return fmt.Errorf("invalid config for data bag '%s': %w", name, ErrMissingTemplate)
		}
	}

	return nil
}

// Names returns the configured data bag names, sorted.
func (c Config) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
