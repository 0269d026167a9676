// Package config loads the YAML account bindings file that associates
// accounts with importers.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rumor-ml/commons.systems/bankimport/internal/domain"
	"github.com/rumor-ml/commons.systems/bankimport/internal/store"
)

// Binding associates one account with an importer.
//
// InstitutionAccount is the bank-side account number; only the Bankwest
// importer needs it, to filter multi-account exports.
type Binding struct {
	Account            string `yaml:"account"`
	Importer           string `yaml:"importer"`
	InstitutionAccount string `yaml:"institutionAccount,omitempty"`
}

// Bindings is the parsed bindings file
type Bindings struct {
	Accounts []Binding `yaml:"accounts"`
}

var importerTypesByName = map[string]domain.ImporterType{
	"ing":      domain.ImporterTypeIng,
	"bankwest": domain.ImporterTypeBankwest,
	"ofx":      domain.ImporterTypeOFX,
}

// LoadFile reads and validates a bindings file
func LoadFile(path string) (*Bindings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bindings file: %w", err)
	}
	return Load(raw)
}

// Load parses and validates bindings YAML
func Load(raw []byte) (*Bindings, error) {
	var b Bindings
	if err := yaml.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("failed to parse bindings: %w", err)
	}
	if err := b.validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

func (b *Bindings) validate() error {
	seen := make(map[string]bool, len(b.Accounts))
	for i, binding := range b.Accounts {
		if binding.Account == "" {
			return fmt.Errorf("binding %d: account cannot be empty", i)
		}
		if seen[binding.Account] {
			return fmt.Errorf("binding %d: duplicate account %q", i, binding.Account)
		}
		seen[binding.Account] = true

		t, ok := importerTypesByName[strings.ToLower(binding.Importer)]
		if !ok {
			return fmt.Errorf("binding %d: unknown importer %q for account %s", i, binding.Importer, binding.Account)
		}
		if t == domain.ImporterTypeBankwest && binding.InstitutionAccount == "" {
			return fmt.Errorf("binding %d: the Bankwest importer requires institutionAccount for account %s", i, binding.Account)
		}
	}
	return nil
}

// Configs converts the bindings to validated importer configurations
func (b *Bindings) Configs() ([]domain.ImporterConfig, error) {
	out := make([]domain.ImporterConfig, 0, len(b.Accounts))
	for _, binding := range b.Accounts {
		cfg, err := domain.NewImporterConfig(
			binding.Account,
			importerTypesByName[strings.ToLower(binding.Importer)],
			binding.InstitutionAccount,
		)
		if err != nil {
			return nil, fmt.Errorf("invalid binding for account %s: %w", binding.Account, err)
		}
		out = append(out, *cfg)
	}
	return out, nil
}

// Apply writes every binding to the importer configuration store. The caller
// owns the surrounding SaveChanges.
func (b *Bindings) Apply(ctx context.Context, cfgs store.ImporterConfigStore) error {
	configs, err := b.Configs()
	if err != nil {
		return err
	}
	for _, cfg := range configs {
		if err := cfgs.Put(ctx, cfg); err != nil {
			return fmt.Errorf("failed to store binding for account %s: %w", cfg.AccountID, err)
		}
	}
	return nil
}
