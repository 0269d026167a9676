// Package registry maps accounts and importer names to importer instances.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rumor-ml/commons.systems/bankimport/internal/domain"
	"github.com/rumor-ml/commons.systems/bankimport/internal/importer"
	"github.com/rumor-ml/commons.systems/bankimport/internal/importer/bankwest"
	"github.com/rumor-ml/commons.systems/bankimport/internal/importer/ing"
	"github.com/rumor-ml/commons.systems/bankimport/internal/importer/ofximport"
	"github.com/rumor-ml/commons.systems/bankimport/internal/store"
)

// Factory builds an importer instance from the store and the account's
// stored configuration.
type Factory func(st store.Store, cfg domain.ImporterConfig) importer.Importer

// Registry holds the importer factories keyed by importer type
type Registry struct {
	store     store.Store
	factories map[domain.ImporterType]Factory
}

// New creates a registry with all built-in importers
func New(st store.Store) *Registry {
	return &Registry{
		store: st,
		factories: map[domain.ImporterType]Factory{
			domain.ImporterTypeIng: func(st store.Store, _ domain.ImporterConfig) importer.Importer {
				return ing.New(st)
			},
			domain.ImporterTypeBankwest: func(st store.Store, cfg domain.ImporterConfig) importer.Importer {
				return bankwest.New(st, cfg.InstitutionAccountID)
			},
			domain.ImporterTypeOFX: func(st store.Store, _ domain.ImporterConfig) importer.Importer {
				return ofximport.New(st)
			},
		},
	}
}

// Register adds or replaces the factory for an importer type
func (r *Registry) Register(t domain.ImporterType, f Factory) {
	r.factories[t] = f
}

// ForAccount builds the importer the account is configured with. An account
// with no stored configuration returns (nil, nil) so the caller can decide
// whether that is an error; an account configured with an unregistered
// importer type is always an error.
func (r *Registry) ForAccount(ctx context.Context, accountID string) (importer.Importer, error) {
	cfg, err := r.store.ImporterConfigs().Get(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load importer config for account %s: %w", accountID, err)
	}

	f, ok := r.factories[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("account %s is configured with unknown importer type %s", accountID, cfg.Type)
	}
	return f(r.store, *cfg), nil
}

// ByName builds an importer by its case-insensitive name, for accounts whose
// configuration is supplied on the command line rather than stored. When the
// account does have a stored configuration its settings are still applied.
func (r *Registry) ByName(ctx context.Context, name, accountID string) (importer.Importer, error) {
	var found domain.ImporterType
	for t := range r.factories {
		if strings.EqualFold(t.String(), name) {
			found = t
			break
		}
	}
	if found == 0 {
		return nil, fmt.Errorf("unknown importer %q, registered: %s", name, strings.Join(r.Names(), ", "))
	}

	cfg, err := r.store.ImporterConfigs().Get(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		cfg = &domain.ImporterConfig{AccountID: accountID, Type: found}
	} else if err != nil {
		return nil, fmt.Errorf("failed to load importer config for account %s: %w", accountID, err)
	}

	return r.factories[found](r.store, *cfg), nil
}

// Names returns the registered importer names in stable order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for t := range r.factories {
		names = append(names, t.String())
	}
	sort.Strings(names)
	return names
}
