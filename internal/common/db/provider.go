package db

import (
	"context"
	"fmt"
)

// Provider returns the current database instance.
type Provider interface {
	Current() Database
}

// StaticProvider always returns the same database instance.
type StaticProvider struct {
	db Database
}

// NewStaticProvider creates a new StaticProvider.
func NewStaticProvider(database Database) *StaticProvider {
	return &StaticProvider{db: database}
}

// Current returns the configured database instance.
func (p *StaticProvider) Current() Database {
	if p == nil {
		return nil
	}
	return p.db
}

// CurrentDatabase fetches the current database instance from provider.
func CurrentDatabase(provider Provider) (Database, error) {
	if provider == nil {
		return nil, fmt.Errorf("database provider is nil")
	}
	database := provider.Current()
	if database == nil {
		return nil, fmt.Errorf("database is nil")
	}
	return database, nil
}

// WithTx runs fn inside a transaction on the provider's current database.
// When outer is non-nil fn joins it instead of opening a new one.
func WithTx(ctx context.Context, provider Provider, outer Transaction, fn func(tx Transaction) error) error {
	if outer != nil {
		return fn(outer)
	}
	database, err := CurrentDatabase(provider)
	if err != nil {
		return err
	}
	return database.Transaction(ctx, fn)
}
