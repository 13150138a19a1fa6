package main

import (
	"fmt"

	"github.com/ledgerguard/reconcile/internal/config"
	"github.com/ledgerguard/reconcile/internal/storage"
	"github.com/spf13/viper"
)

// loadConfig assembles process configuration from viper.
func loadConfig() (*config.Config, error) {
	config.SetDefaults(viper.GetViper())
	return config.Load(viper.GetViper())
}

// openStorage opens the SQLite database configured for this process.
func openStorage(cfg *config.Config) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", cfg.DatabasePath, err)
	}
	return store, nil
}
