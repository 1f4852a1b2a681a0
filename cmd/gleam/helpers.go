package main

import (
	"fmt"

	gleam "github.com/gleam-social/gleam-go"
)

// getClient builds an API client from the stored configuration.
func getClient() (*gleam.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Auth.UserID == "" || cfg.Auth.Token == "" {
		return nil, fmt.Errorf("not logged in. Run 'gleam login <user-id> <token>' first")
	}

	var opts []gleam.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, gleam.WithBaseURL(cfg.Default.BaseURL))
	}
	return gleam.NewClient(cfg.Auth.UserID, cfg.Auth.Token, opts...), nil
}

// getNotificationStore opens the persisted notification log for the
// configured user. The caller must Close the returned storage.
func getNotificationStore() (*gleam.NotificationStore, *gleam.SQLiteStorage, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Auth.UserID == "" {
		return nil, nil, fmt.Errorf("not logged in. Run 'gleam login <user-id> <token>' first")
	}
	dir, err := configDir()
	if err != nil {
		return nil, nil, err
	}
	storage, err := gleam.OpenSQLiteStorage(dir)
	if err != nil {
		return nil, nil, err
	}
	return gleam.NewNotificationStore(storage, cfg.Auth.UserID), storage, nil
}

// maskToken hides the middle of a token for display.
func maskToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "..." + token[len(token)-4:]
}
