// Package storetest opens throwaway SQLite stores for tests.
package storetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/koetjeengdjalanan/nilakandi/internal/config"
	"github.com/koetjeengdjalanan/nilakandi/internal/logger"
	"github.com/koetjeengdjalanan/nilakandi/internal/store"
)

// New returns a migrated store backed by a file in the test's temp dir
func New(t testing.TB) *store.Store {
	t.Helper()

	enabled := true
	log := logger.New("error")
	db, err := store.Open(config.DatabaseConfig{
		Driver:      "sqlite",
		DSN:         filepath.Join(t.TempDir(), "nilakandi.db") + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		AutoMigrate: &enabled,
	}, log)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(db) })

	return store.New(db, 100, log)
}

// Subscription inserts a subscription with the given id and name
func Subscription(t testing.TB, s *store.Store, id, name string) store.Subscription {
	t.Helper()
	sub := store.Subscription{
		SubscriptionID: id,
		ResourcePath:   "/subscriptions/" + id,
		DisplayName:    name,
		State:          "Enabled",
	}
	if _, err := s.UpsertSubscriptions(context.Background(), []store.Subscription{sub}); err != nil {
		t.Fatalf("failed to seed subscription: %v", err)
	}
	return sub
}
