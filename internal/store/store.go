// Package store implements the persistence facade on SQLite and Postgres.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"frontdesk/internal/domain"
)

// Backend is everything the process needs from one database: the
// persistence facade, the CRM mirror and the admin writes used by the CLI.
type Backend interface {
	domain.Store
	domain.MemberDirectory
	CreateTenant(ctx context.Context, id, slug, name string) error
	SetSetting(ctx context.Context, tenantID, key, value string) error
	ListLinkedMembers(ctx context.Context, since time.Time) (map[string][]string, error)
	UnlinkMember(ctx context.Context, tenantID, memberID string) (int64, error)
}

// Open returns the backend for driver ("sqlite" or "postgres").
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger) (Backend, error) {
	switch driver {
	case "sqlite":
		return NewSQLiteStore(dsn, logger)
	case "postgres":
		return NewPostgresStore(ctx, dsn, logger)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}

func requireTenant(tenantID string) error {
	if strings.TrimSpace(tenantID) == "" {
		return domain.ErrMissingTenant
	}
	return nil
}

func encodeMetadata(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// PlatformAllowed interprets the plan.platforms setting: a comma separated
// list of platforms, where an empty value allows everything.
func PlatformAllowed(setting string, p domain.Platform) bool {
	setting = strings.TrimSpace(setting)
	if setting == "" || setting == "*" {
		return true
	}
	for _, part := range strings.Split(setting, ",") {
		if strings.EqualFold(strings.TrimSpace(part), string(p)) {
			return true
		}
	}
	return false
}
