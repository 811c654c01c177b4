package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"frontdesk/internal/domain"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS tenants (
	id          TEXT PRIMARY KEY,
	slug        TEXT NOT NULL UNIQUE,
	name        TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS settings (
	tenant_id   TEXT NOT NULL,
	key         TEXT NOT NULL,
	value       TEXT NOT NULL,
	PRIMARY KEY (tenant_id, key)
);
CREATE TABLE IF NOT EXISTS sessions (
	id            UUID PRIMARY KEY,
	tenant_id     TEXT NOT NULL,
	platform      TEXT NOT NULL,
	sender_id     TEXT NOT NULL,
	display_name  TEXT NOT NULL DEFAULT '',
	phone         TEXT NOT NULL DEFAULT '',
	member_id     TEXT NOT NULL DEFAULT '',
	last_activity TIMESTAMPTZ NOT NULL,
	active        BOOLEAN NOT NULL DEFAULT TRUE,
	UNIQUE (tenant_id, platform, sender_id)
);
CREATE INDEX IF NOT EXISTS idx_sessions_sender ON sessions(tenant_id, sender_id);
CREATE TABLE IF NOT EXISTS messages (
	id          BIGSERIAL PRIMARY KEY,
	session_id  UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	tenant_id   TEXT NOT NULL,
	role        TEXT NOT NULL,
	content     TEXT,
	metadata    JSONB NOT NULL DEFAULT '{}',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);
CREATE TABLE IF NOT EXISTS members (
	tenant_id   TEXT NOT NULL,
	id          TEXT NOT NULL,
	name        TEXT NOT NULL DEFAULT '',
	email       TEXT NOT NULL DEFAULT '',
	phone       TEXT NOT NULL DEFAULT '',
	phone_key   TEXT NOT NULL DEFAULT '',
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (tenant_id, id)
);
CREATE INDEX IF NOT EXISTS idx_members_phone ON members(tenant_id, phone_key);
`

// PostgresStore implements Backend on PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore connects, pings and ensures the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure postgres schema: %w", err)
	}
	logger.Info("postgres store ready")
	return &PostgresStore{pool: pool, logger: logger}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateTenant(ctx context.Context, id, slug, name string) error {
	if err := requireTenant(id); err != nil {
		return err
	}
	if slug == "" {
		slug = id
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tenants (id, slug, name) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET slug = EXCLUDED.slug, name = EXCLUDED.name
	`, id, slug, name)
	if err != nil {
		return fmt.Errorf("create tenant: %w", err)
	}
	return nil
}

func (s *PostgresStore) ResolveTenant(ctx context.Context, slug string) (string, error) {
	if slug == "" {
		return "", domain.ErrMissingTenant
	}
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM tenants WHERE slug = $1 OR id = $1 LIMIT 1`, slug).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrTenantNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolve tenant: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetOrCreateSession(ctx context.Context, tenantID string, platform domain.Platform, senderID string) (*domain.Session, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	var (
		sess domain.Session
		id   uuid.UUID
		plat string
	)
	err := s.pool.QueryRow(ctx, `
		INSERT INTO sessions (id, tenant_id, platform, sender_id, last_activity, active)
		VALUES ($1, $2, $3, $4, now(), TRUE)
		ON CONFLICT (tenant_id, platform, sender_id)
		DO UPDATE SET last_activity = now(), active = TRUE
		RETURNING id, tenant_id, platform, sender_id, display_name, phone, member_id, last_activity, active
	`, uuid.New(), tenantID, string(platform), senderID).Scan(
		&id, &sess.TenantID, &plat, &sess.SenderID,
		&sess.DisplayName, &sess.Phone, &sess.MemberID, &sess.LastActivity, &sess.Active,
	)
	if err != nil {
		return nil, fmt.Errorf("get or create session: %w", err)
	}
	sess.ID = id.String()
	sess.Platform = domain.Platform(plat)
	return &sess, nil
}

func (s *PostgresStore) UpdateSessionMemberID(ctx context.Context, tenantID, senderID, memberID string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET member_id = $1 WHERE tenant_id = $2 AND sender_id = $3`,
		memberID, tenantID, senderID)
	if err != nil {
		return fmt.Errorf("update session member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateSessionContact(ctx context.Context, tenantID, senderID, displayName, phone string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE sessions
		SET display_name = COALESCE(NULLIF($1, ''), display_name),
		    phone = COALESCE(NULLIF($2, ''), phone)
		WHERE tenant_id = $3 AND sender_id = $4
	`, displayName, phone, tenantID, senderID)
	if err != nil {
		return fmt.Errorf("update session contact: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveMessage(ctx context.Context, session *domain.Session, role, content string, metadata map[string]string) error {
	if session == nil {
		return domain.ErrSessionNotFound
	}
	if err := requireTenant(session.TenantID); err != nil {
		return err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO messages (session_id, tenant_id, role, content, metadata)
		VALUES ($1, $2, $3, $4, $5::jsonb)
	`, session.ID, session.TenantID, role, content, encodeMetadata(metadata)); err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE sessions SET last_activity = now(), active = TRUE WHERE id = $1`, session.ID); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetSetting(ctx context.Context, key, tenantID, def string) (string, error) {
	if err := requireTenant(tenantID); err != nil {
		return "", err
	}
	var value string
	err := s.pool.QueryRow(ctx, `
		SELECT value FROM settings WHERE key = $1 AND tenant_id IN ($2, '')
		ORDER BY (tenant_id = $2) DESC LIMIT 1
	`, key, tenantID).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, nil
}

func (s *PostgresStore) SetSetting(ctx context.Context, tenantID, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO settings (tenant_id, key, value) VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, key) DO UPDATE SET value = EXCLUDED.value
	`, tenantID, key, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) MarkInactive(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET active = FALSE WHERE active AND last_activity < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("mark inactive: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) EraseSender(ctx context.Context, tenantID, senderID string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	// messages cascade with their session
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM sessions WHERE tenant_id = $1 AND sender_id = $2`, tenantID, senderID); err != nil {
		return fmt.Errorf("erase sender: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListLinkedMembers(ctx context.Context, since time.Time) (map[string][]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT tenant_id, member_id FROM sessions
		WHERE member_id <> '' AND last_activity >= $1
	`, since)
	if err != nil {
		return nil, fmt.Errorf("list linked members: %w", err)
	}
	defer rows.Close()
	out := make(map[string][]string)
	for rows.Next() {
		var tenant, member string
		if err := rows.Scan(&tenant, &member); err != nil {
			return nil, err
		}
		out[tenant] = append(out[tenant], member)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UnlinkMember(ctx context.Context, tenantID, memberID string) (int64, error) {
	if err := requireTenant(tenantID); err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET member_id = '' WHERE tenant_id = $1 AND member_id = $2`, tenantID, memberID)
	if err != nil {
		return 0, fmt.Errorf("unlink member: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) FindMembersByPhoneKey(ctx context.Context, tenantID, phoneKey string) ([]domain.Member, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if phoneKey == "" {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, name, email, phone, phone_key FROM members
		WHERE tenant_id = $1 AND phone_key = $2
	`, tenantID, phoneKey)
	if err != nil {
		return nil, fmt.Errorf("find members: %w", err)
	}
	defer rows.Close()

	var out []domain.Member
	for rows.Next() {
		var m domain.Member
		if err := rows.Scan(&m.ID, &m.TenantID, &m.Name, &m.Email, &m.Phone, &m.PhoneKey); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetMember(ctx context.Context, tenantID, memberID string) (*domain.Member, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	var m domain.Member
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, email, phone, phone_key FROM members
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, memberID).Scan(&m.ID, &m.TenantID, &m.Name, &m.Email, &m.Phone, &m.PhoneKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return &m, nil
}

func (s *PostgresStore) UpsertMember(ctx context.Context, m domain.Member) error {
	if err := requireTenant(m.TenantID); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO members (tenant_id, id, name, email, phone, phone_key, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			name = EXCLUDED.name, email = EXCLUDED.email, phone = EXCLUDED.phone,
			phone_key = EXCLUDED.phone_key, updated_at = now()
	`, m.TenantID, m.ID, m.Name, m.Email, m.Phone, m.PhoneKey)
	if err != nil {
		return fmt.Errorf("upsert member: %w", err)
	}
	return nil
}
