package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"frontdesk/internal/domain"
)

// SQLiteStore implements Backend using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) CreateTenant(ctx context.Context, id, slug, name string) error {
	if err := requireTenant(id); err != nil {
		return err
	}
	if slug == "" {
		slug = id
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (id, slug, name) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET slug = excluded.slug, name = excluded.name`,
		id, slug, name)
	if err != nil {
		return fmt.Errorf("create tenant: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ResolveTenant(ctx context.Context, slug string) (string, error) {
	if slug == "" {
		return "", domain.ErrMissingTenant
	}
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM tenants WHERE slug = ? OR id = ? LIMIT 1`, slug, slug).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrTenantNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolve tenant: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) GetOrCreateSession(ctx context.Context, tenantID string, platform domain.Platform, senderID string) (*domain.Session, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO sessions (id, tenant_id, platform, sender_id, last_activity, active)
		 VALUES (?, ?, ?, ?, ?, 1)
		 ON CONFLICT(tenant_id, platform, sender_id)
		 DO UPDATE SET last_activity = excluded.last_activity, active = 1
		 RETURNING id, tenant_id, platform, sender_id, display_name, phone, member_id, last_activity, active`,
		uuid.NewString(), tenantID, string(platform), senderID, now.Unix())
	sess, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("get or create session: %w", err)
	}
	return sess, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		sess     domain.Session
		platform string
		last     int64
		active   int
	)
	if err := row.Scan(&sess.ID, &sess.TenantID, &platform, &sess.SenderID,
		&sess.DisplayName, &sess.Phone, &sess.MemberID, &last, &active); err != nil {
		return nil, err
	}
	sess.Platform = domain.Platform(platform)
	sess.LastActivity = time.Unix(last, 0).UTC()
	sess.Active = active == 1
	return &sess, nil
}

// GetSession looks up one session without touching its activity.
func (s *SQLiteStore) GetSession(ctx context.Context, tenantID string, platform domain.Platform, senderID string) (*domain.Session, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, platform, sender_id, display_name, phone, member_id, last_activity, active
		 FROM sessions WHERE tenant_id = ? AND platform = ? AND sender_id = ?`,
		tenantID, string(platform), senderID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	return sess, err
}

func (s *SQLiteStore) UpdateSessionMemberID(ctx context.Context, tenantID, senderID, memberID string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET member_id = ? WHERE tenant_id = ? AND sender_id = ?`,
		memberID, tenantID, senderID)
	if err != nil {
		return fmt.Errorf("update session member: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (s *SQLiteStore) UpdateSessionContact(ctx context.Context, tenantID, senderID, displayName, phone string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions
		 SET display_name = CASE WHEN ? <> '' THEN ? ELSE display_name END,
		     phone = CASE WHEN ? <> '' THEN ? ELSE phone END
		 WHERE tenant_id = ? AND sender_id = ?`,
		displayName, displayName, phone, phone, tenantID, senderID)
	if err != nil {
		return fmt.Errorf("update session contact: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveMessage(ctx context.Context, session *domain.Session, role, content string, metadata map[string]string) error {
	if session == nil {
		return domain.ErrSessionNotFound
	}
	if err := requireTenant(session.TenantID); err != nil {
		return err
	}
	now := time.Now().UTC().Unix()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (session_id, tenant_id, role, content, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		session.ID, session.TenantID, role, content, encodeMetadata(metadata), now); err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET last_activity = ?, active = 1 WHERE id = ?`, now, session.ID); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return tx.Commit()
}

// CountMessages returns how many messages are stored for a session.
func (s *SQLiteStore) CountMessages(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

func (s *SQLiteStore) GetSetting(ctx context.Context, key, tenantID, def string) (string, error) {
	if err := requireTenant(tenantID); err != nil {
		return "", err
	}
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ? AND tenant_id IN (?, '')
		 ORDER BY CASE WHEN tenant_id = ? THEN 0 ELSE 1 END LIMIT 1`,
		key, tenantID, tenantID).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting writes a tenant setting. An empty tenant writes the global
// fallback row, which must be done deliberately by an operator.
func (s *SQLiteStore) SetSetting(ctx context.Context, tenantID, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (tenant_id, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(tenant_id, key) DO UPDATE SET value = excluded.value`,
		tenantID, key, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) MarkInactive(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET active = 0 WHERE active = 1 AND last_activity < ?`, before.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("mark inactive: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) EraseSender(ctx context.Context, tenantID, senderID string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("erase sender: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE session_id IN
		 (SELECT id FROM sessions WHERE tenant_id = ? AND sender_id = ?)`, tenantID, senderID); err != nil {
		return fmt.Errorf("erase messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM sessions WHERE tenant_id = ? AND sender_id = ?`, tenantID, senderID); err != nil {
		return fmt.Errorf("erase sessions: %w", err)
	}
	return tx.Commit()
}

// ListLinkedMembers returns the member ids linked to sessions active since a point in time.
func (s *SQLiteStore) ListLinkedMembers(ctx context.Context, since time.Time) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT tenant_id, member_id FROM sessions
		 WHERE member_id <> '' AND last_activity >= ?`, since.UTC().Unix())
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

func (s *SQLiteStore) FindMembersByPhoneKey(ctx context.Context, tenantID, phoneKey string) ([]domain.Member, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if phoneKey == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, name, email, phone, phone_key FROM members
		 WHERE tenant_id = ? AND phone_key = ?`, tenantID, phoneKey)
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

func (s *SQLiteStore) GetMember(ctx context.Context, tenantID, memberID string) (*domain.Member, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	var m domain.Member
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, email, phone, phone_key FROM members
		 WHERE tenant_id = ? AND id = ?`, tenantID, memberID).
		Scan(&m.ID, &m.TenantID, &m.Name, &m.Email, &m.Phone, &m.PhoneKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return &m, nil
}

func (s *SQLiteStore) UpsertMember(ctx context.Context, m domain.Member) error {
	if err := requireTenant(m.TenantID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO members (tenant_id, id, name, email, phone, phone_key, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(tenant_id, id) DO UPDATE SET
		   name = excluded.name, email = excluded.email, phone = excluded.phone,
		   phone_key = excluded.phone_key, updated_at = CURRENT_TIMESTAMP`,
		m.TenantID, m.ID, m.Name, m.Email, m.Phone, m.PhoneKey)
	if err != nil {
		return fmt.Errorf("upsert member: %w", err)
	}
	return nil
}

// UnlinkMember clears member_id on every session linked to a member that no
// longer exists in the CRM. Those senders have to verify again.
func (s *SQLiteStore) UnlinkMember(ctx context.Context, tenantID, memberID string) (int64, error) {
	if err := requireTenant(tenantID); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET member_id = '' WHERE tenant_id = ? AND member_id = ?`, tenantID, memberID)
	if err != nil {
		return 0, fmt.Errorf("unlink member: %w", err)
	}
	return res.RowsAffected()
}
