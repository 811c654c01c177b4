package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrMissingTenant is returned by every tenant-scoped store call made without a tenant.
	ErrMissingTenant = errors.New("tenant id is required")
	// ErrSessionNotFound is returned when a session lookup misses.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTenantNotFound is returned when a tenant slug does not resolve.
	ErrTenantNotFound = errors.New("tenant not found")
)

// Setting keys read through Store.GetSetting.
const (
	SettingPlanPlatforms = "plan.platforms"
	SettingCountryCode   = "country_code"
	SettingWhatsAppPhone = "whatsapp.phone_number_id"
	SettingStudioName    = "studio_name"
	SettingUpsellText    = "plan.upsell_text"
)

// Session is one conversation thread per (tenant, platform, sender).
// An empty MemberID means the sender has not completed verification.
type Session struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Platform     Platform  `json:"platform"`
	SenderID     string    `json:"sender_id"`
	DisplayName  string    `json:"display_name,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	MemberID     string    `json:"member_id,omitempty"`
	LastActivity time.Time `json:"last_activity"`
	Active       bool      `json:"active"`
}

// Verified reports whether the session is linked to a CRM member.
func (s *Session) Verified() bool { return s != nil && s.MemberID != "" }

// Member is a CRM record a sender can be linked to.
type Member struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	PhoneKey string `json:"-"`
}

// Store is the persistence facade. Every call is tenant scoped and fails
// with ErrMissingTenant when the tenant is empty.
type Store interface {
	ResolveTenant(ctx context.Context, slug string) (string, error)
	GetOrCreateSession(ctx context.Context, tenantID string, platform Platform, senderID string) (*Session, error)
	UpdateSessionMemberID(ctx context.Context, tenantID, senderID, memberID string) error
	UpdateSessionContact(ctx context.Context, tenantID, senderID, displayName, phone string) error
	SaveMessage(ctx context.Context, session *Session, role, content string, metadata map[string]string) error
	GetSetting(ctx context.Context, key, tenantID, def string) (string, error)
	MarkInactive(ctx context.Context, before time.Time) (int64, error)
	EraseSender(ctx context.Context, tenantID, senderID string) error
	Ping(ctx context.Context) error
	Close() error
}

// MemberDirectory is the CRM lookup used by the verification gate.
type MemberDirectory interface {
	FindMembersByPhoneKey(ctx context.Context, tenantID, phoneKey string) ([]Member, error)
	GetMember(ctx context.Context, tenantID, memberID string) (*Member, error)
	UpsertMember(ctx context.Context, m Member) error
}

// Mailer delivers verification codes out of band.
type Mailer interface {
	SendCode(ctx context.Context, address, code, displayName string) bool
}

// Notifier alerts a human operator about systemic failures.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}
