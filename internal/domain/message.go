package domain

import (
	"maps"
	"time"
)

// Platform identifies the external channel a message arrived on.
type Platform string

const (
	PlatformWhatsApp Platform = "whatsapp"
	PlatformTelegram Platform = "telegram"
	PlatformSMS      Platform = "sms"
	PlatformEmail    Platform = "email"
	PlatformVoice    Platform = "voice"
)

// Platforms lists every supported platform in a stable order.
var Platforms = []Platform{PlatformWhatsApp, PlatformTelegram, PlatformSMS, PlatformEmail, PlatformVoice}

// ParsePlatform returns the platform for s and whether it is known.
func ParsePlatform(s string) (Platform, bool) {
	for _, p := range Platforms {
		if string(p) == s {
			return p, true
		}
	}
	return "", false
}

// ContentKind classifies the body of an inbound message.
type ContentKind string

const (
	KindText     ContentKind = "text"
	KindImage    ContentKind = "image"
	KindVoice    ContentKind = "voice"
	KindLocation ContentKind = "location"
	KindContact  ContentKind = "contact"
	KindDocument ContentKind = "document"
	KindUnknown  ContentKind = "unknown"
)

// Metadata keys shared between normalizers, the pipeline and transports.
const (
	MetaChatID      = "chat_id"
	MetaDisplayName = "display_name"
	MetaPhone       = "phone"
	MetaSubject     = "subject"
	MetaTenantID    = "tenant_id"
	MetaTranscribed = "transcribed"
	MetaDialog      = "dialog_context"
)

// InboundMessage is the canonical record produced by a channel normalizer.
// Treat it as immutable: use WithMetadata to derive an enriched copy.
type InboundMessage struct {
	ID         string            `json:"id"`
	Platform   Platform          `json:"platform"`
	SenderID   string            `json:"sender_id"`
	Content    string            `json:"content"`
	Kind       ContentKind       `json:"kind"`
	MediaRef   string            `json:"media_ref,omitempty"`
	TenantID   string            `json:"tenant_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	ReceivedAt time.Time         `json:"received_at"`
}

// Meta reads a metadata value, returning "" when absent.
func (m InboundMessage) Meta(key string) string {
	if m.Metadata == nil {
		return ""
	}
	return m.Metadata[key]
}

// WithMetadata returns a copy of m whose metadata is the union of m's and extra.
// Keys in extra win.
func (m InboundMessage) WithMetadata(extra map[string]string) InboundMessage {
	out := m
	out.Metadata = make(map[string]string, len(m.Metadata)+len(extra))
	maps.Copy(out.Metadata, m.Metadata)
	maps.Copy(out.Metadata, extra)
	return out
}

// WithContent returns a copy of m carrying different text.
func (m InboundMessage) WithContent(content string) InboundMessage {
	out := m.WithMetadata(nil)
	out.Content = content
	return out
}

// OutboundMessage is a reply travelling back to a platform.
type OutboundMessage struct {
	ID          string            `json:"id"`
	ReplyTo     string            `json:"reply_to,omitempty"`
	Platform    Platform          `json:"platform"`
	RecipientID string            `json:"recipient_id"`
	Content     string            `json:"content"`
	TenantID    string            `json:"tenant_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Meta reads a metadata value, returning def when absent or empty.
func (m OutboundMessage) Meta(key, def string) string {
	if v, ok := m.Metadata[key]; ok && v != "" {
		return v
	}
	return def
}
