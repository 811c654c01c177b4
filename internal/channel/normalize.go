// Package channel turns platform webhooks into canonical inbound messages and
// serves the HTTP ingress that receives them.
package channel

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"frontdesk/internal/domain"
)

// Placeholders stand in for bodies that carry no text.
const (
	PlaceholderImage       = "[image]"
	PlaceholderVoice       = "[voice note]"
	PlaceholderLocation    = "[location]"
	PlaceholderContact     = "[contact]"
	PlaceholderDocument    = "[document]"
	PlaceholderUnsupported = "[unsupported message]"
)

// Metadata keys only normalizers and transports care about.
const (
	MetaLatitude      = "latitude"
	MetaLongitude     = "longitude"
	MetaMimeType      = "mime_type"
	MetaFileName      = "file_name"
	MetaPhoneNumberID = "phone_number_id"
	MetaCallID        = "call_id"
	MetaInReplyTo     = "in_reply_to"
	MetaUsername      = "username"
)

func messageID(sourceID string) string {
	if sourceID != "" {
		return sourceID
	}
	return uuid.Must(uuid.NewV7()).String()
}

// withCaption prefixes placeholder to a caption when one exists.
func withCaption(placeholder, caption string) string {
	caption = strings.TrimSpace(caption)
	if caption == "" {
		return placeholder
	}
	return placeholder + " " + caption
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(sec, 0).UTC()
}

func unixString(s string) time.Time {
	n, _ := strconv.ParseInt(s, 10, 64)
	return unixTime(n)
}

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', 6, 64)
}

func kindForMime(mime string) (domain.ContentKind, string) {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return domain.KindImage, PlaceholderImage
	case strings.HasPrefix(mime, "audio/"):
		return domain.KindVoice, PlaceholderVoice
	case mime == "text/vcard", mime == "text/x-vcard":
		return domain.KindContact, PlaceholderContact
	case mime == "":
		return domain.KindUnknown, PlaceholderUnsupported
	}
	return domain.KindDocument, PlaceholderDocument
}
