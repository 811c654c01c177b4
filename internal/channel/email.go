package channel

import (
	"net/mail"
	"strings"
	"time"

	"frontdesk/internal/domain"
)

// EmailPayload is the JSON an inbound-mail relay posts for each received message.
type EmailPayload struct {
	MessageID   string            `json:"message_id"`
	From        string            `json:"from"`
	To          string            `json:"to"`
	Subject     string            `json:"subject"`
	Text        string            `json:"text"`
	InReplyTo   string            `json:"in_reply_to,omitempty"`
	Date        time.Time         `json:"date,omitzero"`
	Attachments []EmailAttachment `json:"attachments,omitempty"`
}

type EmailAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

// NormalizeEmail converts a relayed email. The sender id is the lower-cased
// address; the subject travels as metadata so replies can thread.
func NormalizeEmail(p EmailPayload) *domain.InboundMessage {
	addr, err := mail.ParseAddress(p.From)
	if err != nil {
		return nil
	}
	body := stripQuotedReply(p.Text)
	if body == "" && len(p.Attachments) == 0 {
		return nil
	}

	received := p.Date.UTC()
	if p.Date.IsZero() {
		received = time.Now().UTC()
	}
	msg := &domain.InboundMessage{
		ID:         messageID(p.MessageID),
		Platform:   domain.PlatformEmail,
		SenderID:   strings.ToLower(addr.Address),
		ReceivedAt: received,
		Metadata: map[string]string{
			domain.MetaChatID:  strings.ToLower(addr.Address),
			domain.MetaSubject: p.Subject,
		},
	}
	if addr.Name != "" {
		msg.Metadata[domain.MetaDisplayName] = addr.Name
	}
	if p.InReplyTo != "" {
		msg.Metadata[MetaInReplyTo] = p.InReplyTo
	}

	if body != "" {
		msg.Kind, msg.Content = domain.KindText, body
		return msg
	}
	att := p.Attachments[0]
	kind, placeholder := kindForMime(att.ContentType)
	msg.Kind, msg.Content = kind, placeholder
	msg.Metadata[MetaFileName] = att.Filename
	msg.Metadata[MetaMimeType] = att.ContentType
	return msg
}

// stripQuotedReply drops the quoted history most clients append below a reply.
func stripQuotedReply(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, ">") {
			continue
		}
		if isReplyHeader(trimmed) || trimmed == "-- " || trimmed == "--" {
			break
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func isReplyHeader(line string) bool {
	switch {
	case strings.HasPrefix(line, "On ") && strings.HasSuffix(line, "wrote:"):
		return true
	case strings.HasPrefix(line, "Am ") && strings.HasSuffix(line, "schrieb:"):
		return true
	case strings.HasPrefix(line, "-----Original Message-----"):
		return true
	}
	return false
}
