package channel

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"frontdesk/internal/domain"
)

// NormalizeSMS converts a Twilio Messaging webhook form. Delivery status
// callbacks carry no body and yield nil.
func NormalizeSMS(form url.Values) *domain.InboundMessage {
	from := strings.TrimSpace(form.Get("From"))
	if from == "" {
		return nil
	}
	body := form.Get("Body")
	numMedia, _ := strconv.Atoi(form.Get("NumMedia"))
	if strings.TrimSpace(body) == "" && numMedia == 0 {
		return nil
	}

	msg := &domain.InboundMessage{
		ID:         messageID(form.Get("MessageSid")),
		Platform:   domain.PlatformSMS,
		SenderID:   from,
		ReceivedAt: time.Now().UTC(),
		Metadata: map[string]string{
			domain.MetaChatID: from,
		},
	}
	if to := form.Get("To"); to != "" {
		msg.Metadata["to"] = to
	}

	if numMedia == 0 {
		msg.Kind, msg.Content = domain.KindText, body
		return msg
	}

	mime := form.Get("MediaContentType0")
	kind, placeholder := kindForMime(mime)
	msg.Kind = kind
	msg.Content = withCaption(placeholder, body)
	msg.MediaRef = form.Get("MediaUrl0")
	msg.Metadata[MetaMimeType] = mime
	return msg
}
