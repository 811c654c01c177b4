package channel

import (
	"strings"

	"frontdesk/internal/domain"
)

// WhatsAppPayload is the body the WhatsApp Business Cloud API posts to the webhook.
type WhatsAppPayload struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Value waValue `json:"value"`
	Field string  `json:"field"`
}

type waValue struct {
	MessagingProduct string      `json:"messaging_product"`
	Metadata         waMetadata  `json:"metadata"`
	Contacts         []waContact `json:"contacts"`
	Messages         []waMessage `json:"messages"`
	Statuses         []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"statuses"`
}

type waMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type waContact struct {
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
	WaID string `json:"wa_id"`
}

type waMessage struct {
	From        string         `json:"from"`
	ID          string         `json:"id"`
	Timestamp   string         `json:"timestamp"`
	Type        string         `json:"type"`
	Text        *waText        `json:"text,omitempty"`
	Image       *waMedia       `json:"image,omitempty"`
	Audio       *waMedia       `json:"audio,omitempty"`
	Document    *waMedia       `json:"document,omitempty"`
	Location    *waLocation    `json:"location,omitempty"`
	Contacts    []waCard       `json:"contacts,omitempty"`
	Button      *waText        `json:"button,omitempty"`
	Interactive *waInteractive `json:"interactive,omitempty"`
}

type waText struct {
	Body string `json:"body"`
	Text string `json:"text"` // button replies use "text"
}

type waMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
}

type waLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name"`
	Address   string  `json:"address"`
}

type waCard struct {
	Name struct {
		FormattedName string `json:"formatted_name"`
	} `json:"name"`
	Phones []struct {
		Phone string `json:"phone"`
		WaID  string `json:"wa_id"`
	} `json:"phones"`
}

type waInteractive struct {
	Type        string `json:"type"`
	ButtonReply *struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"button_reply,omitempty"`
	ListReply *struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"list_reply,omitempty"`
}

// NormalizeWhatsApp returns the first actionable message in p, or nil for
// status-only and other non-message notifications.
func NormalizeWhatsApp(p WhatsAppPayload) *domain.InboundMessage {
	msgs := NormalizeWhatsAppBatch(p)
	if len(msgs) == 0 {
		return nil
	}
	return &msgs[0]
}

// NormalizeWhatsAppBatch returns every actionable message in p in delivery order.
func NormalizeWhatsAppBatch(p WhatsAppPayload) []domain.InboundMessage {
	var out []domain.InboundMessage
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			if change.Field != "" && change.Field != "messages" {
				continue
			}
			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, m := range change.Value.Messages {
				if msg := normalizeWAMessage(m, names[m.From], change.Value.Metadata); msg != nil {
					out = append(out, *msg)
				}
			}
		}
	}
	return out
}

func normalizeWAMessage(m waMessage, displayName string, meta waMetadata) *domain.InboundMessage {
	if m.From == "" {
		return nil
	}
	msg := &domain.InboundMessage{
		ID:         messageID(m.ID),
		Platform:   domain.PlatformWhatsApp,
		SenderID:   m.From,
		ReceivedAt: unixString(m.Timestamp),
		Metadata: map[string]string{
			domain.MetaChatID: m.From,
		},
	}
	if displayName != "" {
		msg.Metadata[domain.MetaDisplayName] = displayName
	}
	if meta.PhoneNumberID != "" {
		msg.Metadata[MetaPhoneNumberID] = meta.PhoneNumberID
	}

	switch m.Type {
	case "text":
		if m.Text == nil || strings.TrimSpace(m.Text.Body) == "" {
			return nil
		}
		msg.Kind, msg.Content = domain.KindText, m.Text.Body
	case "button":
		if m.Button == nil {
			return nil
		}
		msg.Kind, msg.Content = domain.KindText, m.Button.Text
	case "interactive":
		if m.Interactive == nil {
			return nil
		}
		msg.Kind = domain.KindText
		switch {
		case m.Interactive.ButtonReply != nil:
			msg.Content = m.Interactive.ButtonReply.Title
		case m.Interactive.ListReply != nil:
			msg.Content = m.Interactive.ListReply.Title
		default:
			return nil
		}
	case "image", "sticker":
		msg.Kind = domain.KindImage
		msg.Content = PlaceholderImage
		if m.Image != nil {
			msg.Content = withCaption(PlaceholderImage, m.Image.Caption)
			msg.MediaRef = m.Image.ID
			msg.Metadata[MetaMimeType] = m.Image.MimeType
		}
	case "audio", "voice":
		msg.Kind, msg.Content = domain.KindVoice, PlaceholderVoice
		if m.Audio != nil {
			msg.MediaRef = m.Audio.ID
			msg.Metadata[MetaMimeType] = m.Audio.MimeType
		}
	case "document":
		msg.Kind, msg.Content = domain.KindDocument, PlaceholderDocument
		if m.Document != nil {
			msg.Content = withCaption(PlaceholderDocument, m.Document.Caption)
			msg.MediaRef = m.Document.ID
			msg.Metadata[MetaFileName] = m.Document.Filename
		}
	case "location":
		msg.Kind, msg.Content = domain.KindLocation, PlaceholderLocation
		if m.Location != nil {
			msg.Metadata[MetaLatitude] = formatCoord(m.Location.Latitude)
			msg.Metadata[MetaLongitude] = formatCoord(m.Location.Longitude)
			msg.Content = withCaption(PlaceholderLocation, m.Location.Name)
		}
	case "contacts":
		msg.Kind, msg.Content = domain.KindContact, PlaceholderContact
		if len(m.Contacts) > 0 {
			card := m.Contacts[0]
			if len(card.Phones) > 0 {
				msg.Metadata[domain.MetaPhone] = card.Phones[0].Phone
			}
			msg.Content = withCaption(PlaceholderContact, card.Name.FormattedName)
		}
	case "":
		return nil
	default:
		msg.Kind, msg.Content = domain.KindUnknown, PlaceholderUnsupported
	}
	return msg
}
