package channel

import (
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"frontdesk/internal/domain"
)

// NormalizeTelegram converts a Bot API update. Edits, callback queries and
// channel posts carry nothing actionable and yield nil.
func NormalizeTelegram(u tgbotapi.Update) *domain.InboundMessage {
	m := u.Message
	if m == nil || m.From == nil || m.Chat == nil || m.From.IsBot {
		return nil
	}

	msg := &domain.InboundMessage{
		ID:         "tg-" + strconv.Itoa(u.UpdateID),
		Platform:   domain.PlatformTelegram,
		SenderID:   strconv.FormatInt(m.From.ID, 10),
		ReceivedAt: unixTime(int64(m.Date)),
		Metadata: map[string]string{
			domain.MetaChatID: strconv.FormatInt(m.Chat.ID, 10),
		},
	}
	if name := strings.TrimSpace(m.From.FirstName + " " + m.From.LastName); name != "" {
		msg.Metadata[domain.MetaDisplayName] = name
	}
	if m.From.UserName != "" {
		msg.Metadata[MetaUsername] = m.From.UserName
	}

	switch {
	case strings.TrimSpace(m.Text) != "":
		msg.Kind, msg.Content = domain.KindText, m.Text
	case m.Contact != nil:
		msg.Kind = domain.KindContact
		msg.Content = withCaption(PlaceholderContact, strings.TrimSpace(m.Contact.FirstName+" "+m.Contact.LastName))
		msg.Metadata[domain.MetaPhone] = m.Contact.PhoneNumber
	case m.Voice != nil:
		msg.Kind, msg.Content, msg.MediaRef = domain.KindVoice, PlaceholderVoice, m.Voice.FileID
		msg.Metadata[MetaMimeType] = m.Voice.MimeType
	case m.Audio != nil:
		msg.Kind, msg.Content, msg.MediaRef = domain.KindVoice, PlaceholderVoice, m.Audio.FileID
		msg.Metadata[MetaMimeType] = m.Audio.MimeType
	case len(m.Photo) > 0:
		// sizes are ascending, keep the largest
		msg.Kind, msg.MediaRef = domain.KindImage, m.Photo[len(m.Photo)-1].FileID
		msg.Content = withCaption(PlaceholderImage, m.Caption)
	case m.Sticker != nil:
		msg.Kind, msg.Content, msg.MediaRef = domain.KindImage, PlaceholderImage, m.Sticker.FileID
	case m.Location != nil:
		msg.Kind, msg.Content = domain.KindLocation, PlaceholderLocation
		msg.Metadata[MetaLatitude] = formatCoord(m.Location.Latitude)
		msg.Metadata[MetaLongitude] = formatCoord(m.Location.Longitude)
	case m.Document != nil:
		msg.Kind, msg.MediaRef = domain.KindDocument, m.Document.FileID
		msg.Content = withCaption(PlaceholderDocument, m.Caption)
		msg.Metadata[MetaFileName] = m.Document.FileName
	case m.NewChatMembers != nil, m.LeftChatMember != nil, m.PinnedMessage != nil:
		return nil
	default:
		msg.Kind, msg.Content = domain.KindUnknown, PlaceholderUnsupported
	}
	return msg
}
