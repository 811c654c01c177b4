package channel

import (
	"strings"
	"time"

	"frontdesk/internal/domain"
)

// VoicePayload is posted by the telephony bridge when a caller leaves a
// recording or the bridge transcribed the call itself.
type VoicePayload struct {
	CallID       string    `json:"call_id"`
	Event        string    `json:"event"` // "recording" | "transcript" | call lifecycle events
	From         string    `json:"from"`
	To           string    `json:"to"`
	RecordingURL string    `json:"recording_url,omitempty"`
	Transcript   string    `json:"transcript,omitempty"`
	Duration     int       `json:"duration_seconds,omitempty"`
	Timestamp    time.Time `json:"timestamp,omitzero"`
}

// NormalizeVoice converts a bridge event. Call lifecycle events without a
// recording or transcript yield nil. A message with a recording and no
// transcript has Kind voice and still needs transcription.
func NormalizeVoice(p VoicePayload) *domain.InboundMessage {
	from := strings.TrimSpace(p.From)
	transcript := strings.TrimSpace(p.Transcript)
	if from == "" || (transcript == "" && p.RecordingURL == "") {
		return nil
	}

	received := p.Timestamp.UTC()
	if p.Timestamp.IsZero() {
		received = time.Now().UTC()
	}
	msg := &domain.InboundMessage{
		ID:         messageID(p.CallID),
		Platform:   domain.PlatformVoice,
		SenderID:   from,
		Kind:       domain.KindVoice,
		MediaRef:   p.RecordingURL,
		ReceivedAt: received,
		Metadata: map[string]string{
			domain.MetaChatID: from,
			MetaCallID:        p.CallID,
		},
	}
	if transcript != "" {
		msg.Content = transcript
		msg.Metadata[domain.MetaTranscribed] = "true"
	} else {
		msg.Content = PlaceholderVoice
	}
	return msg
}

// NeedsTranscription reports whether msg must go through the voice queue
// before it can be orchestrated.
func NeedsTranscription(msg domain.InboundMessage) bool {
	return msg.Kind == domain.KindVoice && msg.MediaRef != "" && msg.Meta(domain.MetaTranscribed) != "true"
}
