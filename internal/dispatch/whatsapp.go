package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"frontdesk/internal/domain"
)

// WhatsAppConfig configures the WhatsApp Cloud API transport.
type WhatsAppConfig struct {
	APIBase       string // e.g. https://graph.facebook.com/v21.0
	AccessToken   string
	PhoneNumberID string // default sending number; tenants may override via settings
	Settings      SettingReader
	Client        *http.Client
}

// WhatsApp sends text messages through the Graph API.
type WhatsApp struct {
	cfg WhatsAppConfig
}

func NewWhatsApp(cfg WhatsAppConfig) *WhatsApp {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://graph.facebook.com/v21.0"
	}
	if cfg.Client == nil {
		cfg.Client = defaultClient()
	}
	return &WhatsApp{cfg: cfg}
}

func (w *WhatsApp) Platform() domain.Platform { return domain.PlatformWhatsApp }

func (w *WhatsApp) phoneNumberID(ctx context.Context, msg domain.OutboundMessage) string {
	if msg.TenantID != "" && w.cfg.Settings != nil {
		if id, err := w.cfg.Settings.GetSetting(ctx, domain.SettingWhatsAppPhone, msg.TenantID, ""); err == nil && id != "" {
			return id
		}
	}
	return msg.Meta("phone_number_id", w.cfg.PhoneNumberID)
}

func (w *WhatsApp) Send(ctx context.Context, msg domain.OutboundMessage) error {
	phoneID := w.phoneNumberID(ctx, msg)
	if phoneID == "" {
		return fmt.Errorf("whatsapp: no phone number id configured")
	}
	to := msg.Meta(domain.MetaChatID, msg.RecipientID)
	url := fmt.Sprintf("%s/%s/messages", w.cfg.APIBase, phoneID)

	for _, chunk := range splitMessage(msg.Content, whatsappMaxLen) {
		body, err := json.Marshal(map[string]any{
			"messaging_product": "whatsapp",
			"to":                to,
			"type":              "text",
			"text":              map[string]string{"body": chunk},
		})
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+w.cfg.AccessToken)

		resp, err := w.cfg.Client.Do(req)
		if err != nil {
			return fmt.Errorf("whatsapp send: %w", err)
		}
		err = checkResponse(resp, "whatsapp")
		resp.Body.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
