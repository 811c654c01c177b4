package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"frontdesk/internal/domain"
)

// SMSConfig configures the Twilio Messages transport.
type SMSConfig struct {
	APIBase    string // e.g. https://api.twilio.com/2010-04-01
	AccountSID string
	AuthToken  string
	FromNumber string
	Client     *http.Client
}

// SMS sends text messages through Twilio's REST API.
type SMS struct {
	cfg SMSConfig
}

func NewSMS(cfg SMSConfig) *SMS {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.twilio.com/2010-04-01"
	}
	if cfg.Client == nil {
		cfg.Client = defaultClient()
	}
	return &SMS{cfg: cfg}
}

func (s *SMS) Platform() domain.Platform { return domain.PlatformSMS }

func (s *SMS) Send(ctx context.Context, msg domain.OutboundMessage) error {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", s.cfg.APIBase, s.cfg.AccountSID)
	to := msg.Meta(domain.MetaChatID, msg.RecipientID)

	for _, chunk := range splitMessage(msg.Content, smsMaxLen) {
		form := url.Values{"To": {to}, "From": {s.cfg.FromNumber}, "Body": {chunk}}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.SetBasicAuth(s.cfg.AccountSID, s.cfg.AuthToken)

		resp, err := s.cfg.Client.Do(req)
		if err != nil {
			return fmt.Errorf("sms send: %w", err)
		}
		err = checkResponse(resp, "twilio")
		resp.Body.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
