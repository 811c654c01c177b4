package dispatch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SettingReader is the slice of the persistence facade transports read
// per-tenant routing settings from.
type SettingReader interface {
	GetSetting(ctx context.Context, key, tenantID, def string) (string, error)
}

func defaultClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// checkResponse turns a non-2xx status into an error carrying a short body excerpt.
func checkResponse(resp *http.Response, api string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%s API %d: %s", api, resp.StatusCode, string(body))
}
