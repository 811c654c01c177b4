package channel

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// Signature headers per platform.
const (
	HeaderHubSignature       = "X-Hub-Signature-256"
	HeaderTwilioSignature    = "X-Twilio-Signature"
	HeaderTelegramSecret     = "X-Telegram-Bot-Api-Secret-Token"
	HeaderFrontdeskSignature = "X-Frontdesk-Signature-256"
)

// Required reports whether signature verification is mandatory: a secret is
// configured and the deployment is production.
func Required(env, secret string) bool {
	return secret != "" && env == "production"
}

// VerifySHA256Hex checks a "sha256=<hex>" HMAC of body.
func VerifySHA256Hex(secret string, body []byte, header string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok || sig == "" {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// VerifyTwilio checks Twilio's HMAC-SHA1 over the full request URL followed by
// every form key and value sorted by key, base64 encoded.
func VerifyTwilio(authToken, fullURL string, form url.Values, header string) bool {
	if header == "" {
		return false
	}
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range form[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}

// VerifySecretToken compares a shared secret header in constant time.
func VerifySecretToken(secret, header string) bool {
	if header == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(header)) == 1
}

// SignSHA256Hex produces the header value VerifySHA256Hex accepts.
func SignSHA256Hex(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
