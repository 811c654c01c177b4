package channel

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"testing"
)

func TestVerifySHA256Hex(t *testing.T) {
	body := []byte(`{"content":"hello"}`)
	sig := SignSHA256Hex("test-secret", body)

	if !VerifySHA256Hex("test-secret", body, sig) {
		t.Error("valid signature should verify")
	}
	for _, bad := range []string{"", "sha256=", "sha256=zz", "sha256=00ff", sig[7:]} {
		if VerifySHA256Hex("test-secret", body, bad) {
			t.Errorf("signature %q should not verify", bad)
		}
	}
	if VerifySHA256Hex("other-secret", body, sig) {
		t.Error("wrong secret should not verify")
	}
}

func TestVerifyTwilio(t *testing.T) {
	// Example from Twilio's webhook security documentation.
	token := "12345"
	u := "https://mycompany.com/myapp.php?foo=1&bar=2"
	form := url.Values{
		"CallSid": {"CA1234567890ABCDE"},
		"Caller":  {"+12349013030"},
		"Digits":  {"1234"},
		"From":    {"+12349013030"},
		"To":      {"+18005551212"},
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(u + "CallSidCA1234567890ABCDECaller+12349013030Digits1234From+12349013030To+18005551212"))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !VerifyTwilio(token, u, form, sig) {
		t.Fatal("valid Twilio signature should verify")
	}
	form.Set("Digits", "9999")
	if VerifyTwilio(token, u, form, sig) {
		t.Fatal("tampered form should not verify")
	}
	if VerifyTwilio(token, u, form, "") {
		t.Fatal("empty header should not verify")
	}
}

func TestVerifySecretToken(t *testing.T) {
	if !VerifySecretToken("s3cret", "s3cret") {
		t.Error("matching token should verify")
	}
	if VerifySecretToken("s3cret", "s3cre") || VerifySecretToken("s3cret", "") {
		t.Error("mismatch should not verify")
	}
}

func TestRequired(t *testing.T) {
	cases := []struct {
		env, secret string
		want        bool
	}{
		{"production", "x", true},
		{"production", "", false},
		{"development", "x", false},
	}
	for _, tc := range cases {
		if got := Required(tc.env, tc.secret); got != tc.want {
			t.Errorf("Required(%q,%q) = %v", tc.env, tc.secret, got)
		}
	}
}

func TestSenderLimiter(t *testing.T) {
	l := NewSenderLimiter(2)
	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("burst should pass")
	}
	if l.Allow("a") {
		t.Fatal("third message within the burst window should be limited")
	}
	if !l.Allow("b") {
		t.Fatal("keys are independent")
	}
	if !NewSenderLimiter(0).Allow("a") {
		t.Fatal("zero rate disables limiting")
	}
}
