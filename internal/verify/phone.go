package verify

import (
	"strings"
	"unicode"
)

const minPhoneDigits = 6

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PhoneKey reduces a phone number to its national significant digits so that
// "+49 170 1234567", "0049 170 1234567", "4917012345678" style ids and
// "0170 1234567" compare equal under country code "49". It returns "" when
// too few digits remain to be a phone number.
func PhoneKey(raw, countryCode string) string {
	trimmed := strings.TrimSpace(raw)
	digits := digitsOnly(trimmed)
	cc := digitsOnly(countryCode)

	international := strings.HasPrefix(trimmed, "+")
	if strings.HasPrefix(digits, "00") {
		digits = digits[2:]
		international = true
	}

	switch {
	case international:
		if cc != "" && strings.HasPrefix(digits, cc) {
			digits = digits[len(cc):]
		}
	case strings.HasPrefix(digits, "0"):
		// trunk prefix
		digits = digits[1:]
	case cc != "" && strings.HasPrefix(digits, cc) && len(digits)-len(cc) >= minPhoneDigits+2:
		// platform ids such as WhatsApp wa_id carry the country code without '+'
		digits = digits[len(cc):]
	}
	// "+49 (0) 170 ..." keeps a trunk zero after the country code
	digits = strings.TrimPrefix(digits, "0")

	if len(digits) < minPhoneDigits {
		return ""
	}
	return digits
}

// LooksLikePhone reports whether s is nothing but a phone number.
func LooksLikePhone(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	for _, r := range s {
		if unicode.IsDigit(r) || strings.ContainsRune("+ -()/.", r) {
			continue
		}
		return false
	}
	n := len(digitsOnly(s))
	return n >= 7 && n <= 15
}

// MaskEmail keeps the first character of the local part and the domain:
// "anna@example.com" becomes "a***@example.com".
func MaskEmail(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at <= 0 {
		return "***"
	}
	return addr[:1] + "***" + addr[at:]
}
