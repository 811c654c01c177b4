package verify

import "testing"

func TestPhoneKey(t *testing.T) {
	tests := []struct {
		raw  string
		cc   string
		want string
	}{
		{"+49 170 1234567", "49", "1701234567"},
		{"0049-170-1234567", "49", "1701234567"},
		{"0170 1234567", "49", "1701234567"},
		{"4917012345678", "49", "17012345678"},
		{"+49 (0) 170 1234567", "49", "1701234567"},
		{"(0170) 123-4567", "49", "1701234567"},
		{"+43 660 1234567", "49", "436601234567"},
		{"12345", "49", ""},
		{"", "49", ""},
		{"abc", "49", ""},
		{"0170 1234567", "", "1701234567"},
	}
	for _, tt := range tests {
		if got := PhoneKey(tt.raw, tt.cc); got != tt.want {
			t.Errorf("PhoneKey(%q, %q) = %q, want %q", tt.raw, tt.cc, got, tt.want)
		}
	}
}

func TestPhoneKey_EquivalentFormsMatch(t *testing.T) {
	forms := []string{"+49 170 1234567", "0049 170 1234567", "0170/1234567", "+49-170-123 45 67"}
	want := PhoneKey(forms[0], "49")
	for _, f := range forms[1:] {
		if got := PhoneKey(f, "49"); got != want {
			t.Errorf("PhoneKey(%q) = %q, want %q", f, got, want)
		}
	}
}

func TestLooksLikePhone(t *testing.T) {
	yes := []string{"+49 170 1234567", "0170-1234567", " (0170) 123 4567 "}
	no := []string{"", "Hallo", "482913", "call me at 0170 1234567", "1234567890123456"}
	for _, s := range yes {
		if !LooksLikePhone(s) {
			t.Errorf("LooksLikePhone(%q) = false", s)
		}
	}
	for _, s := range no {
		if LooksLikePhone(s) {
			t.Errorf("LooksLikePhone(%q) = true", s)
		}
	}
}

func TestMaskEmail(t *testing.T) {
	tests := map[string]string{
		"anna@example.com": "a***@example.com",
		"e@x.de":           "e***@x.de",
		"broken":           "***",
		"@nouser.com":      "***",
	}
	for in, want := range tests {
		if got := MaskEmail(in); got != want {
			t.Errorf("MaskEmail(%q) = %q, want %q", in, got, want)
		}
	}
}
