package utils

import "testing"

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"+15551234567", "+15551234567"},
		{"whatsapp:+15551234567", "+15551234567"},
		{"sms:+15551234567", "+15551234567"},
		{"  +15551234567 ", "+15551234567"},
		{" whatsapp:+15551234567", "+15551234567"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizePhone(tc.in); got != tc.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestIsE164(t *testing.T) {
	valid := []string{"+15551234567", "+442071838750", "+12345678"}
	for _, phone := range valid {
		if !IsE164(phone) {
			t.Errorf("IsE164(%q) = false, want true", phone)
		}
	}

	invalid := []string{"", "+", "15551234567", "+1555123x567", "+123", "+12345678901234567"}
	for _, phone := range invalid {
		if IsE164(phone) {
			t.Errorf("IsE164(%q) = true, want false", phone)
		}
	}
}
