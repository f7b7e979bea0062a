package utils

import (
	"strings"
)

// NormalizePhone strips carrier channel prefixes ("whatsapp:+1...",
// "sms:+1...") and surrounding whitespace, leaving the bare E.164 number.
func NormalizePhone(raw string) string {
	phone := strings.TrimSpace(raw)
	for _, prefix := range []string{"whatsapp:", "sms:"} {
		if strings.HasPrefix(phone, prefix) {
			phone = phone[len(prefix):]
			break
		}
	}
	return strings.TrimSpace(phone)
}

// IsE164 does a light shape check: leading +, 8 to 15 digits.
func IsE164(phone string) bool {
	if len(phone) < 9 || len(phone) > 16 || phone[0] != '+' {
		return false
	}
	for _, r := range phone[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
