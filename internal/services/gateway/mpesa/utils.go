package mpesa

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// FormatPhone canonicalizes a Kenyan mobile number to 2547XXXXXXXX /
// 2541XXXXXXXX form, the shape Daraja expects.
func FormatPhone(raw string) (string, error) {
	var digits strings.Builder
	for _, r := range strings.TrimPrefix(strings.TrimSpace(raw), "+") {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')':
			// separators are tolerated
		default:
			return "", fmt.Errorf("formatPhone: unexpected character %q in %q", r, raw)
		}
	}

	p := digits.String()
	switch {
	case strings.HasPrefix(p, "254") && len(p) == 12:
		return p, nil
	case strings.HasPrefix(p, "0") && len(p) == 10:
		return "254" + p[1:], nil
	case (strings.HasPrefix(p, "7") || strings.HasPrefix(p, "1")) && len(p) == 9:
		return "254" + p, nil
	}

	return "", fmt.Errorf("formatPhone: %q is not a valid mobile number", raw)
}

// darajaTimestamp renders t the way STK password hashing expects.
func darajaTimestamp(t time.Time) string {
	return t.Format("20060102150405")
}

// darajaPassword builds the STK request password: base64 of
// shortcode+passkey+timestamp.
func darajaPassword(shortCode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
}

// Terminal decline result codes. Everything not listed here and not 0 is
// still treated as terminal, but these carry buyer-meaningful reasons.
var resultDescriptions = map[string]string{
	"1":    "insufficient balance",
	"1001": "another transaction already in progress",
	"1019": "transaction expired",
	"1032": "cancelled by user",
	"1037": "no response from user",
	"2001": "wrong PIN or initiator details",
}

// retryableQueryError reports whether an STK query error means "ask again
// later" rather than a terminal outcome.
func retryableQueryError(httpStatus int, errorCode, errorMessage string) bool {
	if httpStatus == 429 || httpStatus == 401 {
		return true
	}
	if errorCode == "500.001.1001" {
		// "The transaction is being processed"
		return true
	}
	msg := strings.ToLower(errorMessage)
	return strings.Contains(msg, "being processed") ||
		strings.Contains(msg, "spike arrest") ||
		strings.Contains(msg, "rate limit")
}
