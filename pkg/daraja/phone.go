/**
 * @description
 * Phone number normalization for the Daraja gateway. The gateway only accepts
 * the canonical 12-digit wire format (country code + 9 digits, e.g.
 * 254712345678), while users type numbers as 07…, 7…, 2547… or +2547….
 */

package daraja

import (
	"fmt"
	"strings"
)

const countryCode = "254"

// InvalidPhoneError is returned when a phone number cannot be normalized to
// the canonical wire format. It carries the original input for diagnostics.
type InvalidPhoneError struct {
	Input string
}

func (e *InvalidPhoneError) Error() string {
	return fmt.Sprintf("invalid phone number format: %q", e.Input)
}

// NormalizePhone converts a user-supplied phone number to the canonical
// 12-digit format. All non-digit characters are stripped first, then the
// accepted shapes are tried in priority order:
//
//	0XXXXXXXXX        -> leading 0 replaced with the country code
//	7XXXXXXXX         -> country code prepended
//	254XXXXXXXXX      -> passed through
//	+254XXXXXXXXX     -> '+' dropped by the digit strip, passed through
//
// Any other shape fails with *InvalidPhoneError. The function is pure and
// performs no I/O.
func NormalizePhone(input string) (string, error) {
	var digits strings.Builder
	for _, r := range input {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	cleaned := digits.String()

	switch {
	case len(cleaned) == 10 && strings.HasPrefix(cleaned, "0"):
		return countryCode + cleaned[1:], nil
	case len(cleaned) == 9 && strings.HasPrefix(cleaned, "7"):
		return countryCode + cleaned, nil
	case len(cleaned) == 12 && strings.HasPrefix(cleaned, countryCode):
		return cleaned, nil
	}
	return "", &InvalidPhoneError{Input: input}
}
