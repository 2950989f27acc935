package daraja

import (
	"errors"
	"testing"
)

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"leading zero", "0712345678", "254712345678"},
		{"bare nine digits", "712345678", "254712345678"},
		{"already canonical", "254712345678", "254712345678"},
		{"international prefix", "+254712345678", "254712345678"},
		{"spaces and dashes", "0712 345-678", "254712345678"},
		{"zero one prefix", "0112345678", "254112345678"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizePhone(tc.input)
			if err != nil {
				t.Fatalf("NormalizePhone(%q) returned error: %v", tc.input, err)
			}
			if got != tc.want {
				t.Fatalf("NormalizePhone(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestNormalizePhoneRejectsMalformedInput(t *testing.T) {
	inputs := []string{
		"",
		"12345",
		"07123456789",
		"25571234567",
		"not a number",
		"25471234567",
	}
	for _, input := range inputs {
		if _, err := NormalizePhone(input); err == nil {
			t.Errorf("NormalizePhone(%q) accepted malformed input", input)
		} else {
			var invalidErr *InvalidPhoneError
			if !errors.As(err, &invalidErr) {
				t.Errorf("NormalizePhone(%q) returned %T, want *InvalidPhoneError", input, err)
			} else if invalidErr.Input != input {
				t.Errorf("error carries input %q, want %q", invalidErr.Input, input)
			}
		}
	}
}
