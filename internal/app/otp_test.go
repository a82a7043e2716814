package app

import "testing"

func TestNewOTP(t *testing.T) {
	t.Parallel()

	code, hash, err := newOTP()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(code) != otpDigits {
		t.Fatalf("expected %d digits, got %q", otpDigits, code)
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			t.Fatalf("expected numeric code, got %q", code)
		}
	}
	if hash == code {
		t.Fatalf("hash must differ from the code")
	}
	if !otpMatches(hash, code) {
		t.Fatalf("code must match its own hash")
	}
	if otpMatches(hash, "000000") && code != "000000" {
		t.Fatalf("wrong code matched")
	}
}

func TestOTPMatchesRejectsRawComparison(t *testing.T) {
	t.Parallel()

	// The stored value is a hash; submitting the hash itself must fail.
	_, hash, err := newOTP()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if otpMatches(hash, hash) {
		t.Fatalf("hash submitted as code must not match")
	}
}
