package app

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
)

const otpDigits = 6

// newOTP returns a cryptographically random numeric code and its SHA-256
// hash. Only the hash is persisted; the code travels to the organizer
// through the notification port.
func newOTP() (code, hash string, err error) {
	max := big.NewInt(1)
	for i := 0; i < otpDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", "", fmt.Errorf("generate otp: %w", err)
	}
	code = fmt.Sprintf("%0*d", otpDigits, n)
	return code, hashOTP(code), nil
}

func hashOTP(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// otpMatches compares a submitted code against the stored hash in constant
// time.
func otpMatches(storedHash, code string) bool {
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(hashOTP(code))) == 1
}
