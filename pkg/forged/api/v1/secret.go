package api_v1

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
)

// ValidateSecret compares a submitted secret against the configured one.
// Both values are hashed first so that the comparison takes constant time
// regardless of length.
func ValidateSecret(submitted, configured string) error {
	if len(configured) == 0 {
		return fmt.Errorf("no pre-shared secret is configured")
	}

	submittedSum := sha256.Sum256([]byte(submitted))
	configuredSum := sha256.Sum256([]byte(configured))

	if !hmac.Equal(submittedSum[:], configuredSum[:]) {
		return fmt.Errorf("secret mismatch")
	}

	return nil
}
