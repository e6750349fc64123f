package tokens

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"

	"oauth-service/pkg/oautherr"
)

// CodeChallengeMethodS256 is the only accepted PKCE transform; plain is
// rejected everywhere.
const CodeChallengeMethodS256 = "S256"

const (
	minVerifierLength = 43
	maxVerifierLength = 128
)

// ValidateChallenge checks a PKCE challenge at authorization time.
func ValidateChallenge(challenge, method string) error {
	if challenge == "" {
		return oautherr.WithDescription(oautherr.ErrInvalidRequest, "missing code_challenge")
	}
	if method != CodeChallengeMethodS256 {
		return oautherr.WithDescription(oautherr.ErrInvalidRequest, "code_challenge_method must be S256")
	}
	if len(challenge) < minVerifierLength || len(challenge) > maxVerifierLength {
		return oautherr.WithDescription(oautherr.ErrInvalidRequest, "code_challenge length out of range")
	}
	return nil
}

// VerifyChallenge checks a code_verifier against the stored challenge:
// base64url(SHA-256(verifier)) must equal the challenge. The comparison is
// constant-time.
func VerifyChallenge(challenge, verifier string) bool {
	if len(verifier) < minVerifierLength || len(verifier) > maxVerifierLength {
		return false
	}

	sum := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(sum[:])

	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
