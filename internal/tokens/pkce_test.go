package tokens

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func challengeFor(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func TestValidateChallenge(t *testing.T) {
	valid := challengeFor(strings.Repeat("a", 43))

	tests := []struct {
		name      string
		challenge string
		method    string
		wantErr   bool
	}{
		{
			name:      "valid S256 challenge",
			challenge: valid,
			method:    "S256",
			wantErr:   false,
		},
		{
			name:      "missing challenge",
			challenge: "",
			method:    "S256",
			wantErr:   true,
		},
		{
			name:      "plain method rejected",
			challenge: valid,
			method:    "plain",
			wantErr:   true,
		},
		{
			name:      "missing method rejected",
			challenge: valid,
			method:    "",
			wantErr:   true,
		},
		{
			name:      "challenge too short",
			challenge: "short",
			method:    "S256",
			wantErr:   true,
		},
		{
			name:      "challenge too long",
			challenge: strings.Repeat("a", 129),
			method:    "S256",
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChallenge(tt.challenge, tt.method)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestVerifyChallenge(t *testing.T) {
	verifier := strings.Repeat("v", 50)
	challenge := challengeFor(verifier)

	assert.True(t, VerifyChallenge(challenge, verifier))
	assert.False(t, VerifyChallenge(challenge, strings.Repeat("w", 50)))
	assert.False(t, VerifyChallenge(challenge, "tooshort"))
	assert.False(t, VerifyChallenge(challenge, strings.Repeat("v", 129)))
	assert.False(t, VerifyChallenge("", verifier))
}
