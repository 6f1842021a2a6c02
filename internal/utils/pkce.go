package utils

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// TransformMethod identifies how a PKCE verifier is turned into the
// challenge the desktop registered. Exactly one method is active at a
// time; which one is a configuration parameter.
type TransformMethod string

const (
	TransformS256  TransformMethod = "S256"
	TransformPlain TransformMethod = "plain"
)

// ParseTransformMethod converts the wire/config string to the enum.
func ParseTransformMethod(s string) (TransformMethod, error) {
	switch s {
	case string(TransformS256):
		return TransformS256, nil
	case string(TransformPlain):
		return TransformPlain, nil
	default:
		return "", fmt.Errorf("invalid transform method: %q", s)
	}
}

// ChallengeFromVerifier recomputes the challenge for a presented verifier
// under the given transform.
func ChallengeFromVerifier(verifier string, method TransformMethod) string {
	if method == TransformPlain {
		return verifier
	}
	digest := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(digest[:])
}

// VerifierMatchesChallenge recomputes the challenge from the verifier and
// compares it to the stored challenge in constant time. Callers only learn
// pass/fail, never which part differed.
func VerifierMatchesChallenge(verifier, storedChallenge string, method TransformMethod) bool {
	computed := ChallengeFromVerifier(verifier, method)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedChallenge)) == 1
}
