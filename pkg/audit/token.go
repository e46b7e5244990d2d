package audit

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// TokenPrefix marks a replay token on the wire.
const TokenPrefix = "rpl_"

// EncodeToken builds the replay token for a decision: URL-safe base64 of
// "decision_id:scenario_hash", padding stripped, prefixed.
func EncodeToken(decisionID, scenarioHash string) string {
	raw := decisionID + ":" + scenarioHash
	return TokenPrefix + base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeToken reverses EncodeToken. The scenario hash itself contains a
// colon ("sha256:…"), so only the first separator splits.
func DecodeToken(token string) (decisionID, scenarioHash string, err error) {
	if !strings.HasPrefix(token, TokenPrefix) {
		return "", "", fmt.Errorf("audit: token missing %q prefix", TokenPrefix)
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(token, TokenPrefix))
	if err != nil {
		return "", "", fmt.Errorf("audit: token decode: %w", err)
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("audit: malformed token payload")
	}
	return parts[0], parts[1], nil
}

// IsToken reports whether an identifier on the replay surface is a token
// rather than a bare decision id.
func IsToken(s string) bool { return strings.HasPrefix(s, TokenPrefix) }
