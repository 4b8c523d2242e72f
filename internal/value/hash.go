package value

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes.
// Version suffix enables future algorithm migration.
const (
	DomainMutation = "civic/mutation/v1"
	DomainRecord   = "civic/record/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Hash computes the domain-separated content hash of v's canonical JSON.
func Hash(domain string, v Value) (string, error) {
	canonical, err := marshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", domain, err)
	}
	return hashWithDomain(domain, canonical), nil
}

// MutationKey computes the idempotency key sent with an optimistic write.
// The same action by the same user on the same subject at the same logical
// sequence always produces the same key, so a retried request is
// recognizable by the server.
func MutationKey(action, user, subject string, seq int64) (string, error) {
	return Hash(DomainMutation, Object{
		"action":  String(action),
		"user":    String(user),
		"subject": String(subject),
		"seq":     Int(seq),
	})
}
