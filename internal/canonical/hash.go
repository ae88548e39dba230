package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes. The version suffix allows the
// encoding to change without colliding with old hashes.
const (
	DomainDocument   = "vegaplus/document/v1"
	DomainDescriptor = "vegaplus/descriptor/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Hash returns the hex SHA-256 of the canonical encoding of v under domain.
func Hash(domain string, v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonical hash: %w", err)
	}
	return hashWithDomain(domain, data), nil
}

// DocumentHash hashes a whole document given as a plain JSON object.
func DocumentHash(doc map[string]any) (string, error) {
	return Hash(DomainDocument, doc)
}

// DescriptorHash hashes an encoded query descriptor.
func DescriptorHash(desc map[string]any) (string, error) {
	return Hash(DomainDescriptor, desc)
}
