package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefix for derived namespaces. The version suffix leaves room for
// a future algorithm migration.
const (
	DomainScope = "optisync/scope/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ScopeHash derives the cache namespace for an identity.
// The tenant is part of the hash so that switching tenants under the same
// user never shares a namespace.
func ScopeHash(id Identity) (string, error) {
	obj := Object{
		"tenant_id": String(id.TenantID),
		"user_id":   String(id.UserID),
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("ScopeHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainScope, canonical), nil
}
