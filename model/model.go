package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Owner types recognised by the ledger. Every balance row belongs to exactly
// one (owner_type, owner_id, currency) key.
const (
	OwnerTypeAgent    = "agent"
	OwnerTypeOperator = "operator"
)

// GenerateUUIDWithSuffix generates a UUID with a given module name as a prefix.
// This is useful for creating unique identifiers with context-specific prefixes.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	uuidStr := id.String()
	idWithSuffix := fmt.Sprintf("%s_%s", module, uuidStr)
	return idWithSuffix
}

// ValidOwnerType reports whether the given owner type is one the ledger accepts.
func ValidOwnerType(ownerType string) bool {
	return ownerType == OwnerTypeAgent || ownerType == OwnerTypeOperator
}

// hashFields concatenates the given fields and returns the hex-encoded SHA-256
// digest. Used for entry integrity hashes.
func hashFields(fields ...string) string {
	data := ""
	for _, f := range fields {
		data += f
	}
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}
