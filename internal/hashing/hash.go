package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

type queryHashPayload struct {
	EntityType string `json:"entity_type"`
	Query      string `json:"query"`
}

// HashQuery fingerprints the query a generation materialized. Whitespace runs
// are collapsed so reformatting a query does not change its hash.
func HashQuery(entityType, query string) string {
	p := queryHashPayload{
		EntityType: strings.ToLower(strings.TrimSpace(entityType)),
		Query:      strings.Join(strings.Fields(query), " "),
	}
	b, _ := json.Marshal(p)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
