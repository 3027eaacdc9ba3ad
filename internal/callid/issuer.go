// Package callid issues and validates call identifiers.
//
// Canonical form: 36 characters, lowercase, hex groups 8-4-4-4-12. Client
// supplied identifiers are accepted when they match the grammar and are
// re-checked for uniqueness against the registry; everything else is replaced
// by a synthesized identifier, never rejected.
package callid

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// maxAttempts bounds the collision retry loop. After the bound is exhausted
// one more identifier is generated without a registry check; the residual
// collision probability is an accepted trade-off.
const maxAttempts = 5

var canonical = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// Validate reports whether s matches the canonical grammar,
// case-insensitively.
func Validate(s string) bool {
	return canonical.MatchString(Normalize(s))
}

// Normalize trims and lowercases a candidate identifier.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Generate produces a fresh identifier that does not collide with any id for
// which exists returns true. Retries up to maxAttempts before falling back to
// an unchecked identifier.
func Generate(exists func(string) bool) string {
	if exists != nil {
		for i := 0; i < maxAttempts; i++ {
			id := uuid.NewString()
			if !exists(id) {
				return id
			}
		}
	}
	return uuid.NewString()
}

// Resolve applies the client-identifier policy: a well-formed candidate is
// normalized and used; anything else is replaced by a generated identifier.
// An accepted candidate is re-checked for uniqueness and replaced on
// collision. The second return reports whether the candidate was kept.
func Resolve(candidate string, exists func(string) bool) (string, bool) {
	if c := Normalize(candidate); c != "" && canonical.MatchString(c) {
		if exists == nil || !exists(c) {
			return c, true
		}
	}
	return Generate(exists), false
}
