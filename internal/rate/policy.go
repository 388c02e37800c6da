package rate

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Tier names a row of the policy table.
type Tier string

const (
	TierRead  Tier = "read"
	TierWrite Tier = "write"
	TierBatch Tier = "batch"
	TierAI    Tier = "ai"
)

// Policy is the limit applied to one request shape.
type Policy struct {
	Tier   Tier
	Limit  int
	Window time.Duration
}

var policies = map[Tier]Policy{
	TierRead:  {Tier: TierRead, Limit: 100, Window: time.Minute},
	TierWrite: {Tier: TierWrite, Limit: 30, Window: time.Minute},
	TierBatch: {Tier: TierBatch, Limit: 10, Window: time.Minute},
	TierAI:    {Tier: TierAI, Limit: 5, Window: time.Minute},
}

var (
	aiShapes    = []string{"/generations", "/ai/"}
	batchShapes = []string{"/batch", "/bulk"}
)

// PolicyFor returns the policy for a route and method. AI-backed routes get the
// strictest tier regardless of method. Reads are GET, HEAD and OPTIONS.
func PolicyFor(route, method string) Policy {
	path := strings.ToLower(route)
	if matchesAny(path, aiShapes) {
		return policies[TierAI]
	}

	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions, "":
		return policies[TierRead]
	}

	if matchesAny(path, batchShapes) {
		return policies[TierBatch]
	}
	return policies[TierWrite]
}

// PolicyOf returns the configured policy for a tier.
func PolicyOf(t Tier) (Policy, bool) {
	p, ok := policies[t]
	return p, ok
}

// idSegment replaces path segments that name one resource.
const idSegment = ":id"

// Key scopes a window to one principal, route shape and method. Requests for
// different resources under the same route share a window.
func Key(principal, route, method string) string {
	return principal + "|" + strings.ToUpper(method) + "|" + Shape(route)
}

// Shape collapses resource identifiers in route to ":id", so /api/flashcards/42
// and /api/flashcards/43 have the same shape. Numbers, UUIDs and long opaque
// tokens containing a digit count as identifiers.
func Shape(route string) string {
	segs := strings.Split(route, "/")
	for i, seg := range segs {
		if isIdentifier(seg) {
			segs[i] = idSegment
		}
	}
	return strings.Join(segs, "/")
}

func isIdentifier(seg string) bool {
	if seg == "" {
		return false
	}
	if _, err := uuid.Parse(seg); err == nil && len(seg) == 36 {
		return true
	}
	digits, opaque := 0, len(seg) >= 20
	for _, r := range seg {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '-', r == '_':
			if len(seg) < 20 {
				return false
			}
		default:
			return false
		}
	}
	return digits == len(seg) || (opaque && digits > 0)
}

func matchesAny(path string, shapes []string) bool {
	for _, s := range shapes {
		if strings.Contains(path, s) {
			return true
		}
	}
	return false
}
