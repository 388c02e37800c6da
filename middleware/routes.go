package middleware

import (
	"strings"

	"github.com/MrEthical07/cardauth"
)

// RouteClass says what a route requires of the caller.
type RouteClass int

const (
	// ClassDefault routes accept a credential but do not require one.
	ClassDefault RouteClass = iota
	// ClassPublic routes are served without looking at credentials.
	ClassPublic
	// ClassGuestOnly routes are for signed-out callers only (login, register).
	ClassGuestOnly
	// ClassProtected routes require a valid, unrevoked credential.
	ClassProtected
)

func (c RouteClass) String() string {
	switch c {
	case ClassPublic:
		return "public"
	case ClassGuestOnly:
		return "guest_only"
	case ClassProtected:
		return "protected"
	default:
		return "default"
	}
}

// RouteTable classifies request paths. A pattern is either an exact path or a
// prefix ending in "/*", which matches the prefix itself and everything below it.
type RouteTable struct {
	apiPrefix string
	public    []string
	guest     []string
	protected []string
}

// NewRouteTable builds a table from the gate configuration.
func NewRouteTable(cfg cardauth.GateConfig) *RouteTable {
	return &RouteTable{
		apiPrefix: cfg.APIPrefix,
		public:    append([]string(nil), cfg.PublicPaths...),
		guest:     append([]string(nil), cfg.GuestPaths...),
		protected: append([]string(nil), cfg.Protected...),
	}
}

// Classify returns the class of path. Protected patterns win over guest-only
// patterns, which win over public ones.
func (t *RouteTable) Classify(path string) RouteClass {
	switch {
	case matchAny(path, t.protected):
		return ClassProtected
	case matchAny(path, t.guest):
		return ClassGuestOnly
	case matchAny(path, t.public):
		return ClassPublic
	default:
		return ClassDefault
	}
}

// IsAPI reports whether path is API-shaped. API routes are rejected with a
// status code; page routes are redirected.
func (t *RouteTable) IsAPI(path string) bool {
	return t.apiPrefix != "" && strings.HasPrefix(path, t.apiPrefix)
}

func matchAny(path string, patterns []string) bool {
	for _, p := range patterns {
		if match(path, p) {
			return true
		}
	}
	return false
}

func match(path, pattern string) bool {
	base, wildcard := strings.CutSuffix(pattern, "/*")
	if !wildcard {
		return path == pattern
	}
	return path == base || strings.HasPrefix(path, base+"/")
}
