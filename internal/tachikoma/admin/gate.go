// Package admin implements the operator command surface: the authorization
// gate, the runtime-mutation service behind it, and the chat-prefix parser.
// Every configuration mutation in the process flows through Service, which
// checks the gate before touching anything and writes an audit entry either
// way.
package admin

import (
	"errors"
	"strings"
)

// ErrUnauthorized is returned when a non-admin issuer attempts a mutation.
// The message is deliberately generic: it must not reveal who the admins are.
var ErrUnauthorized = errors.New("admin: not authorized")

// Gate validates command issuers against the configured administrator set.
// It is stateless; the admin list is fixed at construction.
type Gate struct {
	admins map[string]struct{}
}

// NewGate builds a Gate from the configured admin identities. Matrix user ID
// localparts are case-insensitive on most homeservers, so identities are
// normalized to lower case on both sides of the comparison.
func NewGate(admins []string) *Gate {
	set := make(map[string]struct{}, len(admins))
	for _, a := range admins {
		a = normalize(a)
		if a != "" {
			set[a] = struct{}{}
		}
	}
	return &Gate{admins: set}
}

// Authorize reports whether issuer is a configured administrator.
func (g *Gate) Authorize(issuer string) bool {
	_, ok := g.admins[normalize(issuer)]
	return ok
}

func normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
