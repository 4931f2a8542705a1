package httpapi

import (
	"net/http"

	"github.com/querysync/core/internal/types"
)

// Authenticator resolves the caller's Actor and datasource access from an
// inbound request. Authentication and ACL enforcement are external
// collaborator concerns; this interface is the seam a real deployment
// plugs into.
type Authenticator interface {
	// Authenticate returns the calling Actor, or an error for a missing or
	// invalid share token.
	Authenticate(r *http.Request) (types.Actor, error)
	// Authorize reports whether actor may access datasourceID.
	Authorize(actor types.Actor, datasourceID string) error
}

// TrustAll is a stub Authenticator that accepts every request as a fixed
// actor and grants access to every datasource. It exists so this module
// links and its own tests exercise the dispatch layer end to end.
type TrustAll struct {
	// ActorID is the identity every request resolves to.
	ActorID string
}

// Authenticate implements Authenticator.
func (t TrustAll) Authenticate(r *http.Request) (types.Actor, error) {
	id := r.Header.Get("X-Actor-Id")
	if id == "" {
		id = t.ActorID
	}
	if id == "" {
		id = "trusted"
	}
	return types.Actor{ID: id}, nil
}

// Authorize implements Authenticator.
func (TrustAll) Authorize(types.Actor, string) error { return nil }
