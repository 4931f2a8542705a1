package httpapi

import "github.com/querysync/core/internal/types"

// DSNResolver turns a Datasource's opaque, encrypted connection string into
// a plaintext DSN the engine pool can dial. Decryption is an external
// collaborator concern; this is the seam it plugs into.
type DSNResolver interface {
	Resolve(ds types.Datasource) (string, error)
}

// PassthroughResolver treats EncryptedConn as already plaintext. It is the
// only resolver this module ships; production deployments supply their own
// that calls out to a secrets manager or KMS.
type PassthroughResolver struct{}

// Resolve implements DSNResolver.
func (PassthroughResolver) Resolve(ds types.Datasource) (string, error) {
	return ds.EncryptedConn, nil
}
