// Package signer produces OpenPGP signatures over written documents.
package signer

// Signer creates detached signatures
type Signer interface {
	// SignDetached creates an armored detached signature over data
	SignDetached(data []byte) ([]byte, error)

	// Fingerprint identifies the signing key
	Fingerprint() string
}
