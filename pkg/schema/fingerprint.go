package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/gowebpki/jcs"

	"github.com/covenant-data/covenant/pkg/errs"
)

// Fingerprint returns the SHA-256 hex digest of the RFC 8785 canonical form
// of the document. Two schemas with the same fingerprint are byte-identical
// after canonicalization, which is how the publish path detects no-op
// republishes and how the cache keys contract payloads.
func Fingerprint(raw json.RawMessage) (string, error) {
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", errs.Wrap(errs.KindBrokenContract, err, "schema cannot be canonicalized")
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// SameDocument reports whether a and b canonicalize to identical bytes.
func SameDocument(a, b json.RawMessage) (bool, error) {
	fa, err := Fingerprint(a)
	if err != nil {
		return false, err
	}
	fb, err := Fingerprint(b)
	if err != nil {
		return false, err
	}
	return fa == fb, nil
}
