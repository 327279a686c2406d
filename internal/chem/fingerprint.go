package chem

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint returns the content digest identifying g: the SHA-256 of its
// canonical serialization, lowercase hex. Equal canonical graphs always get
// equal fingerprints regardless of how they were built or enumerated; a
// digest collision is treated as identity, not as an error, which is what
// lets the content-addressed cache trust the key. Construction history and
// any geometric data are not part of identity.
func Fingerprint(g Graph) (string, error) {
	canon, err := Canonicalize(g)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(Serialize(canon)))
	return hex.EncodeToString(sum[:]), nil
}
