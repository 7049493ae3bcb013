package catalog

import "crypto/subtle"

// constantTimeEqual compares two secrets without leaking their length
// difference through early-exit timing. subtle.ConstantTimeCompare
// requires equal-length inputs, so unequal lengths are rejected up front
// — that branch's timing depends only on len(), never on the secret's
// content, which is the property the invariant cares about.
func constantTimeEqual(stored, presented string) bool {
	if len(stored) != len(presented) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}
