// Package security holds the request-level primitives shared by the device and
// admin authentication paths: constant-time secret comparison and client IP
// resolution behind a reverse proxy.
package security

import "crypto/subtle"

// SecureCompare reports whether the provided secret equals the expected one.
// An empty value on either side never matches, so an unset secret in the
// configuration cannot be satisfied by an empty submission.
//
// For non-empty inputs the running time depends only on the lengths of the
// operands, never on their contents.
func SecureCompare(provided, expected string) bool {
	if provided == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}
