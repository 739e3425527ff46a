// Package dedupe provides a bounded, time-windowed record of recently seen
// keys. The JWKS authorizer uses it so a token with an unknown key id can
// force at most one key-set refetch per window.
package dedupe
