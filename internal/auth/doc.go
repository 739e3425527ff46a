// Package auth decides whether a connecting client may open a session.
//
// # Authorizer
//
// Every method implements one capability:
//
//	type Authorizer interface {
//	    Authorize(ctx context.Context, header http.Header) (Identity, error)
//	}
//
// The gateway calls it with the websocket handshake headers. Any error means
// the client is rejected; errors wrap ErrUnauthorized.
//
// # Methods
//
//   - none: NoAuth accepts everyone.
//   - database: BasicAuthorizer checks "Authorization: Basic" credentials
//     against a CredentialStore.
//   - auth0: JWKSAuthorizer verifies RS256 bearer tokens with keys fetched from
//     https://<domain>/.well-known/jwks.json and enforces audience and issuer.
//   - jwt: JWTVerifier verifies HS256 bearer tokens signed with the shared
//     jwt_secret. It also mints tokens for the CLI.
//
// New picks the implementation from configuration.
package auth
