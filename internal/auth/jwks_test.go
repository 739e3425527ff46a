// ABOUTME: Tests for RS256 verification against a fake JWKS endpoint.
// ABOUTME: Covers audience and issuer checks, key caching, rotation and per-kid refetch throttling.

package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testDomain   = "tenant.example.com"
	testAudience = "https://asr.example.com"
)

type testJWKSet struct {
	Keys []testJWK `json:"keys"`
}

type testJWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// jwksServer serves a mutable key set and counts fetches.
type jwksServer struct {
	mu   sync.Mutex
	keys map[string]*rsa.PublicKey
	hits atomic.Int32
	srv  *httptest.Server
}

func newJWKSServer(t *testing.T) *jwksServer {
	t.Helper()
	s := &jwksServer{keys: map[string]*rsa.PublicKey{}}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		s.mu.Lock()
		defer s.mu.Unlock()

		set := testJWKSet{Keys: []testJWK{}}
		for kid, k := range s.keys {
			set.Keys = append(set.Keys, testJWK{
				Kid: kid,
				Kty: "RSA",
				Use: "sig",
				Alg: "RS256",
				N:   base64.RawURLEncoding.EncodeToString(k.N.Bytes()),
				E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(k.E)).Bytes()),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *jwksServer) add(kid string, key *rsa.PublicKey) {
	s.mu.Lock()
	s.keys[kid] = key
	s.mu.Unlock()
}

func newKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func signRS256(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(key)
	require.NoError(t, err)
	return s
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub": "auth0|user-1",
		"aud": testAudience,
		"iss": "https://" + testDomain + "/",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
}

func bearer(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}

func newTestJWKSAuthorizer(t *testing.T, s *jwksServer, ttl time.Duration) *JWKSAuthorizer {
	t.Helper()
	a := NewJWKSAuthorizer(testDomain, testAudience,
		WithJWKSURL(s.srv.URL), WithCacheTTL(ttl), WithJWKSLogger(discardLogger()))
	t.Cleanup(a.Close)
	return a
}

func TestJWKSAuthorizer_Valid(t *testing.T) {
	key := newKey(t)
	s := newJWKSServer(t)
	s.add("k1", &key.PublicKey)
	a := newTestJWKSAuthorizer(t, s, time.Minute)

	id, err := a.Authorize(t.Context(), bearer(signRS256(t, key, "k1", validClaims())))
	require.NoError(t, err)
	assert.Equal(t, "auth0|user-1", id.Subject)
	assert.Equal(t, "auth0", id.Method)

	// Second verification uses the cached key set.
	_, err = a.Authorize(t.Context(), bearer(signRS256(t, key, "k1", validClaims())))
	require.NoError(t, err)
	assert.Equal(t, int32(1), s.hits.Load())
}

func TestJWKSAuthorizer_Rejections(t *testing.T) {
	key := newKey(t)
	other := newKey(t)
	s := newJWKSServer(t)
	s.add("k1", &key.PublicKey)
	a := newTestJWKSAuthorizer(t, s, time.Minute)

	wrongAud := validClaims()
	wrongAud["aud"] = "https://someone-else"
	wrongIss := validClaims()
	wrongIss["iss"] = "https://evil.example.com/"
	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Minute).Unix()
	noExp := validClaims()
	delete(noExp, "exp")

	hs256, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims()).SignedString(testSecret)

	tests := []struct {
		name  string
		token string
	}{
		{"wrong audience", signRS256(t, key, "k1", wrongAud)},
		{"wrong issuer", signRS256(t, key, "k1", wrongIss)},
		{"expired", signRS256(t, key, "k1", expired)},
		{"no expiry", signRS256(t, key, "k1", noExp)},
		{"signed by another key", signRS256(t, other, "k1", validClaims())},
		{"hs256", hs256},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Authorize(t.Context(), bearer(tt.token))
			assert.ErrorIs(t, err, ErrUnauthorized)
		})
	}

	_, err := a.Authorize(t.Context(), basicHeader("Basic", "u", "p"))
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestJWKSAuthorizer_UnknownKidRefetchedOnce(t *testing.T) {
	key := newKey(t)
	rotated := newKey(t)
	s := newJWKSServer(t)
	s.add("k1", &key.PublicKey)
	a := newTestJWKSAuthorizer(t, s, time.Minute)

	_, err := a.Authorize(t.Context(), bearer(signRS256(t, key, "k1", validClaims())))
	require.NoError(t, err)
	require.Equal(t, int32(1), s.hits.Load())

	// Unknown kid: one refetch, then throttled.
	unknown := bearer(signRS256(t, rotated, "k2", validClaims()))
	_, err = a.Authorize(t.Context(), unknown)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(2), s.hits.Load())

	_, err = a.Authorize(t.Context(), unknown)
	assert.ErrorIs(t, err, ErrUnknownKey)
	assert.Equal(t, int32(2), s.hits.Load())
}

func TestJWKSAuthorizer_RotatedKeyPickedUp(t *testing.T) {
	key := newKey(t)
	rotated := newKey(t)
	s := newJWKSServer(t)
	s.add("k1", &key.PublicKey)
	a := newTestJWKSAuthorizer(t, s, time.Minute)

	_, err := a.Authorize(t.Context(), bearer(signRS256(t, key, "k1", validClaims())))
	require.NoError(t, err)

	s.add("k2", &rotated.PublicKey)
	_, err = a.Authorize(t.Context(), bearer(signRS256(t, rotated, "k2", validClaims())))
	require.NoError(t, err)
	assert.Equal(t, int32(2), s.hits.Load())
}

func TestJWKSAuthorizer_StaleCacheRefetched(t *testing.T) {
	key := newKey(t)
	s := newJWKSServer(t)
	s.add("k1", &key.PublicKey)
	a := newTestJWKSAuthorizer(t, s, 20*time.Millisecond)

	_, err := a.Authorize(t.Context(), bearer(signRS256(t, key, "k1", validClaims())))
	require.NoError(t, err)

	// The key set refreshes in the background once the cache window passes.
	assert.Eventually(t, func() bool { return s.hits.Load() >= 2 }, time.Second, 10*time.Millisecond)
	_, err = a.Authorize(t.Context(), bearer(signRS256(t, key, "k1", validClaims())))
	require.NoError(t, err)
}

func TestJWKSAuthorizer_EndpointDown(t *testing.T) {
	key := newKey(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := NewJWKSAuthorizer(testDomain, testAudience, WithJWKSURL(srv.URL), WithJWKSLogger(discardLogger()))
	defer a.Close()
	assert.Zero(t, hits.Load(), "key set is not fetched before first use")

	token := bearer(signRS256(t, key, "k1", validClaims()))
	_, err := a.Authorize(t.Context(), token)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Contains(t, err.Error(), "loading jwks")

	// A failed first load is retried on the next handshake.
	_, err = a.Authorize(t.Context(), token)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.GreaterOrEqual(t, hits.Load(), int32(2))
}

func TestNewJWKSAuthorizer_DerivesURLs(t *testing.T) {
	a := NewJWKSAuthorizer("tenant.auth0.com", "aud")
	defer a.Close()

	assert.Equal(t, "https://tenant.auth0.com/.well-known/jwks.json", a.jwksURL)
	assert.Equal(t, "https://tenant.auth0.com/", a.issuer)

	issuer, url := jwksEndpoints("login.example.org")
	assert.Equal(t, "https://login.example.org/", issuer)
	assert.Equal(t, "https://login.example.org/.well-known/jwks.json", url)
}
