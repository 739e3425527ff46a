// ABOUTME: RS256 bearer verification against an identity provider's JWKS endpoint.
// ABOUTME: keyfunc/jwkset own the key set; unknown key ids are refetched at most once per kid per cache window.

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/2389/asr-gateway/internal/config"
	"github.com/2389/asr-gateway/internal/dedupe"
)

// ErrUnknownKey indicates the token's key id is not in the key set.
var ErrUnknownKey = errors.New("unknown signing key")

const (
	// unknownKIDInterval caps refetches caused by unknown key ids across all kids.
	unknownKIDInterval = time.Second
	unknownKIDWaitMax  = 2 * time.Second
)

// JWKSOption configures a JWKSAuthorizer.
type JWKSOption func(*JWKSAuthorizer)

// WithJWKSURL overrides the key set location derived from the domain.
func WithJWKSURL(url string) JWKSOption {
	return func(a *JWKSAuthorizer) { a.jwksURL = url }
}

// WithHTTPClient sets the client used to fetch keys.
func WithHTTPClient(c *http.Client) JWKSOption {
	return func(a *JWKSAuthorizer) { a.client = c }
}

// WithCacheTTL sets how often the key set is refreshed.
func WithCacheTTL(ttl time.Duration) JWKSOption {
	return func(a *JWKSAuthorizer) { a.ttl = ttl }
}

// WithJWKSLogger sets the logger.
func WithJWKSLogger(logger *slog.Logger) JWKSOption {
	return func(a *JWKSAuthorizer) { a.logger = logger }
}

// JWKSAuthorizer verifies RS256 bearer tokens issued by https://<domain>/.
type JWKSAuthorizer struct {
	audience string
	issuer   string
	jwksURL  string
	client   *http.Client
	ttl      time.Duration
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// The key set is loaded on first use so startup never waits on the provider.
	mu     sync.Mutex
	cached jwkset.Storage
	kf     keyfunc.Keyfunc

	missing *dedupe.Cache
}

func jwksEndpoints(domain string) (issuer, jwksURL string) {
	return fmt.Sprintf("https://%s/", domain), fmt.Sprintf("https://%s/.well-known/jwks.json", domain)
}

// NewJWKSAuthorizer creates an authorizer for the given domain and audience.
func NewJWKSAuthorizer(domain, audience string, opts ...JWKSOption) *JWKSAuthorizer {
	issuer, jwksURL := jwksEndpoints(domain)
	a := &JWKSAuthorizer{
		audience: audience,
		issuer:   issuer,
		jwksURL:  jwksURL,
		client:   &http.Client{Timeout: 10 * time.Second},
		ttl:      10 * time.Minute,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.missing = dedupe.New(a.ttl, 1024)
	return a
}

// Close stops background key refreshes and the refetch throttle.
func (a *JWKSAuthorizer) Close() {
	a.cancel()
	a.missing.Close()
}

// Authorize verifies the bearer token in the handshake headers.
func (a *JWKSAuthorizer) Authorize(ctx context.Context, header http.Header) (Identity, error) {
	raw, err := bearerToken(header)
	if err != nil {
		return Identity{}, err
	}

	cached, kf, err := a.keySet()
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	var claims jwt.RegisteredClaims
	_, err = jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (interface{}, error) {
		kid, _ := token.Header["kid"].(string)
		if _, err := cached.KeyRead(ctx, kid); errors.Is(err, jwkset.ErrKeyNotFound) && !a.missing.Allow(kid) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKey, kid)
		}
		key, err := kf.Keyfunc(token)
		if errors.Is(err, jwkset.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKey, kid)
		}
		return key, err
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(a.audience),
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	return Identity{Subject: claims.Subject, Method: config.AuthMethodAuth0}, nil
}

// keySet returns the refreshed key storage and the keyfunc over it, fetching
// the key set on first use. A failed first fetch is retried on the next call.
func (a *JWKSAuthorizer) keySet() (jwkset.Storage, keyfunc.Keyfunc, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.kf != nil {
		return a.cached, a.kf, nil
	}

	u, err := url.Parse(a.jwksURL)
	if err != nil {
		return nil, nil, fmt.Errorf("loading jwks from %s: %w", a.jwksURL, err)
	}

	cached, err := jwkset.NewStorageFromHTTP(u, jwkset.HTTPClientStorageOptions{
		Client:          a.client,
		Ctx:             a.ctx,
		HTTPTimeout:     a.client.Timeout,
		RefreshInterval: a.ttl,
		RefreshErrorHandler: func(ctx context.Context, err error) {
			a.logger.Warn("jwks refresh failed", "url", a.jwksURL, "error", err)
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("loading jwks from %s: %w", a.jwksURL, err)
	}

	client, err := jwkset.NewHTTPClient(jwkset.HTTPClientOptions{
		HTTPURLs:          map[string]jwkset.Storage{a.jwksURL: cached},
		RateLimitWaitMax:  unknownKIDWaitMax,
		RefreshUnknownKID: rate.NewLimiter(rate.Every(unknownKIDInterval), 1),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("building jwks client: %w", err)
	}

	kf, err := keyfunc.New(keyfunc.Options{
		Ctx:          a.ctx,
		Storage:      client,
		UseWhitelist: []jwkset.USE{jwkset.UseSig},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("building keyfunc: %w", err)
	}

	a.logger.Debug("jwks loaded", "url", a.jwksURL, "refresh", a.ttl)
	a.cached, a.kf = cached, kf
	return cached, kf, nil
}
