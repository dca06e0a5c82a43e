package auth

import (
	"crypto/rsa"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// ErrUnauthorized is the single error kind every token or key failure maps
// to. Callers never see crypto-internal details beyond the short message.
var ErrUnauthorized = errors.New("unauthorized")

// The TLS client context is process-wide and materialized the first time an
// https JWKS url is fetched.
var (
	httpsClientOnce sync.Once
	httpsClient     *http.Client
)

func getHttpsClient() *http.Client {
	httpsClientOnce.Do(func() {
		httpsClient = &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
			},
		}
	})
	return httpsClient
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwksDocument struct {
	Keys []jwk `json:"keys"`
}

// JwksCache resolves RSA verification keys by kid with bounded staleness.
// The cache refreshes when empty or past its TTL, and retries once more for
// an unknown kid to pick up fresh key rotations.
type JwksCache struct {
	mutex     sync.Mutex
	url       string
	ttl       time.Duration
	keys      map[string]*rsa.PublicKey
	expiresAt time.Time
}

func NewJwksCache(url string, ttl time.Duration) *JwksCache {
	return &JwksCache{
		url: url,
		ttl: ttl,
	}
}

func (c *JwksCache) GetKey(kid string) (*rsa.PublicKey, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := time.Now()
	if len(c.keys) == 0 || !now.Before(c.expiresAt) {
		err := c.refresh()
		if err != nil {
			return nil, err
		}
	}
	if key, ok := c.keys[kid]; ok {
		return key, nil
	}

	// The kid may belong to a key rotated in after the last refresh.
	err := c.refresh()
	if err != nil {
		return nil, err
	}
	if key, ok := c.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: kid not found in jwks", ErrUnauthorized)
}

func (c *JwksCache) refresh() error {
	body, err := c.fetchJwksBody()
	if err != nil {
		return err
	}

	var document jwksDocument
	err = json.Unmarshal(body, &document)
	if err != nil {
		return fmt.Errorf("%w: invalid jwks document", ErrUnauthorized)
	}

	next := map[string]*rsa.PublicKey{}
	for _, key := range document.Keys {
		if key.Kty != "RSA" || key.Kid == "" {
			continue
		}
		publicKey, err := makeRsaPublicKey(key.N, key.E)
		if err != nil {
			continue
		}
		next[key.Kid] = publicKey
	}
	if len(next) == 0 {
		c.keys = nil
		return fmt.Errorf("%w: jwks contained no rsa keys", ErrUnauthorized)
	}

	c.keys = next
	c.expiresAt = time.Now().Add(c.ttl)
	return nil
}

func makeRsaPublicKey(nB64u string, eB64u string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nB64u)
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eB64u)
	if err != nil {
		return nil, err
	}
	if len(nBytes) == 0 || len(eBytes) == 0 {
		return nil, errors.New("empty modulus or exponent")
	}
	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}

func isWindowsDrivePath(path string) bool {
	if len(path) < 2 || path[1] != ':' {
		return false
	}
	c := path[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func (c *JwksCache) fetchJwksBody() ([]byte, error) {
	if c.url == "" {
		return nil, fmt.Errorf("%w: jwks url missing", ErrUnauthorized)
	}

	if strings.HasPrefix(c.url, "file://") {
		path := strings.TrimPrefix(c.url, "file://")
		// file:///C:/... carries a leading slash before the drive letter.
		if len(path) >= 3 && path[0] == '/' && isWindowsDrivePath(path[1:]) {
			path = path[1:]
		}
		return c.readJwksFile(path)
	}
	if strings.HasPrefix(c.url, "/") || isWindowsDrivePath(c.url) {
		return c.readJwksFile(c.url)
	}

	var client *http.Client
	switch {
	case strings.HasPrefix(c.url, "https://"):
		client = getHttpsClient()
	case strings.HasPrefix(c.url, "http://"):
		client = http.DefaultClient
	default:
		return nil, fmt.Errorf("%w: unsupported jwks url scheme", ErrUnauthorized)
	}

	response, err := client.Get(c.url)
	if err != nil {
		return nil, fmt.Errorf("%w: jwks fetch failed", ErrUnauthorized)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: jwks fetch returned status %d", ErrUnauthorized, response.StatusCode)
	}
	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: jwks fetch failed", ErrUnauthorized)
	}
	return body, nil
}

func (c *JwksCache) readJwksFile(path string) ([]byte, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open jwks file", ErrUnauthorized)
	}
	return body, nil
}
