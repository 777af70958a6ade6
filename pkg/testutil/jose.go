package testutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// SigningKey is a client's ES256 signing key as it would appear in its JWKS.
type SigningKey struct {
	Private *ecdsa.PrivateKey
	KID     string
}

// NewSigningKey generates a fresh P-256 key.
func NewSigningKey(t *testing.T, kid string) *SigningKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err, "failed to generate signing key")
	return &SigningKey{Private: key, KID: kid}
}

// JWK returns the public half for publishing.
func (k *SigningKey) JWK() jose.JSONWebKey {
	return jose.JSONWebKey{Key: &k.Private.PublicKey, KeyID: k.KID, Algorithm: "ES256", Use: "sig"}
}

// Sign produces a compact ES256 JWT carrying claims with the key's kid.
func (k *SigningKey) Sign(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	tok.Header["kid"] = k.KID
	signed, err := tok.SignedString(k.Private)
	require.NoError(t, err, "failed to sign token")
	return signed
}

// JWKSServer serves a fixed key set and counts fetches.
type JWKSServer struct {
	*httptest.Server
	Hits atomic.Int32
}

// ServeJWKS starts a JWKS endpoint that is closed when the test ends.
func ServeJWKS(t *testing.T, keys ...jose.JSONWebKey) *JWKSServer {
	t.Helper()
	s := &JWKSServer{}
	body, err := json.Marshal(jose.JSONWebKeySet{Keys: keys})
	require.NoError(t, err, "failed to marshal JWKS")
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.Hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(s.Close)
	return s
}

// EncryptJAR wraps a signed request object in a compact JWE the way a client does.
func EncryptJAR(t *testing.T, pub *rsa.PublicKey, kid, signed string) string {
	t.Helper()
	enc, err := jose.NewEncrypter(jose.A256GCM, jose.Recipient{
		Algorithm: jose.RSA_OAEP_256,
		Key:       pub,
		KeyID:     kid,
	}, (&jose.EncrypterOptions{}).WithContentType("JWT"))
	require.NoError(t, err, "failed to create encrypter")
	obj, err := enc.Encrypt([]byte(signed))
	require.NoError(t, err, "failed to encrypt request object")
	out, err := obj.CompactSerialize()
	require.NoError(t, err, "failed to serialize JWE")
	return out
}
