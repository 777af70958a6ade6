package token

import (
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"

	"github.com/govuk-one-login/account-components-sub001/internal/kms"
)

// KeyManager is the subset of the KMS wrapper the signer needs.
type KeyManager interface {
	DescribeKey(ctx context.Context, alias string) (string, error)
	PublicKey(ctx context.Context, keyID string) (*kms.PublicKey, error)
	Sign(ctx context.Context, keyID string, message []byte, alg types.SigningAlgorithmSpec) ([]byte, error)
}

// KMSSigner signs access tokens with a KMS key. The private key never leaves KMS.
type KMSSigner struct {
	keys   KeyManager
	keyID  string
	public jose.JSONWebKey
	alg    jose.SignatureAlgorithm
	kmsAlg types.SigningAlgorithmSpec
}

// NewKMSSigner resolves alias and loads its public key. P-256 keys sign ES256,
// RSA keys sign RS256.
func NewKMSSigner(ctx context.Context, keys KeyManager, alias string) (*KMSSigner, error) {
	keyID, err := keys.DescribeKey(ctx, alias)
	if err != nil {
		return nil, fmt.Errorf("resolve signing key: %w", err)
	}
	pub, err := keys.PublicKey(ctx, keyID)
	if err != nil {
		return nil, fmt.Errorf("load signing key: %w", err)
	}

	s := &KMSSigner{keys: keys, keyID: pub.KeyID}
	switch pub.Key.(type) {
	case *ecdsa.PublicKey:
		s.alg, s.kmsAlg = jose.ES256, types.SigningAlgorithmSpecEcdsaSha256
	case *rsa.PublicKey:
		s.alg, s.kmsAlg = jose.RS256, types.SigningAlgorithmSpecRsassaPkcs1V15Sha256
	default:
		return nil, fmt.Errorf("unsupported signing key type %T", pub.Key)
	}
	s.public = jose.JSONWebKey{Key: pub.Key, KeyID: pub.KeyID, Algorithm: string(s.alg), Use: "sig"}
	return s, nil
}

// Public is the verification key, as published in the service JWKS.
func (s *KMSSigner) Public() jose.JSONWebKey {
	return s.public
}

type accessTokenExtra struct {
	ClientID string `json:"client_id"`
	Scope    string `json:"scope,omitempty"`
}

// Sign serializes claims into a compact JWS.
func (s *KMSSigner) Sign(ctx context.Context, claims AccessTokenClaims) (string, error) {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: s.alg, Key: &opaque{ctx: ctx, s: s}},
		(&jose.SignerOptions{}).WithType("at+jwt"),
	)
	if err != nil {
		return "", fmt.Errorf("create signer: %w", err)
	}
	return josejwt.Signed(signer).
		Claims(josejwt.Claims{
			Issuer:   claims.Issuer,
			Subject:  claims.Subject,
			Audience: josejwt.Audience{claims.Audience},
			IssuedAt: josejwt.NewNumericDate(claims.IssuedAt),
			Expiry:   josejwt.NewNumericDate(claims.Expiry),
			ID:       claims.ID,
		}).
		Claims(accessTokenExtra{ClientID: claims.ClientID, Scope: claims.Scope}).
		Serialize()
}

// opaque adapts one Sign call to go-jose's OpaqueSigner so the request context
// reaches KMS.
type opaque struct {
	ctx context.Context
	s   *KMSSigner
}

func (o *opaque) Public() *jose.JSONWebKey {
	pub := o.s.public
	return &pub
}

func (o *opaque) Algs() []jose.SignatureAlgorithm {
	return []jose.SignatureAlgorithm{o.s.alg}
}

func (o *opaque) SignPayload(payload []byte, alg jose.SignatureAlgorithm) ([]byte, error) {
	if alg != o.s.alg {
		return nil, fmt.Errorf("unsupported algorithm %s", alg)
	}
	sig, err := o.s.keys.Sign(o.ctx, o.s.keyID, payload, o.s.kmsAlg)
	if err != nil {
		return nil, err
	}
	if alg == jose.ES256 {
		return derToJOSE(sig, 32)
	}
	return sig, nil
}

// derToJOSE converts an ASN.1 ECDSA signature into the fixed-width r||s form JWS uses.
func derToJOSE(der []byte, size int) ([]byte, error) {
	var r, s big.Int
	input := cryptobyte.String(der)
	var inner cryptobyte.String
	if !input.ReadASN1(&inner, asn1.SEQUENCE) ||
		!input.Empty() ||
		!inner.ReadASN1Integer(&r) ||
		!inner.ReadASN1Integer(&s) ||
		!inner.Empty() {
		return nil, errors.New("malformed ECDSA signature")
	}
	if r.Sign() <= 0 || s.Sign() <= 0 || r.BitLen() > size*8 || s.BitLen() > size*8 {
		return nil, errors.New("ECDSA signature out of range")
	}
	out := make([]byte, 2*size)
	r.FillBytes(out[:size])
	s.FillBytes(out[size:])
	return out, nil
}
