// Package keys publishes the service's public keys as a JWKS: the access-token
// signing key and the key clients encrypt request objects to.
package keys

import (
	"context"
	"crypto/rsa"
	"fmt"
	"sync"

	"github.com/go-jose/go-jose/v4"

	"github.com/govuk-one-login/account-components-sub001/internal/kms"
)

type KeyManager interface {
	DescribeKey(ctx context.Context, alias string) (string, error)
	PublicKey(ctx context.Context, keyID string) (*kms.PublicKey, error)
}

// Publisher builds the JWKS once and serves the cached copy afterwards.
// Failed builds are retried on the next call.
type Publisher struct {
	keys         KeyManager
	signingAlias string
	jarAlias     string

	mu  sync.Mutex
	set *jose.JSONWebKeySet
}

func New(keys KeyManager, signingAlias, jarAlias string) *Publisher {
	return &Publisher{keys: keys, signingAlias: signingAlias, jarAlias: jarAlias}
}

// Set returns the published key set. kid is the KMS key id.
func (p *Publisher) Set(ctx context.Context) (*jose.JSONWebKeySet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.set != nil {
		return p.set, nil
	}

	sig, err := p.load(ctx, p.signingAlias)
	if err != nil {
		return nil, err
	}
	sig.Use = "sig"
	switch sig.Key.(type) {
	case *rsa.PublicKey:
		sig.Algorithm = string(jose.RS256)
	default:
		sig.Algorithm = string(jose.ES256)
	}

	enc, err := p.load(ctx, p.jarAlias)
	if err != nil {
		return nil, err
	}
	if _, ok := enc.Key.(*rsa.PublicKey); !ok {
		return nil, fmt.Errorf("request object key %s is %T, want RSA", p.jarAlias, enc.Key)
	}
	enc.Use = "enc"
	enc.Algorithm = string(jose.RSA_OAEP_256)

	p.set = &jose.JSONWebKeySet{Keys: []jose.JSONWebKey{*sig, *enc}}
	return p.set, nil
}

func (p *Publisher) load(ctx context.Context, alias string) (*jose.JSONWebKey, error) {
	id, err := p.keys.DescribeKey(ctx, alias)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", alias, err)
	}
	pub, err := p.keys.PublicKey(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("public key for %s: %w", alias, err)
	}
	return &jose.JSONWebKey{Key: pub.Key, KeyID: pub.KeyID}, nil
}
