// Package kms wraps the key-management service. Private key material never
// leaves it: callers get key IDs, plaintext content keys, signatures and public keys.
package kms

import (
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awskms "github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"golang.org/x/sync/singleflight"
)

//go:generate mockgen -source=kms.go -destination=mocks/mocks.go -package=mocks API

// API is the subset of the KMS client this service calls.
type API interface {
	DescribeKey(ctx context.Context, params *awskms.DescribeKeyInput, optFns ...func(*awskms.Options)) (*awskms.DescribeKeyOutput, error)
	Decrypt(ctx context.Context, params *awskms.DecryptInput, optFns ...func(*awskms.Options)) (*awskms.DecryptOutput, error)
	Sign(ctx context.Context, params *awskms.SignInput, optFns ...func(*awskms.Options)) (*awskms.SignOutput, error)
	GetPublicKey(ctx context.Context, params *awskms.GetPublicKeyInput, optFns ...func(*awskms.Options)) (*awskms.GetPublicKeyOutput, error)
}

// PublicKey is the public half of a KMS key.
type PublicKey struct {
	KeyID string
	Key   crypto.PublicKey
	Spec  types.KeySpec
}

// KeyManager resolves aliases and performs the key operations.
type KeyManager struct {
	api API

	group singleflight.Group
	mu    sync.RWMutex
	ids   map[string]string
}

func New(api API) *KeyManager {
	return &KeyManager{api: api, ids: make(map[string]string)}
}

// DescribeKey resolves alias to its key ID. The first successful answer is kept
// for the lifetime of the process; a rotated key is only picked up after a restart.
func (k *KeyManager) DescribeKey(ctx context.Context, alias string) (string, error) {
	k.mu.RLock()
	id, ok := k.ids[alias]
	k.mu.RUnlock()
	if ok {
		return id, nil
	}

	v, err, _ := k.group.Do(alias, func() (any, error) {
		k.mu.RLock()
		id, ok := k.ids[alias]
		k.mu.RUnlock()
		if ok {
			return id, nil
		}

		out, err := k.api.DescribeKey(ctx, &awskms.DescribeKeyInput{KeyId: aws.String(alias)})
		if err != nil {
			return "", fmt.Errorf("describe key %s: %w", alias, err)
		}
		if out.KeyMetadata == nil || aws.ToString(out.KeyMetadata.KeyId) == "" {
			return "", fmt.Errorf("describe key %s: no key id returned", alias)
		}
		id = aws.ToString(out.KeyMetadata.KeyId)
		k.mu.Lock()
		k.ids[alias] = id
		k.mu.Unlock()
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Decrypt unwraps a ciphertext (a JWE content-encryption key) with the named key.
func (k *KeyManager) Decrypt(ctx context.Context, keyID string, ciphertext []byte, alg types.EncryptionAlgorithmSpec) ([]byte, error) {
	out, err := k.api.Decrypt(ctx, &awskms.DecryptInput{
		KeyId:               aws.String(keyID),
		CiphertextBlob:      ciphertext,
		EncryptionAlgorithm: alg,
	})
	if err != nil {
		return nil, fmt.Errorf("kms decrypt: %w", err)
	}
	if len(out.Plaintext) == 0 {
		return nil, errors.New("kms decrypt: empty plaintext")
	}
	return out.Plaintext, nil
}

// Sign signs message (hashed by KMS) with the named key. ECDSA signatures come back DER encoded.
func (k *KeyManager) Sign(ctx context.Context, keyID string, message []byte, alg types.SigningAlgorithmSpec) ([]byte, error) {
	out, err := k.api.Sign(ctx, &awskms.SignInput{
		KeyId:            aws.String(keyID),
		Message:          message,
		MessageType:      types.MessageTypeRaw,
		SigningAlgorithm: alg,
	})
	if err != nil {
		return nil, fmt.Errorf("kms sign: %w", err)
	}
	return out.Signature, nil
}

// PublicKey fetches and parses the public half of keyID.
func (k *KeyManager) PublicKey(ctx context.Context, keyID string) (*PublicKey, error) {
	out, err := k.api.GetPublicKey(ctx, &awskms.GetPublicKeyInput{KeyId: aws.String(keyID)})
	if err != nil {
		return nil, fmt.Errorf("kms get public key: %w", err)
	}
	pub, err := x509.ParsePKIXPublicKey(out.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	id := aws.ToString(out.KeyId)
	if id == "" {
		id = keyID
	}
	return &PublicKey{KeyID: id, Key: pub, Spec: out.KeySpec}, nil
}
