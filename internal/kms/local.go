package kms

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awskms "github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/google/uuid"
)

// LocalAPI is an in-process stand-in for KMS used in the local environment and tests.
// It answers the same calls with the same error types as the real service.
type LocalAPI struct {
	mu      sync.RWMutex
	keys    map[string]localKey
	aliases map[string]string
}

type localKey struct {
	signer crypto.Signer
	spec   types.KeySpec
	usage  types.KeyUsageType
}

func NewLocalAPI() *LocalAPI {
	return &LocalAPI{keys: make(map[string]localKey), aliases: make(map[string]string)}
}

// AddRSAKey registers an RSA encryption key under alias and returns its key ID.
func (l *LocalAPI) AddRSAKey(alias string, key *rsa.PrivateKey) string {
	return l.add(alias, localKey{signer: key, spec: types.KeySpecRsa2048, usage: types.KeyUsageTypeEncryptDecrypt})
}

// AddECKey registers a P-256 signing key under alias and returns its key ID.
func (l *LocalAPI) AddECKey(alias string, key *ecdsa.PrivateKey) string {
	return l.add(alias, localKey{signer: key, spec: types.KeySpecEccNistP256, usage: types.KeyUsageTypeSignVerify})
}

func (l *LocalAPI) add(alias string, k localKey) string {
	id := uuid.NewString()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys[id] = k
	l.aliases[alias] = id
	return id
}

func (l *LocalAPI) lookup(ref *string) (string, localKey, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id := aws.ToString(ref)
	if aliased, ok := l.aliases[id]; ok {
		id = aliased
	}
	k, ok := l.keys[id]
	if !ok {
		return "", localKey{}, &types.NotFoundException{Message: aws.String(fmt.Sprintf("key %q does not exist", aws.ToString(ref)))}
	}
	return id, k, nil
}

func (l *LocalAPI) DescribeKey(_ context.Context, in *awskms.DescribeKeyInput, _ ...func(*awskms.Options)) (*awskms.DescribeKeyOutput, error) {
	id, k, err := l.lookup(in.KeyId)
	if err != nil {
		return nil, err
	}
	return &awskms.DescribeKeyOutput{KeyMetadata: &types.KeyMetadata{
		KeyId:    aws.String(id),
		KeySpec:  k.spec,
		KeyUsage: k.usage,
		Enabled:  true,
	}}, nil
}

func (l *LocalAPI) Decrypt(_ context.Context, in *awskms.DecryptInput, _ ...func(*awskms.Options)) (*awskms.DecryptOutput, error) {
	id, k, err := l.lookup(in.KeyId)
	if err != nil {
		return nil, err
	}
	priv, ok := k.signer.(*rsa.PrivateKey)
	if !ok || in.EncryptionAlgorithm != types.EncryptionAlgorithmSpecRsaesOaepSha256 {
		return nil, &types.InvalidKeyUsageException{Message: aws.String("key cannot decrypt with " + string(in.EncryptionAlgorithm))}
	}
	pt, err := rsa.DecryptOAEP(sha256.New(), nil, priv, in.CiphertextBlob, nil)
	if err != nil {
		return nil, &types.InvalidCiphertextException{Message: aws.String(err.Error())}
	}
	return &awskms.DecryptOutput{KeyId: aws.String(id), Plaintext: pt, EncryptionAlgorithm: in.EncryptionAlgorithm}, nil
}

func (l *LocalAPI) Sign(_ context.Context, in *awskms.SignInput, _ ...func(*awskms.Options)) (*awskms.SignOutput, error) {
	id, k, err := l.lookup(in.KeyId)
	if err != nil {
		return nil, err
	}
	digest := in.Message
	if in.MessageType != types.MessageTypeDigest {
		sum := sha256.Sum256(in.Message)
		digest = sum[:]
	}

	var sig []byte
	switch in.SigningAlgorithm {
	case types.SigningAlgorithmSpecEcdsaSha256:
		priv, ok := k.signer.(*ecdsa.PrivateKey)
		if !ok {
			return nil, &types.InvalidKeyUsageException{Message: aws.String("not an EC key")}
		}
		sig, err = ecdsa.SignASN1(rand.Reader, priv, digest)
	case types.SigningAlgorithmSpecRsassaPkcs1V15Sha256:
		priv, ok := k.signer.(*rsa.PrivateKey)
		if !ok {
			return nil, &types.InvalidKeyUsageException{Message: aws.String("not an RSA key")}
		}
		sig, err = rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest)
	default:
		return nil, &types.UnsupportedOperationException{Message: aws.String("signing algorithm " + string(in.SigningAlgorithm))}
	}
	if err != nil {
		return nil, err
	}
	return &awskms.SignOutput{KeyId: aws.String(id), Signature: sig, SigningAlgorithm: in.SigningAlgorithm}, nil
}

func (l *LocalAPI) GetPublicKey(_ context.Context, in *awskms.GetPublicKeyInput, _ ...func(*awskms.Options)) (*awskms.GetPublicKeyOutput, error) {
	id, k, err := l.lookup(in.KeyId)
	if err != nil {
		return nil, err
	}
	der, err := x509.MarshalPKIXPublicKey(k.signer.Public())
	if err != nil {
		return nil, err
	}
	return &awskms.GetPublicKeyOutput{KeyId: aws.String(id), PublicKey: der, KeySpec: k.spec, KeyUsage: k.usage}, nil
}
