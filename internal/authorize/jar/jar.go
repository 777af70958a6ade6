// Package jar decrypts the JWE-wrapped request object of an authorize call.
package jar

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/go-jose/go-jose/v4"

	"github.com/govuk-one-login/account-components-sub001/internal/authorize/models"
)

// The only algorithms request objects may be encrypted with.
const (
	KeyAlgorithm      = jose.RSA_OAEP_256
	ContentEncryption = jose.A256GCM
)

var (
	ErrMalformed      = errors.New("request object is not a compact JWE")
	ErrHeaderMismatch = errors.New("protected header does not match the decryption key")
)

// KeyService is the key-management capability the decrypter needs.
type KeyService interface {
	DescribeKey(ctx context.Context, alias string) (string, error)
	Decrypt(ctx context.Context, keyID string, ciphertext []byte, alg types.EncryptionAlgorithmSpec) ([]byte, error)
}

// Decrypter recovers the signed JWT carried inside a request object.
type Decrypter struct {
	keys  KeyService
	alias string
}

// New returns a Decrypter for the key behind alias.
func New(keys KeyService, alias string) *Decrypter {
	return &Decrypter{keys: keys, alias: alias}
}

type protectedHeader struct {
	Alg string `json:"alg"`
	Enc string `json:"enc"`
	Kid string `json:"kid"`
}

// Decrypt returns the signed JWT string. Structural and configuration problems
// are jarDecryptUnknownError; KMS or AES-GCM failures are jarDecryptFailed.
// The returned plaintext must never be logged.
func (d *Decrypter) Decrypt(ctx context.Context, compact string) (string, error) {
	parts := strings.Split(compact, ".")
	if len(parts) != 5 {
		return "", models.ErrJARDecryptUnknown.Wrap(fmt.Errorf("%w: %d segments", ErrMalformed, len(parts)))
	}
	if slices.Contains(parts, "") {
		return "", models.ErrJARDecryptUnknown.Wrap(fmt.Errorf("%w: empty segment", ErrMalformed))
	}

	keyID, err := d.keys.DescribeKey(ctx, d.alias)
	if err != nil {
		return "", models.ErrJARDecryptUnknown.Wrap(err)
	}

	hdr, err := decodeHeader(parts[0])
	if err != nil {
		return "", models.ErrJARDecryptUnknown.Wrap(err)
	}
	if hdr.Alg != string(KeyAlgorithm) || hdr.Enc != string(ContentEncryption) || hdr.Kid != keyID {
		return "", models.ErrJARDecryptUnknown.Wrap(fmt.Errorf("%w: alg=%q enc=%q kid=%q", ErrHeaderMismatch, hdr.Alg, hdr.Enc, hdr.Kid))
	}

	obj, err := jose.ParseEncryptedCompact(compact, []jose.KeyAlgorithm{KeyAlgorithm}, []jose.ContentEncryption{ContentEncryption})
	if err != nil {
		return "", models.ErrJARDecryptUnknown.Wrap(fmt.Errorf("%w: %v", ErrMalformed, err))
	}

	kd := &kmsKeyDecrypter{ctx: ctx, keys: d.keys, keyID: keyID}
	plaintext, err := obj.Decrypt(kd)
	if err != nil {
		// go-jose reports every failure as ErrCryptoFailure; keep the KMS cause when there is one.
		cause := err
		if kd.err != nil {
			cause = errors.Join(err, kd.err)
		}
		return "", models.ErrJARDecryptFailed.Wrap(cause)
	}
	return string(plaintext), nil
}

func decodeHeader(segment string) (*protectedHeader, error) {
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return nil, fmt.Errorf("%w: header encoding: %v", ErrMalformed, err)
	}
	var hdr protectedHeader
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return nil, fmt.Errorf("%w: header json: %v", ErrMalformed, err)
	}
	return &hdr, nil
}

// kmsKeyDecrypter lets go-jose unwrap the content-encryption key through KMS
// while it performs the AES-GCM step locally.
type kmsKeyDecrypter struct {
	ctx   context.Context
	keys  KeyService
	keyID string
	err   error
}

func (k *kmsKeyDecrypter) DecryptKey(encryptedKey []byte, _ jose.Header) ([]byte, error) {
	cek, err := k.keys.Decrypt(k.ctx, k.keyID, encryptedKey, types.EncryptionAlgorithmSpecRsaesOaepSha256)
	if err != nil {
		k.err = err
		return nil, err
	}
	return cek, nil
}
