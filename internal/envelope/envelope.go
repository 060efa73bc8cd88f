// Package envelope seals credential fields into opaque text blobs.
//
// A single passphrase is stretched with argon2id into a master key when the
// Envelope is constructed. HKDF then splits the master key into a data key
// (XChaCha20-Poly1305) and a digest key (BLAKE3 keyed hash), so the email
// lookup index never shares key material with the ciphertext.
package envelope

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the size in bytes of the master key and every derived subkey.
const KeySize = 32

// BlobVersion is the first byte of every sealed blob. It is also passed as
// additional authenticated data, so a flipped version byte fails to open.
const BlobVersion byte = 0x01

// BlobOverhead is version + nonce + Poly1305 tag.
const BlobOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// argon2id parameters for stretching the configured passphrase. They run
// once per process, not per field.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

var (
	hkdfInfoData   = []byte("checkout-ledger.envelope.data.v1")
	hkdfInfoDigest = []byte("checkout-ledger.envelope.email-digest.v1")

	digestDomainEmail = []byte("checkout-ledger.digest.email.v1")
)

// ErrDecryption is matched by every *DecryptionError.
var ErrDecryption = errors.New("decryption failed")

// DecryptionError reports why a blob could not be opened. Callers treat it
// as per-record corruption.
type DecryptionError struct {
	Reason string
	Err    error
}

func (e *DecryptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decryption failed: %s: %v", e.Reason, e.Err)
	}
	return "decryption failed: " + e.Reason
}

func (e *DecryptionError) Unwrap() error { return e.Err }

func (e *DecryptionError) Is(target error) bool { return target == ErrDecryption }

// Envelope encrypts and decrypts strings under one process-wide key. It is
// safe for concurrent use.
type Envelope struct {
	dataKey   []byte
	digestKey []byte
}

// New derives the envelope keys from passphrase and salt.
func New(passphrase, salt string) (*Envelope, error) {
	if passphrase == "" {
		return nil, errors.New("envelope: empty passphrase")
	}
	if salt == "" {
		return nil, errors.New("envelope: empty salt")
	}

	master := argon2.IDKey([]byte(passphrase), []byte(salt), argonTime, argonMemory, argonThreads, KeySize)

	dataKey, err := deriveKey(master, hkdfInfoData)
	if err != nil {
		return nil, err
	}
	digestKey, err := deriveKey(master, hkdfInfoDigest)
	if err != nil {
		return nil, err
	}

	return &Envelope{dataKey: dataKey, digestKey: digestKey}, nil
}

// Encrypt seals plaintext and returns the base64 text form. Empty input
// returns nil without touching the cipher, so absent fields stay NULL.
func (e *Envelope) Encrypt(plaintext string) (*string, error) {
	if plaintext == "" {
		return nil, nil
	}

	aead, err := chacha20poly1305.NewX(e.dataKey)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating random nonce: %w", err)
	}

	blob := make([]byte, 1+len(nonce), BlobOverhead+len(plaintext))
	blob[0] = BlobVersion
	copy(blob[1:], nonce[:])
	blob = aead.Seal(blob, nonce[:], []byte(plaintext), []byte{BlobVersion})

	out := base64.StdEncoding.EncodeToString(blob)
	return &out, nil
}

// Decrypt opens a blob produced by Encrypt. Any failure, including a blob
// that opens to an empty string, is returned as a *DecryptionError.
func (e *Envelope) Decrypt(ciphertext string) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ciphertext))
	if err != nil {
		return "", &DecryptionError{Reason: "not base64", Err: err}
	}
	if len(blob) < BlobOverhead {
		return "", &DecryptionError{Reason: fmt.Sprintf("blob is %d bytes, minimum is %d", len(blob), BlobOverhead)}
	}
	if blob[0] != BlobVersion {
		return "", &DecryptionError{Reason: fmt.Sprintf("unsupported blob version %d", blob[0])}
	}

	aead, err := chacha20poly1305.NewX(e.dataKey)
	if err != nil {
		return "", &DecryptionError{Reason: "cipher init", Err: err}
	}

	nonce := blob[1 : 1+chacha20poly1305.NonceSizeX]
	plaintext, err := aead.Open(nil, nonce, blob[1+chacha20poly1305.NonceSizeX:], blob[:1])
	if err != nil {
		return "", &DecryptionError{Reason: "authentication failed", Err: err}
	}
	if len(plaintext) == 0 {
		return "", &DecryptionError{Reason: "empty plaintext"}
	}

	return string(plaintext), nil
}

// DecryptOptional opens a nullable slot. A nil slot is absent, not corrupt.
func (e *Envelope) DecryptOptional(ciphertext *string) (string, error) {
	if ciphertext == nil {
		return "", nil
	}
	return e.Decrypt(*ciphertext)
}

// EmailDigest returns the hex keyed hash of the normalized email, or "" for
// an empty email. Equal emails (ignoring case and surrounding space) give
// equal digests under the same Envelope.
func (e *Envelope) EmailDigest(email string) string {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return ""
	}

	hasher, err := blake3.NewKeyed(e.digestKey)
	if err != nil {
		panic("envelope: BLAKE3 keyed hash initialization failed (key must be 32 bytes): " + err.Error())
	}
	hasher.Write(digestDomainEmail)
	hasher.Write([]byte(normalized))
	return hex.EncodeToString(hasher.Sum(nil))
}

func deriveKey(inputKeyMaterial, info []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, inputKeyMaterial, nil, info)
	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}
	return derived, nil
}
