// Package crypto implements the chunk codec: authenticated encryption of
// fixed-size file chunks with a nonce derived from the chunk's logical
// identity plus fresh randomness. The identity (path, index, generation)
// separates nonces between live chunks; the random salt separates them
// from records of deleted lifetimes of the same path, whose write
// counters restart from zero when a file is recreated or a truncated
// index is rewritten.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// NonceSize is the AES-GCM nonce length.
	NonceSize = 12
	// GenSize is the length of the write generation field.
	GenSize = 8
	// TagSize is the GCM authentication tag length.
	TagSize = 16
	// RecordOverhead is the ciphertext record size minus the plaintext size.
	RecordOverhead = NonceSize + GenSize + TagSize
)

// ErrAuthentication is returned when a ciphertext record fails its
// integrity check. No plaintext is ever returned alongside it.
var ErrAuthentication = errors.New("chunk authentication failed")

// ErrMalformedRecord is returned for records too short to parse.
var ErrMalformedRecord = errors.New("malformed ciphertext record")

// Codec encrypts and decrypts chunk records.
//
// Record layout: [nonce 12][write generation 8, big-endian][tag 16][ciphertext].
// The associated data binds path, chunk index, and generation, so a record
// copied to another key or with a patched generation fails authentication.
type Codec struct {
	aead     cipher.AEAD
	nonceKey []byte
}

// NewCodec derives the content and nonce subkeys from the master key and
// builds the AEAD.
func NewCodec(masterKey []byte) (*Codec, error) {
	if len(masterKey) != KeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", KeySize, len(masterKey))
	}

	contentKey := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, []byte("aegisfs/content")), contentKey); err != nil {
		return nil, fmt.Errorf("derive content key: %w", err)
	}
	nonceKey := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, []byte("aegisfs/nonce")), nonceKey); err != nil {
		return nil, fmt.Errorf("derive nonce key: %w", err)
	}

	block, err := aes.NewCipher(contentKey)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return &Codec{aead: aead, nonceKey: nonceKey}, nil
}

// Encrypt seals one plaintext chunk into a self-describing record.
// gen is the chunk's write generation; callers must never reuse a
// generation for the same (path, index).
func (c *Codec) Encrypt(path string, index uint32, gen uint64, plaintext []byte) ([]byte, error) {
	nonce, err := c.deriveNonce(path, index, gen)
	if err != nil {
		return nil, err
	}

	sealed := c.aead.Seal(nil, nonce, plaintext, contextAAD(path, index, gen))
	tag := sealed[len(sealed)-TagSize:]
	ciphertext := sealed[:len(sealed)-TagSize]

	record := make([]byte, 0, RecordOverhead+len(ciphertext))
	record = append(record, nonce...)
	record = binary.BigEndian.AppendUint64(record, gen)
	record = append(record, tag...)
	record = append(record, ciphertext...)
	return record, nil
}

// Decrypt opens a record produced by Encrypt for the same logical identity.
// It returns the plaintext and the record's write generation, or
// ErrAuthentication if any byte of the record or its context is wrong.
func (c *Codec) Decrypt(path string, index uint32, record []byte) ([]byte, uint64, error) {
	if len(record) < RecordOverhead {
		return nil, 0, ErrMalformedRecord
	}

	nonce := record[:NonceSize]
	gen := binary.BigEndian.Uint64(record[NonceSize : NonceSize+GenSize])
	tag := record[NonceSize+GenSize : RecordOverhead]
	ciphertext := record[RecordOverhead:]

	sealed := make([]byte, 0, len(ciphertext)+TagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := c.aead.Open(nil, nonce, sealed, contextAAD(path, index, gen))
	if err != nil {
		return nil, 0, ErrAuthentication
	}
	return plaintext, gen, nil
}

// PlaintextLen returns the plaintext chunk length for a record of the
// given size, as reported by a store listing.
func PlaintextLen(recordLen int64) int64 {
	if recordLen < RecordOverhead {
		return 0
	}
	return recordLen - RecordOverhead
}

// deriveNonce expands the nonce subkey with the chunk's logical identity
// and a fresh random salt. The nonce travels in the record, so decryption
// never re-derives it; the salt costs nothing there and guarantees that
// two encryptions can only share a nonce if the PRF collides, even when
// unlink or truncate has reset the write counter for this identity.
func (c *Codec) deriveNonce(path string, index uint32, gen uint64) ([]byte, error) {
	salt := make([]byte, 8)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("derive nonce: %w", err)
	}

	nonce := make([]byte, NonceSize)
	r := hkdf.Expand(sha256.New, c.nonceKey, append(contextAAD(path, index, gen), salt...))
	if _, err := io.ReadFull(r, nonce); err != nil {
		return nil, fmt.Errorf("derive nonce: %w", err)
	}
	return nonce, nil
}

// contextAAD is the authenticated-but-unencrypted binding of a record to
// its logical identity.
func contextAAD(path string, index uint32, gen uint64) []byte {
	aad := make([]byte, 0, len(path)+1+4+8)
	aad = append(aad, path...)
	aad = append(aad, 0)
	aad = binary.BigEndian.AppendUint32(aad, index)
	aad = binary.BigEndian.AppendUint64(aad, gen)
	return aad
}
