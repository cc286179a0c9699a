// Package codec implements the (de)compression and (en/de)cryption layer
// for slice payloads (spec C1). Every payload is a self-describing binary
// blob: one flags byte, one key version byte, then the body. A plain
// payload has both header bytes zero, followed by the JSON array of records.
package codec

import (
	"bytes"
	"compress/flate"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/crypto/hkdf"
)

// Options select the codec transforms applied to one payload. Compress and
// Encrypt compose: when both are set, the record array is compressed
// first, then encrypted, so ciphertext size does not leak the plaintext
// size as directly as encrypt-then-compress would.
type Options struct {
	Compress bool
	Encrypt  bool
}

const (
	flagCompress byte = 1 << 0
	flagEncrypt  byte = 1 << 1

	macSize = sha256.Size
	ivSize  = aes.BlockSize
)

// ErrMalformed is returned by Decode when the payload's header or body is
// not a well-formed codec blob. Decode never falls back silently.
var ErrMalformed = fmt.Errorf("codec: malformed payload")

// Codec encrypts and compresses slice record arrays. The zero value is
// usable for Compress-only payloads; Encrypt requires at least one key in
// Keys.
type Codec struct {
	// Keys maps a key version to its master secret. CurrentVersion selects
	// which key Encode uses; Decode looks up whatever version the payload
	// header names, so old slices remain decodable after rotation.
	Keys           map[byte][]byte
	CurrentVersion byte
}

// Encode serializes records as a JSON array, then applies the requested
// transforms, returning a self-describing payload.
func (c *Codec) Encode(records []string, opts Options) ([]byte, error) {
	for _, r := range records {
		if !utf8.ValidString(r) {
			return nil, fmt.Errorf("codec: record is not valid UTF-8")
		}
	}

	if !opts.Compress && !opts.Encrypt {
		body, err := json.Marshal(records)
		if err != nil {
			return nil, fmt.Errorf("codec: marshal records: %w", err)
		}
		return append([]byte{0, 0}, body...), nil
	}

	body, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal records: %w", err)
	}

	flags := byte(0)
	if opts.Compress {
		body, err = deflate(body)
		if err != nil {
			return nil, fmt.Errorf("codec: compress: %w", err)
		}
		flags |= flagCompress
	}

	keyVersion := byte(0)
	if opts.Encrypt {
		key, err := c.deriveKey(c.CurrentVersion)
		if err != nil {
			return nil, fmt.Errorf("codec: derive key: %w", err)
		}
		body, err = encryptThenMAC(body, key)
		if err != nil {
			return nil, fmt.Errorf("codec: encrypt: %w", err)
		}
		flags |= flagEncrypt
		keyVersion = c.CurrentVersion
	}

	payload := make([]byte, 0, len(body)+2)
	payload = append(payload, flags, keyVersion)
	payload = append(payload, body...)
	return payload, nil
}

// Decode reverses Encode. opts is informational only; the payload's own
// header flags drive the actual decode path, per spec ("the binary is
// self-describing").
func (c *Codec) Decode(payload []byte, _ Options) ([]string, error) {
	if len(payload) < 2 {
		return nil, fmt.Errorf("%w: header truncated", ErrMalformed)
	}
	flags, keyVersion, body := payload[0], payload[1], payload[2:]

	if flags&^(flagCompress|flagEncrypt) != 0 {
		return nil, fmt.Errorf("%w: unknown flag bits", ErrMalformed)
	}

	var err error
	if flags&flagEncrypt != 0 {
		key, kerr := c.deriveKey(keyVersion)
		if kerr != nil {
			return nil, fmt.Errorf("%w: key version %d: %v", ErrMalformed, keyVersion, kerr)
		}
		body, err = decryptThenVerifyMAC(body, key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	if flags&flagCompress != 0 {
		body, err = inflate(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}

	var records []string
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	for i, r := range records {
		if !utf8.ValidString(r) {
			return nil, fmt.Errorf("%w: record %d is not valid UTF-8", ErrMalformed, i)
		}
	}
	return records, nil
}

func (c *Codec) deriveKey(version byte) ([]byte, error) {
	secret, ok := c.Keys[version]
	if !ok {
		return nil, fmt.Errorf("no master secret registered for key version %d", version)
	}
	// Derive two 32-byte subkeys in one HKDF expansion: the first half
	// encrypts, the second authenticates (classic encrypt-then-MAC split).
	reader := hkdf.New(sha256.New, secret, nil, []byte("rocketd-slice-payload"))
	key := make([]byte, 64)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

func deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func inflate(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	return io.ReadAll(r)
}

func encryptThenMAC(plaintext, key []byte) ([]byte, error) {
	encKey, macKey := key[:32], key[32:]

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	mac := hmac.New(sha256.New, macKey)
	mac.Write(iv)
	mac.Write(ciphertext)
	tag := mac.Sum(nil)

	out := make([]byte, 0, ivSize+len(ciphertext)+macSize)
	out = append(out, iv...)
	out = append(out, ciphertext...)
	out = append(out, tag...)
	return out, nil
}

func decryptThenVerifyMAC(body, key []byte) ([]byte, error) {
	if len(body) < ivSize+macSize {
		return nil, fmt.Errorf("ciphertext truncated")
	}
	encKey, macKey := key[:32], key[32:]

	iv := body[:ivSize]
	ciphertext := body[ivSize : len(body)-macSize]
	tag := body[len(body)-macSize:]

	mac := hmac.New(sha256.New, macKey)
	mac.Write(iv)
	mac.Write(ciphertext)
	if !hmac.Equal(mac.Sum(nil), tag) {
		return nil, fmt.Errorf("MAC verification failed")
	}

	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext is not a multiple of the block size")
	}
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}
	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)
	return pkcs7Unpad(padded)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(append([]byte{}, data...), padding...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty plaintext")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, fmt.Errorf("invalid padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return data[:len(data)-padLen], nil
}
