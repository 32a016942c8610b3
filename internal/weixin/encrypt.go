// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package weixin

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // the platform signs callbacks with SHA-1
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"io"
	"sort"
	"strings"

	"github.com/samber/oops"
)

// blockSize is the PKCS#7 padding block used by the platform, which is
// twice the AES block size.
const blockSize = 32

// Encryptor encrypts and signs messages exchanged with the platform.
type Encryptor struct {
	appID string
	token string
	key   []byte
	rand  io.Reader
}

// NewEncryptor validates cfg and builds an encryptor from it.
func NewEncryptor(cfg Config) (*Encryptor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	key, err := decodeKey(cfg.AESKey)
	if err != nil {
		return nil, oops.Code(KindInvalidConfig.Code).Wrap(err)
	}
	return &Encryptor{appID: cfg.AppID, token: cfg.Token, key: key, rand: rand.Reader}, nil
}

// AppID returns the app id messages are bound to.
func (e *Encryptor) AppID() string { return e.appID }

// Sign returns the SHA-1 signature over the token and parts, sorted
// lexically.
func (e *Encryptor) Sign(parts ...string) string {
	all := append([]string{e.token}, parts...)
	sort.Strings(all)
	sum := sha1.Sum([]byte(strings.Join(all, ""))) //nolint:gosec // platform protocol
	return hex.EncodeToString(sum[:])
}

// Verify checks signature against Sign(parts...).
func (e *Encryptor) Verify(signature string, parts ...string) error {
	expected := e.Sign(parts...)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return oops.Code(KindSignatureMismatch.Code).Errorf("signature mismatch")
	}
	return nil
}

// Encrypt wraps msg as random(16) | len(4) | msg | appid, pads and encrypts
// it with AES-256-CBC, and returns the base64 encoding.
func (e *Encryptor) Encrypt(msg []byte) (string, error) {
	var buf bytes.Buffer
	prefix := make([]byte, 16)
	if _, err := io.ReadFull(e.rand, prefix); err != nil {
		return "", oops.In("weixin").Wrapf(err, "read random prefix")
	}
	buf.Write(prefix)
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(msg))) //nolint:gosec // messages are far below 4GiB
	buf.Write(msg)
	buf.WriteString(e.appID)

	plain := pad(buf.Bytes())
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", oops.In("weixin").Wrap(err)
	}
	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, e.key[:aes.BlockSize]).CryptBlocks(out, plain)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt and checks that the message is bound to this
// app id.
func (e *Encryptor) Decrypt(encoded string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, oops.Code(KindDecryptFailed.Code).Wrapf(err, "decode ciphertext")
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, oops.Code(KindDecryptFailed.Code).
			With("length", len(data)).
			Errorf("ciphertext is not a multiple of the block size")
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, oops.In("weixin").Wrap(err)
	}
	plain := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, e.key[:aes.BlockSize]).CryptBlocks(plain, data)

	plain, err = unpad(plain)
	if err != nil {
		return nil, err
	}
	if len(plain) < 20 {
		return nil, oops.Code(KindDecryptFailed.Code).Errorf("plaintext too short")
	}
	size := int(binary.BigEndian.Uint32(plain[16:20]))
	if size > len(plain)-20 {
		return nil, oops.Code(KindDecryptFailed.Code).
			With("length", size).
			Errorf("message length exceeds plaintext")
	}
	msg := plain[20 : 20+size]
	if appID := string(plain[20+size:]); appID != e.appID {
		return nil, oops.Code(KindAppIDMismatch.Code).
			With("expected", e.appID).
			With("actual", appID).
			Errorf("message addressed to app %q", appID)
	}
	return msg, nil
}

func pad(b []byte) []byte {
	n := blockSize - len(b)%blockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte) ([]byte, error) {
	n := int(b[len(b)-1])
	if n < 1 || n > blockSize || n > len(b) {
		return nil, oops.Code(KindDecryptFailed.Code).With("padding", n).Errorf("invalid padding")
	}
	return b[:len(b)-n], nil
}
