// Package crypto loads the operator's payout signing key and signs outgoing
// payout batches, both with the operator's secp256k1 key (EIP-191) and with
// a shared webhook secret (HMAC-SHA256).
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	keyFileVersion   = 1
)

// ErrNoKey is returned by LoadKey when no key source is configured.
var ErrNoKey = errors.New("crypto: no signing key configured")

// sealedKey is the on-disk form of an encrypted private key.
type sealedKey struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeySource says where the signing key comes from. A raw hex key wins over
// an encrypted key file.
type KeySource struct {
	Hex      string
	File     string
	Password string
}

// SealKey encrypts a hex private key under password with PBKDF2-SHA256 and
// AES-256-GCM and returns the JSON key file contents.
func SealKey(keyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: seal key: empty password")
	}
	raw, err := decodeKeyHex(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto: seal key: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: seal key: salt: %w", err)
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, fmt.Errorf("crypto: seal key: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: seal key: nonce: %w", err)
	}

	return json.MarshalIndent(sealedKey{
		Version:    keyFileVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, raw, nil)),
	}, "", "  ")
}

// OpenKey decrypts a key file produced by SealKey and returns the key as hex
// without a 0x prefix.
func OpenKey(data []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: open key: empty password")
	}
	var sk sealedKey
	if err := json.Unmarshal(data, &sk); err != nil {
		return "", fmt.Errorf("crypto: open key: parse: %w", err)
	}
	if sk.Version != keyFileVersion {
		return "", fmt.Errorf("crypto: open key: unsupported version %d", sk.Version)
	}

	var salt, nonce, ciphertext []byte
	for _, f := range []struct {
		name string
		in   string
		out  *[]byte
	}{
		{"salt", sk.Salt, &salt},
		{"nonce", sk.Nonce, &nonce},
		{"ciphertext", sk.Ciphertext, &ciphertext},
	} {
		b, err := base64.StdEncoding.DecodeString(f.in)
		if err != nil {
			return "", fmt.Errorf("crypto: open key: decode %s: %w", f.name, err)
		}
		*f.out = b
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return "", fmt.Errorf("crypto: open key: %w", err)
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("crypto: open key: nonce is %d bytes", len(nonce))
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: open key: wrong password or corrupt file: %w", err)
	}
	return hex.EncodeToString(plain), nil
}

// LoadKey resolves the signing key from src. It returns ErrNoKey when src
// names no key at all.
func LoadKey(src KeySource) (string, error) {
	if src.Hex != "" {
		if _, err := decodeKeyHex(src.Hex); err != nil {
			return "", fmt.Errorf("crypto: load key: %w", err)
		}
		return strings.TrimPrefix(src.Hex, "0x"), nil
	}
	if src.File != "" {
		data, err := os.ReadFile(src.File)
		if err != nil {
			return "", fmt.Errorf("crypto: load key: %w", err)
		}
		return OpenKey(data, src.Password)
	}
	return "", ErrNoKey
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func decodeKeyHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid key hex: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("expected a 32-byte key, got %d bytes", len(b))
	}
	return b, nil
}
