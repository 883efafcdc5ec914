package crypto

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Signer signs payout batches with the operator's secp256k1 key using
// EIP-191 personal messages, so a receiver can recover the operator address
// with ecrecover.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner creates a Signer from a hex private key, with or without 0x.
func NewSigner(keyHex string) (*Signer, error) {
	raw, err := decodeKeyHex(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto: signer: %w", err)
	}
	key, err := ethcrypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("crypto: signer: %w", err)
	}
	return &Signer{key: key, address: ethcrypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Address returns the signer's EIP-55 address.
func (s *Signer) Address() common.Address { return s.address }

// Sign returns the 65-byte [R || S || V] signature of msg as 0x hex, with V
// in {27, 28}.
func (s *Signer) Sign(msg []byte) (string, error) {
	sig, err := ethcrypto.Sign(messageHash(msg), s.key)
	if err != nil {
		return "", fmt.Errorf("crypto: sign: %w", err)
	}
	sig[64] += 27
	return hexutil.Encode(sig), nil
}

// Recover returns the address that produced sig over msg.
func Recover(msg []byte, sig string) (common.Address, error) {
	b, err := hexutil.Decode(sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recover: %w", err)
	}
	if len(b) != 65 {
		return common.Address{}, errors.New("crypto: recover: signature must be 65 bytes")
	}
	if b[64] >= 27 {
		b[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(messageHash(msg), b)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// messageHash is keccak256("\x19Ethereum Signed Message:\n" + len(msg) + msg).
func messageHash(msg []byte) []byte {
	prefix := "\x19Ethereum Signed Message:\n" + strconv.Itoa(len(msg))
	return ethcrypto.Keccak256([]byte(prefix), msg)
}
