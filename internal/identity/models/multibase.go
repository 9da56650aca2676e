package models

import (
	"errors"
	"fmt"
	"math/big"
)

// Bitcoin-style base58 alphabet, as used by the multibase 'z' prefix.
const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

var (
	base58Map [256]byte
	bigRadix  = big.NewInt(58)
	bigZero   = big.NewInt(0)
)

func init() {
	for i := 0; i < len(base58Map); i++ {
		base58Map[i] = 255
	}
	for i, char := range base58Alphabet {
		base58Map[char] = byte(i)
	}
}

// ed25519Multicodec is the varint multicodec prefix for an Ed25519 public key.
var ed25519Multicodec = []byte{0xed, 0x01}

// EncodeBase58 encodes a byte slice to a base58 string.
func EncodeBase58(input []byte) string {
	if len(input) == 0 {
		return ""
	}

	x := big.NewInt(0).SetBytes(input)

	var result []byte
	for x.Cmp(bigZero) > 0 {
		mod := &big.Int{}
		x.DivMod(x, bigRadix, mod)
		result = append(result, base58Alphabet[mod.Int64()])
	}

	for _, b := range input {
		if b == 0 {
			result = append(result, base58Alphabet[0])
		} else {
			break
		}
	}

	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return string(result)
}

// DecodeBase58 decodes a base58 string to bytes.
func DecodeBase58(input string) ([]byte, error) {
	if input == "" {
		return nil, errors.New("empty base58 input")
	}

	x := big.NewInt(0)
	for _, char := range []byte(input) {
		digit := base58Map[char]
		if digit == 255 {
			return nil, fmt.Errorf("invalid base58 character %q", char)
		}
		x.Mul(x, bigRadix)
		x.Add(x, big.NewInt(int64(digit)))
	}

	decoded := x.Bytes()

	// Restore leading zero bytes.
	var leading int
	for _, char := range []byte(input) {
		if char != base58Alphabet[0] {
			break
		}
		leading++
	}
	if leading > 0 {
		decoded = append(make([]byte, leading), decoded...)
	}
	return decoded, nil
}

// EncodePublicKeyMultibase encodes a 32-byte Ed25519 public key as a
// base58btc multibase string with the Ed25519 multicodec prefix.
func EncodePublicKeyMultibase(publicKey []byte) (string, error) {
	if len(publicKey) != 32 {
		return "", fmt.Errorf("Ed25519 public key must be 32 bytes, got %d", len(publicKey))
	}
	prefixed := append(append([]byte{}, ed25519Multicodec...), publicKey...)
	return "z" + EncodeBase58(prefixed), nil
}

// DecodePublicKeyMultibase reverses EncodePublicKeyMultibase.
func DecodePublicKeyMultibase(encoded string) ([]byte, error) {
	if len(encoded) < 2 || encoded[0] != 'z' {
		return nil, errors.New("expected base58btc multibase ('z' prefix)")
	}
	decoded, err := DecodeBase58(encoded[1:])
	if err != nil {
		return nil, err
	}
	if len(decoded) != 34 || decoded[0] != ed25519Multicodec[0] || decoded[1] != ed25519Multicodec[1] {
		return nil, errors.New("not an Ed25519 multicodec key")
	}
	return decoded[2:], nil
}
