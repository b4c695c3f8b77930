package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// ss58Prefix is the constant mixed into the checksum preimage of every
// SS58 address.
var ss58Prefix = []byte("SS58PRE")

var (
	errBadAddress  = errors.New("malformed ss58 address")
	errBadChecksum = errors.New("ss58 checksum mismatch")
)

// DecodeSS58 extracts the 32-byte public key from an SS58 address and
// verifies its checksum. Both one- and two-byte network prefixes are
// accepted.
func DecodeSS58(address string) (ed25519.PublicKey, error) {
	raw, err := base58.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadAddress, err)
	}

	var prefixLen int
	switch len(raw) {
	case 1 + 32 + 2:
		prefixLen = 1
	case 2 + 32 + 2:
		prefixLen = 2
	default:
		return nil, errBadAddress
	}

	body := raw[:len(raw)-2]
	checksum := raw[len(raw)-2:]

	h, err := blake2b.New512(nil)
	if err != nil {
		return nil, err
	}
	h.Write(ss58Prefix)
	h.Write(body)
	sum := h.Sum(nil)
	if sum[0] != checksum[0] || sum[1] != checksum[1] {
		return nil, errBadChecksum
	}

	return ed25519.PublicKey(raw[prefixLen : prefixLen+32]), nil
}

// EncodeSS58 renders a public key as an SS58 address with the given
// one-byte network prefix.
func EncodeSS58(pub ed25519.PublicKey, network byte) (string, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", errBadAddress
	}
	body := make([]byte, 0, 1+32+2)
	body = append(body, network)
	body = append(body, pub...)

	h, err := blake2b.New512(nil)
	if err != nil {
		return "", err
	}
	h.Write(ss58Prefix)
	h.Write(body)
	sum := h.Sum(nil)

	body = append(body, sum[0], sum[1])
	return base58.Encode(body), nil
}

// IsValidSS58 reports whether address decodes to a well-formed SS58
// address with a correct checksum.
func IsValidSS58(address string) bool {
	_, err := DecodeSS58(address)
	return err == nil
}
