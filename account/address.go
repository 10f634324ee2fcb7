// Package account derives and compares the 20-byte hex addresses used as
// identity references across the ledger, the gateway and the dashboard.
//
// An address is the last 20 bytes of the legacy Keccak-256 hash of the
// uncompressed public key (without the 0x04 prefix), rendered as "0x" + 40 hex
// characters. Addresses compare case-insensitively; mixed-case input must carry
// a valid EIP-55 checksum.
package account

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Length is the address length in bytes.
const Length = 20

var addressPattern = regexp.MustCompile(`^0[xX][0-9a-fA-F]{40}$`)

var (
	ErrMalformedAddress = errors.New("address must be 0x followed by 40 hex characters")
	ErrBadChecksum      = errors.New("mixed-case address fails checksum")
	ErrUnsupportedKey   = errors.New("certificate public key is not ECDSA")
)

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

// FromPublicKey returns the normalized address of an ECDSA public key.
func FromPublicKey(pub *ecdsa.PublicKey) (string, error) {
	if pub == nil {
		return "", errors.New("public key is nil")
	}
	ecdhKey, err := pub.ECDH()
	if err != nil {
		return "", fmt.Errorf("unsupported curve for address derivation: %w", err)
	}
	point := ecdhKey.Bytes() // 0x04 || X || Y
	sum := keccak256(point[1:])
	return "0x" + hex.EncodeToString(sum[len(sum)-Length:]), nil
}

// FromCertificate returns the normalized address of the certificate's key.
func FromCertificate(cert *x509.Certificate) (string, error) {
	if cert == nil {
		return "", errors.New("certificate is nil")
	}
	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return "", ErrUnsupportedKey
	}
	return FromPublicKey(pub)
}

// IsAddress reports whether s is a well-formed address. All-lower and
// all-upper hex are accepted as-is; mixed case must match the checksum.
func IsAddress(s string) bool {
	return check(s) == nil
}

func check(s string) error {
	if !addressPattern.MatchString(s) {
		return ErrMalformedAddress
	}
	body := s[2:]
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return nil
	}
	if Checksum(s)[2:] != body {
		return ErrBadChecksum
	}
	return nil
}

// Normalize validates s and returns its lowercase form.
func Normalize(s string) (string, error) {
	trimmed := strings.TrimSpace(s)
	if err := check(trimmed); err != nil {
		return "", fmt.Errorf("invalid address '%s': %w", s, err)
	}
	return "0x" + strings.ToLower(trimmed[2:]), nil
}

// Checksum renders a well-formed address in EIP-55 mixed case. Input that is
// not 40 hex characters is returned unchanged.
func Checksum(s string) string {
	if !addressPattern.MatchString(s) {
		return s
	}
	lower := strings.ToLower(s[2:])
	hash := hex.EncodeToString(keccak256([]byte(lower)))
	out := make([]byte, len(lower))
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		if c >= 'a' && c <= 'f' && hash[i] >= '8' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return "0x" + string(out)
}

// Equal compares two addresses ignoring case.
func Equal(a, b string) bool {
	return a != "" && strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
