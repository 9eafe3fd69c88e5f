package domain

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

var (
	// ErrInvalidAddress is returned for anything that is not 0x + 40 hex chars
	ErrInvalidAddress = errors.New("invalid address")
	// ErrBadChecksum is returned for mixed-case input failing EIP-55
	ErrBadChecksum = errors.New("address checksum mismatch")
)

// ParseAddress validates a 20-byte hex address and returns it lower-cased.
// Mixed-case input must carry a valid EIP-55 checksum.
func ParseAddress(s string) (string, error) {
	s = strings.TrimSpace(s)
	if len(s) != 42 || !(strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	body := s[2:]
	if _, err := hex.DecodeString(body); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}

	lower := strings.ToLower(body)
	upper := strings.ToUpper(body)
	if body != lower && body != upper {
		if ChecksumAddress("0x"+lower) != "0x"+body {
			return "", fmt.Errorf("%w: %q", ErrBadChecksum, s)
		}
	}
	return "0x" + lower, nil
}

// ChecksumAddress renders a valid address in EIP-55 mixed case
func ChecksumAddress(addr string) string {
	lower := strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(addr, "0x"), "0X"))
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	digest := h.Sum(nil)

	out := []byte(lower)
	for i, c := range out {
		if c < 'a' || c > 'f' {
			continue
		}
		// high nibble for even positions, low nibble for odd
		nibble := digest[i/2]
		if i%2 == 0 {
			nibble >>= 4
		} else {
			nibble &= 0x0f
		}
		if nibble >= 8 {
			out[i] = c - 32
		}
	}
	return "0x" + string(out)
}

// IsTxHash reports whether s looks like a 32-byte hex hash
func IsTxHash(s string) bool {
	if len(s) != 66 || !strings.HasPrefix(s, "0x") {
		return false
	}
	_, err := hex.DecodeString(s[2:])
	return err == nil
}
