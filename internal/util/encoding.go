package util

import (
	"encoding/hex"

	"golang.org/x/text/unicode/norm"
)

// Normalize returns the NFKC form of s, so visually identical input
// compares equal.
func Normalize(s string) string {
	return norm.NFKC.String(s)
}

func HexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

func HexDecode(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
