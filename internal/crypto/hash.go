package crypto

import (
	"encoding/hex"

	sha256 "github.com/minio/sha256-simd"
)

// HashSize is the length of a SHA-256 digest in bytes
const HashSize = sha256.Size

// HexHashLength is the length of a hex encoded SHA-256 digest
const HexHashLength = 2 * HashSize

// HashHex returns the lowercase hex encoded SHA-256 hash of the input data
func HashHex(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
