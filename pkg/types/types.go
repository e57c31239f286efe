package types

import (
	"fmt"
	"time"
)

// GenesisPreviousHash is the sentinel predecessor hash of block 0
const GenesisPreviousHash = "genesis"

// Block represents one committed record of the chain.
// Blocks are built once by the miner and must not be modified afterwards.
type Block struct {
	ID           uint64 `json:"id"`            // Sequence number, genesis is 0
	Hash         string `json:"hash"`          // Lowercase hex digest of the other fields
	PreviousHash string `json:"previous_hash"` // Hash of the predecessor or "genesis"
	Timestamp    int64  `json:"timestamp"`     // Unix seconds at creation time
	Data         string `json:"data"`          // Opaque payload
	Nonce        uint64 `json:"nonce"`         // Proof-of-work witness
}

// IsGenesis reports whether the block is the first block of a chain
func (b *Block) IsGenesis() bool {
	return b.ID == 0 && b.PreviousHash == GenesisPreviousHash
}

// Time returns the block timestamp as a time.Time
func (b *Block) Time() time.Time {
	return time.Unix(b.Timestamp, 0)
}

// String returns a short description for logs
func (b *Block) String() string {
	return fmt.Sprintf("Block #%d %s", b.ID, b.Hash)
}
