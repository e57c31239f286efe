package blockchain

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/powchain/internal/metrics"
	"github.com/yourusername/powchain/internal/pow"
	"github.com/yourusername/powchain/internal/storage"
	"github.com/yourusername/powchain/pkg/types"
)

// GenesisData is the data stored in the genesis block
const GenesisData = "genesis"

// Validation failures reported by ValidateBlock
var (
	ErrInvalidID            = errors.New("block id does not follow predecessor")
	ErrInsufficientWork     = errors.New("block hash does not meet difficulty")
	ErrPreviousHashMismatch = errors.New("previous block hash mismatch")
	ErrHashMismatch         = errors.New("block hash mismatch")
)

// ErrBlockRejected wraps every reason TryAddBlock drops a candidate
var ErrBlockRejected = errors.New("block rejected")

// Blockchain represents the append-only chain of blocks.
// Appends are serialized by an internal lock.
type Blockchain struct {
	mu      sync.RWMutex
	blocks  []*types.Block
	miner   *pow.Miner
	index   *storage.BlockIndex
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Blockchain
type Option func(*Blockchain)

// WithLogger sets the logger for chain events
func WithLogger(logger *zap.Logger) Option {
	return func(bc *Blockchain) { bc.logger = logger }
}

// WithMetrics records append and audit activity
func WithMetrics(m *metrics.Metrics) Option {
	return func(bc *Blockchain) { bc.metrics = m }
}

// New creates an empty blockchain. CreateGenesis must be called before any
// operation that reads the tip.
func New(miner *pow.Miner, opts ...Option) (*Blockchain, error) {
	index, err := storage.NewBlockIndex()
	if err != nil {
		return nil, err
	}

	bc := &Blockchain{
		blocks: []*types.Block{},
		miner:  miner,
		index:  index,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(bc)
	}

	return bc, nil
}

// Close releases the block index
func (bc *Blockchain) Close() error {
	return bc.index.Close()
}

// Difficulty returns the difficulty every block must satisfy
func (bc *Blockchain) Difficulty() pow.Difficulty {
	return bc.miner.Difficulty()
}

// Miner returns the miner the chain was created with
func (bc *Blockchain) Miner() *pow.Miner {
	return bc.miner
}

// CreateGenesis mines and appends the first block. It panics if the chain
// already has blocks.
func (bc *Blockchain) CreateGenesis() error {
	bc.mu.RLock()
	n := len(bc.blocks)
	bc.mu.RUnlock()
	if n != 0 {
		panic("genesis block already created")
	}

	genesis, err := bc.miner.NewBlock(0, types.GenesisPreviousHash, GenesisData)
	if err != nil {
		return fmt.Errorf("failed to mine genesis block: %w", err)
	}

	bc.mu.Lock()
	defer bc.mu.Unlock()

	if len(bc.blocks) != 0 {
		panic("genesis block already created")
	}
	if err := bc.append(genesis); err != nil {
		return err
	}

	bc.logger.Info("Genesis block was successfully created and added to the blockchain",
		zap.Uint64("block_id", genesis.ID),
		zap.String("hash", genesis.Hash))

	return nil
}

// ValidateBlock checks candidate against its predecessor and returns the
// first failed rule
func (bc *Blockchain) ValidateBlock(candidate, predecessor *types.Block) error {
	// 1. Sequence number
	if candidate.ID != predecessor.ID+1 {
		return fmt.Errorf("block #%d: %w (predecessor #%d)", candidate.ID, ErrInvalidID, predecessor.ID)
	}

	// 2. Proof-of-work
	if !bc.Difficulty().IsSatisfiedBy(candidate.Hash) {
		return fmt.Errorf("block #%d: %w (want prefix %q)", candidate.ID, ErrInsufficientWork, bc.Difficulty().Prefix())
	}

	// 3. Hash pointer
	if candidate.PreviousHash != predecessor.Hash {
		return fmt.Errorf("block #%d: %w", candidate.ID, ErrPreviousHashMismatch)
	}

	// 4. Stored hash matches contents
	if pow.BlockHash(candidate) != candidate.Hash {
		return fmt.Errorf("block #%d: %w", candidate.ID, ErrHashMismatch)
	}

	return nil
}

// IsBlockValid reports whether candidate may follow predecessor
func (bc *Blockchain) IsBlockValid(candidate, predecessor *types.Block) bool {
	return bc.checkBlock(candidate, predecessor) == nil
}

// checkBlock is ValidateBlock with an event for either outcome
func (bc *Blockchain) checkBlock(candidate, predecessor *types.Block) error {
	if err := bc.ValidateBlock(candidate, predecessor); err != nil {
		bc.logger.Warn(fmt.Sprintf("Block #%d is invalid", candidate.ID),
			zap.Uint64("block_id", candidate.ID),
			zap.Error(err))
		return err
	}

	bc.logger.Info(fmt.Sprintf("Block #%d is valid", candidate.ID),
		zap.Uint64("block_id", candidate.ID))
	return nil
}

// TryAddBlock appends candidate if it is valid against the current tip.
// An invalid candidate is dropped and the returned error wraps
// ErrBlockRejected together with the reason; the chain is left unchanged.
// It panics if the chain is empty.
func (bc *Blockchain) TryAddBlock(candidate *types.Block) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	predecessor := bc.tip()

	if err := bc.checkBlock(candidate, predecessor); err != nil {
		bc.metrics.BlockRejected()
		bc.logger.Warn(fmt.Sprintf("Block is invalid, cannot push block #%d to the blockchain", candidate.ID),
			zap.Uint64("block_id", candidate.ID),
			zap.Error(err))
		return fmt.Errorf("%w: %w", ErrBlockRejected, err)
	}

	if err := bc.append(candidate); err != nil {
		return err
	}

	bc.logger.Info("Block was successfully added to the blockchain",
		zap.Uint64("block_id", candidate.ID),
		zap.Int("height", len(bc.blocks)))

	return nil
}

// append adds block to the chain and the index; caller holds the write lock
func (bc *Blockchain) append(block *types.Block) error {
	if bc.index.Has(block.Hash) {
		return fmt.Errorf("block %s is already indexed", block.Hash)
	}
	if err := bc.index.Put(block); err != nil {
		return err
	}
	bc.blocks = append(bc.blocks, block)
	bc.metrics.BlockAppended(len(bc.blocks))
	return nil
}

// ValidateChain validates every adjacent pair, stopping at the first failure.
// It panics if the chain is empty.
func (bc *Blockchain) ValidateChain() error {
	return bc.validateChain(bc.ValidateBlock)
}

// IsChainValid audits the whole chain. It is read-only.
func (bc *Blockchain) IsChainValid() bool {
	err := bc.validateChain(bc.checkBlock)
	bc.metrics.ChainAudited(err == nil)

	if err != nil {
		bc.logger.Warn("Blockchain is invalid", zap.Error(err))
		return false
	}

	bc.logger.Info("Blockchain is valid", zap.Int("height", bc.Height()))
	return true
}

func (bc *Blockchain) validateChain(check func(candidate, predecessor *types.Block) error) error {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	if len(bc.blocks) == 0 {
		panic("cannot validate a blockchain without a genesis block")
	}

	for i := 1; i < len(bc.blocks); i++ {
		if err := check(bc.blocks[i], bc.blocks[i-1]); err != nil {
			return fmt.Errorf("invalid block at index %d: %w", i, err)
		}
	}

	return nil
}

// tip returns the last block; caller holds the lock
func (bc *Blockchain) tip() *types.Block {
	if len(bc.blocks) == 0 {
		panic("should be at least one block in the blockchain")
	}
	return bc.blocks[len(bc.blocks)-1]
}

// Tip returns the most recent block. It panics if the chain is empty.
func (bc *Blockchain) Tip() *types.Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.tip()
}

// Height returns the number of blocks, genesis included
func (bc *Blockchain) Height() int {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return len(bc.blocks)
}

// Blocks returns a copy of the block list
func (bc *Blockchain) Blocks() []*types.Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	out := make([]*types.Block, len(bc.blocks))
	copy(out, bc.blocks)
	return out
}

// GetBlock returns a block by index
func (bc *Blockchain) GetBlock(index int) (*types.Block, error) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	if index < 0 || index >= len(bc.blocks) {
		return nil, fmt.Errorf("block index %d out of range", index)
	}
	return bc.blocks[index], nil
}

// GetBlockByHash finds a block by its hash
func (bc *Blockchain) GetBlockByHash(hash string) (*types.Block, error) {
	indexed, err := bc.index.Get(hash)
	if err != nil {
		return nil, err
	}

	// Return the chain's own instance rather than the decoded copy
	block, err := bc.GetBlock(int(indexed.ID))
	if err != nil {
		return nil, err
	}
	if block.Hash != hash {
		return nil, fmt.Errorf("block %s: %w", hash, storage.ErrNotFound)
	}
	return block, nil
}

// GetBlockByHeight looks up a block through the height index
func (bc *Blockchain) GetBlockByHeight(height uint64) (*types.Block, error) {
	indexed, err := bc.index.GetByHeight(height)
	if err != nil {
		return nil, err
	}
	return bc.GetBlockByHash(indexed.Hash)
}

// IndexedCount returns the number of blocks in the block index
func (bc *Blockchain) IndexedCount() (int, error) {
	return bc.index.Count()
}

// PrintChain writes the blockchain in a human readable form
func (bc *Blockchain) PrintChain(w io.Writer) {
	fmt.Fprintln(w, "\n=== BLOCKCHAIN ===")
	for _, block := range bc.Blocks() {
		if block.IsGenesis() {
			fmt.Fprintf(w, "\nBlock %d (genesis):\n", block.ID)
		} else {
			fmt.Fprintf(w, "\nBlock %d:\n", block.ID)
		}
		fmt.Fprintf(w, "  Hash: %s\n", block.Hash)
		fmt.Fprintf(w, "  Prev Hash: %s\n", block.PreviousHash)
		fmt.Fprintf(w, "  Timestamp: %s\n", block.Time().UTC().Format(time.RFC3339))
		fmt.Fprintf(w, "  Data: %q\n", block.Data)
		fmt.Fprintf(w, "  Nonce: %d\n", block.Nonce)
	}
	fmt.Fprintln(w, "==================")
}
