package pow

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/powchain/internal/crypto"
	"github.com/yourusername/powchain/internal/metrics"
	"github.com/yourusername/powchain/pkg/types"
)

const (
	// DefaultDifficulty is the default number of leading '0' hex characters
	// 5 characters = 20 zero bits, about a million hashes per block
	// 2 characters = very easy (for testing)
	DefaultDifficulty Difficulty = 5

	// MaxDifficulty is the length of a hex encoded digest
	MaxDifficulty Difficulty = crypto.HexHashLength
)

// ErrSearchExhausted is returned when a trial cap is set and no nonce below it
// satisfies the difficulty
var ErrSearchExhausted = errors.New("nonce search exhausted")

// Difficulty is the number of leading '0' characters a hex digest must have
type Difficulty int

// Prefix returns the run of '0' characters a valid digest starts with
func (d Difficulty) Prefix() string {
	return strings.Repeat("0", int(d))
}

// IsSatisfiedBy checks if a hex digest meets the difficulty requirement
func (d Difficulty) IsSatisfiedBy(hash string) bool {
	if int(d) > len(hash) {
		return false
	}
	for i := 0; i < int(d); i++ {
		if hash[i] != '0' {
			return false
		}
	}
	return true
}

// Validate checks that d is within [0, MaxDifficulty]
func (d Difficulty) Validate() error {
	if d < 0 || d > MaxDifficulty {
		return fmt.Errorf("difficulty %d out of range [0, %d]", d, MaxDifficulty)
	}
	return nil
}

// Hash computes the block digest. The decimal id, the previous hash, the
// decimal timestamp, the data and the decimal nonce are concatenated without
// delimiters, so field boundaries are not self-describing.
func Hash(id uint64, previousHash string, timestamp int64, data string, nonce uint64) string {
	buf := appendHeader(nil, id, previousHash, timestamp, data)
	buf = strconv.AppendUint(buf, nonce, 10)
	return crypto.HashHex(buf)
}

// BlockHash recomputes the digest of a block from its own fields
func BlockHash(block *types.Block) string {
	return Hash(block.ID, block.PreviousHash, block.Timestamp, block.Data, block.Nonce)
}

// Validate checks if the block's proof-of-work is valid: the stored hash is
// reproducible and satisfies the difficulty
func Validate(block *types.Block, difficulty Difficulty) bool {
	return difficulty.IsSatisfiedBy(block.Hash) && BlockHash(block) == block.Hash
}

// appendHeader writes every hashed field except the nonce, which is the only
// part that changes between trials
func appendHeader(buf []byte, id uint64, previousHash string, timestamp int64, data string) []byte {
	buf = strconv.AppendUint(buf, id, 10)
	buf = append(buf, previousHash...)
	buf = strconv.AppendInt(buf, timestamp, 10)
	return append(buf, data...)
}

// Miner searches for nonces that satisfy a fixed difficulty
type Miner struct {
	difficulty Difficulty
	workers    int
	maxTrials  uint64
	now        func() time.Time
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// Option configures a Miner
type Option func(*Miner)

// WithWorkers stripes the nonce search across n goroutines
func WithWorkers(n int) Option {
	return func(m *Miner) {
		if n > 0 {
			m.workers = n
		}
	}
}

// WithMaxTrials caps the nonce search; 0 means unbounded
func WithMaxTrials(n uint64) Option {
	return func(m *Miner) { m.maxTrials = n }
}

// WithClock replaces the wall clock used for block timestamps
func WithClock(now func() time.Time) Option {
	return func(m *Miner) { m.now = now }
}

// WithLogger sets the logger for mining events
func WithLogger(logger *zap.Logger) Option {
	return func(m *Miner) { m.logger = logger }
}

// WithMetrics records mining activity
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Miner) { m.metrics = mt }
}

// NewMiner creates a miner for the given difficulty. The difficulty is
// clamped to [0, MaxDifficulty]; no digest has more than MaxDifficulty
// leading zeros.
func NewMiner(difficulty Difficulty, opts ...Option) *Miner {
	switch {
	case difficulty < 0:
		difficulty = 0
	case difficulty > MaxDifficulty:
		difficulty = MaxDifficulty
	}

	m := &Miner{
		difficulty: difficulty,
		workers:    1,
		now:        time.Now,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Difficulty returns the difficulty the miner searches for
func (m *Miner) Difficulty() Difficulty {
	return m.difficulty
}

// Workers returns the number of goroutines used per search
func (m *Miner) Workers() int {
	return m.workers
}

// Mine performs the proof-of-work search. It returns the lowest nonce whose
// hash satisfies the difficulty, together with that hash. Without a trial cap
// it blocks until a nonce is found.
func (m *Miner) Mine(id uint64, previousHash string, timestamp int64, data string) (string, uint64, error) {
	header := appendHeader(make([]byte, 0, 64+len(previousHash)+len(data)), id, previousHash, timestamp, data)

	start := time.Now()
	var (
		hash   string
		nonce  uint64
		trials uint64
		found  bool
	)
	if m.workers > 1 {
		hash, nonce, trials, found = m.searchParallel(header)
	} else {
		hash, nonce, trials, found = m.search(header)
	}
	m.metrics.ObserveMining(trials, time.Since(start), found)

	if !found {
		m.logger.Warn("Nonce search exhausted",
			zap.Uint64("block_id", id),
			zap.Uint64("max_trials", m.maxTrials))
		return "", 0, fmt.Errorf("block #%d: %w after %d trials", id, ErrSearchExhausted, trials)
	}

	m.logger.Debug("Nonce found",
		zap.Uint64("block_id", id),
		zap.Uint64("nonce", nonce),
		zap.Uint64("trials", trials),
		zap.Duration("elapsed", time.Since(start)))

	return hash, nonce, nil
}

// NewBlock stamps the current time, mines and builds a complete block
func (m *Miner) NewBlock(id uint64, previousHash string, data string) (*types.Block, error) {
	timestamp := m.now().Unix()

	hash, nonce, err := m.Mine(id, previousHash, timestamp, data)
	if err != nil {
		return nil, err
	}

	m.logger.Info(fmt.Sprintf("Block #%d was successfully mined", id),
		zap.Uint64("block_id", id),
		zap.Uint64("nonce", nonce),
		zap.String("hash", hash))

	return &types.Block{
		ID:           id,
		Hash:         hash,
		PreviousHash: previousHash,
		Timestamp:    timestamp,
		Data:         data,
		Nonce:        nonce,
	}, nil
}

// limit is the first nonce that is never tried
func (m *Miner) limit() uint64 {
	if m.maxTrials == 0 {
		return math.MaxUint64
	}
	return m.maxTrials
}

// search tries nonces in increasing order and stops at the first hit
func (m *Miner) search(header []byte) (string, uint64, uint64, bool) {
	buf := make([]byte, len(header), len(header)+20)
	copy(buf, header)

	var trials uint64
	limit := m.limit()
	for nonce := uint64(0); nonce < limit; nonce++ {
		trials++
		hash := crypto.HashHex(strconv.AppendUint(buf, nonce, 10))
		if m.difficulty.IsSatisfiedBy(hash) {
			return hash, nonce, trials, true
		}
	}
	return "", 0, trials, false
}

// searchParallel stripes the nonce space across workers. A worker stops on
// its own first hit or once its next nonce is not below the best hit so far,
// so every nonce under the final best has been tried and the result equals
// the sequential search.
func (m *Miner) searchParallel(header []byte) (string, uint64, uint64, bool) {
	const none = math.MaxUint64

	var (
		best   atomic.Uint64
		trials atomic.Uint64
		g      errgroup.Group
	)
	best.Store(none)

	stride := uint64(m.workers)
	limit := m.limit()
	hashes := make([]string, m.workers)
	nonces := make([]uint64, m.workers)

	for w := 0; w < m.workers; w++ {
		w := w
		g.Go(func() error {
			buf := make([]byte, len(header), len(header)+20)
			copy(buf, header)

			var n uint64
			defer func() { trials.Add(n) }()

			for nonce := uint64(w); nonce < limit && nonce < best.Load(); nonce += stride {
				n++
				hash := crypto.HashHex(strconv.AppendUint(buf, nonce, 10))
				if !m.difficulty.IsSatisfiedBy(hash) {
					continue
				}
				hashes[w], nonces[w] = hash, nonce
				for {
					cur := best.Load()
					if nonce >= cur || best.CompareAndSwap(cur, nonce) {
						break
					}
				}
				return nil
			}
			return nil
		})
	}
	_ = g.Wait()

	winner := best.Load()
	if winner == none {
		return "", 0, trials.Load(), false
	}
	// nonce w + k*stride belongs to worker w
	w := int(winner % stride)
	return hashes[w], nonces[w], trials.Load(), true
}
