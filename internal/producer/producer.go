package producer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/yourusername/powchain/internal/blockchain"
	"github.com/yourusername/powchain/internal/pow"
	"github.com/yourusername/powchain/pkg/types"
)

const (
	// DefaultPayload is the data stored in every produced block
	DefaultPayload = "Hello"

	// DefaultAuditInterval validates the whole chain every 10 blocks
	DefaultAuditInterval = 10
)

// Stats counts production activity since the producer was created
type Stats struct {
	Produced     uint64 // blocks mined and offered to the chain
	Appended     uint64
	Rejected     uint64
	Audits       uint64
	FailedAudits uint64
}

// Producer repeatedly mines a block on the current tip and offers it to the
// chain, auditing the chain periodically.
type Producer struct {
	chain         *blockchain.Blockchain
	payload       string
	auditInterval int
	logger        *zap.Logger

	genesisMu sync.Mutex

	produced     atomic.Uint64
	appended     atomic.Uint64
	rejected     atomic.Uint64
	audits       atomic.Uint64
	failedAudits atomic.Uint64
}

// Option configures a Producer
type Option func(*Producer)

// WithPayload sets the data stored in every produced block
func WithPayload(payload string) Option {
	return func(p *Producer) { p.payload = payload }
}

// WithAuditInterval sets how many blocks pass between chain audits
func WithAuditInterval(n int) Option {
	return func(p *Producer) {
		if n > 0 {
			p.auditInterval = n
		}
	}
}

// WithLogger sets the logger for production events
func WithLogger(logger *zap.Logger) Option {
	return func(p *Producer) { p.logger = logger }
}

// New creates a producer for chain
func New(chain *blockchain.Blockchain, opts ...Option) *Producer {
	p := &Producer{
		chain:         chain,
		payload:       DefaultPayload,
		auditInterval: DefaultAuditInterval,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ensureGenesis creates the genesis block if the chain is empty
func (p *Producer) ensureGenesis() error {
	p.genesisMu.Lock()
	defer p.genesisMu.Unlock()

	if p.chain.Height() > 0 {
		return nil
	}
	return p.chain.CreateGenesis()
}

// ProduceOne mines a block on the current tip and offers it to the chain.
// The block is returned whenever mining succeeded; a rejected block comes
// back with an error wrapping blockchain.ErrBlockRejected.
func (p *Producer) ProduceOne() (*types.Block, error) {
	if err := p.ensureGenesis(); err != nil {
		return nil, err
	}

	tip := p.chain.Tip()
	block, err := p.chain.Miner().NewBlock(tip.ID+1, tip.Hash, p.payload)
	if err != nil {
		return nil, err
	}
	p.produced.Add(1)

	err = p.chain.TryAddBlock(block)
	switch {
	case err == nil:
		p.appended.Add(1)
	case errors.Is(err, blockchain.ErrBlockRejected):
		p.rejected.Add(1)
	default:
		return block, err
	}

	if p.chain.Height()%p.auditInterval == 0 {
		p.audit()
	}

	return block, err
}

func (p *Producer) audit() {
	p.audits.Add(1)
	if !p.chain.IsChainValid() {
		p.failedAudits.Add(1)
	}
}

// Run produces n blocks, or blocks until ctx is done when n is 0. Rejected
// blocks and exhausted nonce searches are logged and production continues;
// only successfully mined blocks count towards n. Cancellation is checked
// between blocks.
func (p *Producer) Run(ctx context.Context, n int) error {
	if err := p.ensureGenesis(); err != nil {
		return fmt.Errorf("failed to create genesis block: %w", err)
	}

	p.logger.Info("Block production started",
		zap.Int("blocks", n),
		zap.String("payload", p.payload),
		zap.Int("audit_interval", p.auditInterval))

	for mined := 0; n == 0 || mined < n; {
		select {
		case <-ctx.Done():
			p.logger.Info("Block production stopped", zap.Int("height", p.chain.Height()))
			return ctx.Err()
		default:
		}

		_, err := p.ProduceOne()
		switch {
		case err == nil, errors.Is(err, blockchain.ErrBlockRejected):
			mined++
		case errors.Is(err, pow.ErrSearchExhausted):
			p.logger.Warn("Mining error", zap.Error(err))
		default:
			return err
		}
	}

	p.logger.Info("Block production finished", zap.Int("height", p.chain.Height()))
	return nil
}

// Stats returns a snapshot of the production counters
func (p *Producer) Stats() Stats {
	return Stats{
		Produced:     p.produced.Load(),
		Appended:     p.appended.Load(),
		Rejected:     p.rejected.Load(),
		Audits:       p.audits.Load(),
		FailedAudits: p.failedAudits.Load(),
	}
}
