package storage

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/yourusername/powchain/pkg/types"
)

const (
	// Database prefixes
	blockPrefix  = "block_"
	heightPrefix = "height_"
)

// ErrNotFound is returned when a lookup has no match
var ErrNotFound = errors.New("not found")

// BlockIndex indexes blocks by hash and by height. It is backed by LevelDB on
// in-memory storage, so nothing survives Close.
type BlockIndex struct {
	db *leveldb.DB
}

// NewBlockIndex creates an empty in-memory index
func NewBlockIndex() (*BlockIndex, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open block index: %w", err)
	}

	return &BlockIndex{db: db}, nil
}

// Close releases the index
func (s *BlockIndex) Close() error {
	return s.db.Close()
}

// Put stores a block under its hash and records its height
func (s *BlockIndex) Put(block *types.Block) error {
	serialized, err := serializeBlock(block)
	if err != nil {
		return fmt.Errorf("failed to serialize block: %w", err)
	}

	batch := new(leveldb.Batch)
	batch.Put(blockKey(block.Hash), serialized)
	batch.Put(heightKey(block.ID), []byte(block.Hash))

	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to index block #%d: %w", block.ID, err)
	}

	return nil
}

// Get retrieves a block by hash
func (s *BlockIndex) Get(hash string) (*types.Block, error) {
	data, err := s.db.Get(blockKey(hash), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, fmt.Errorf("block %s: %w", hash, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	block, err := deserializeBlock(data)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize block: %w", err)
	}

	return block, nil
}

// GetByHeight retrieves a block by its height
func (s *BlockIndex) GetByHeight(height uint64) (*types.Block, error) {
	hash, err := s.db.Get(heightKey(height), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, fmt.Errorf("height %d: %w", height, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	return s.Get(string(hash))
}

// Has checks if a block with the given hash is indexed
func (s *BlockIndex) Has(hash string) bool {
	exists, _ := s.db.Has(blockKey(hash), nil)
	return exists
}

// Count returns the number of indexed blocks
func (s *BlockIndex) Count() (int, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(blockPrefix)), nil)
	defer iter.Release()

	count := 0
	for iter.Next() {
		count++
	}

	return count, iter.Error()
}

func blockKey(hash string) []byte {
	return []byte(blockPrefix + hash)
}

// heightKey zero pads so that keys sort by height
func heightKey(height uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", heightPrefix, height))
}

func serializeBlock(block *types.Block) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(block); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func deserializeBlock(data []byte) (*types.Block, error) {
	var block types.Block
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&block); err != nil {
		return nil, err
	}
	return &block, nil
}
