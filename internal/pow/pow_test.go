package pow

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yourusername/powchain/internal/crypto"
	"github.com/yourusername/powchain/internal/metrics"
	"github.com/yourusername/powchain/pkg/types"
)

const testTimestamp = 1700000000

func fixedClock() time.Time {
	return time.Unix(testTimestamp, 0)
}

func TestDifficulty_IsSatisfiedBy(t *testing.T) {
	tests := []struct {
		name       string
		hash       string
		difficulty Difficulty
		expected   bool
	}{
		{name: "Zero difficulty accepts anything", hash: "ffff", difficulty: 0, expected: true},
		{name: "Exact prefix", hash: "00abcdef", difficulty: 2, expected: true},
		{name: "Longer run of zeros", hash: "0000abcd", difficulty: 2, expected: true},
		{name: "Short run of zeros", hash: "0abcdef0", difficulty: 2, expected: false},
		{name: "Zeros not at the start", hash: "a00000", difficulty: 2, expected: false},
		{name: "Hash shorter than prefix", hash: "00", difficulty: 3, expected: false},
		{name: "Empty hash", hash: "", difficulty: 1, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.difficulty.IsSatisfiedBy(tt.hash); got != tt.expected {
				t.Errorf("IsSatisfiedBy(%q) = %v, want %v", tt.hash, got, tt.expected)
			}
		})
	}
}

func TestDifficulty_Prefix(t *testing.T) {
	if got := DefaultDifficulty.Prefix(); got != "00000" {
		t.Errorf("DefaultDifficulty.Prefix() = %q, want %q", got, "00000")
	}
	if got := Difficulty(0).Prefix(); got != "" {
		t.Errorf("Difficulty(0).Prefix() = %q, want empty", got)
	}
}

func TestDifficulty_Validate(t *testing.T) {
	for _, d := range []Difficulty{0, 1, DefaultDifficulty, MaxDifficulty} {
		if err := d.Validate(); err != nil {
			t.Errorf("Difficulty(%d).Validate() = %v, want nil", d, err)
		}
	}
	for _, d := range []Difficulty{-1, MaxDifficulty + 1} {
		if err := d.Validate(); err == nil {
			t.Errorf("Difficulty(%d).Validate() = nil, want error", d)
		}
	}
}

func TestHash_KnownVector(t *testing.T) {
	// sha256("1abc100Hello7")
	expected := "b824313350144c918f7b92ec7178d996918bb9ab91f58361ad0022c9a6508e26"

	if got := Hash(1, "abc", 100, "Hello", 7); got != expected {
		t.Errorf("Hash() = %s, want %s", got, expected)
	}
}

func TestHash_Concatenation(t *testing.T) {
	got := Hash(42, "prev", -5, "payload", 9)
	want := crypto.HashHex([]byte("42prev-5payload9"))

	if got != want {
		t.Errorf("Hash() = %s, want digest of the undelimited fields %s", got, want)
	}

	// No delimiters: these two field splits produce the same input string
	if Hash(1, "2", 3, "x", 4) != Hash(12, "", 3, "x", 4) {
		t.Error("Field concatenation should not add delimiters")
	}
}

func TestHash_Determinism(t *testing.T) {
	hash1 := Hash(3, "previous", testTimestamp, "data", 99)
	hash2 := Hash(3, "previous", testTimestamp, "data", 99)

	if hash1 != hash2 {
		t.Error("Hash is not deterministic")
	}
	if len(hash1) != crypto.HexHashLength {
		t.Errorf("Hash length = %d, want %d", len(hash1), crypto.HexHashLength)
	}
	if strings.ToLower(hash1) != hash1 {
		t.Error("Hash should be lowercase hex")
	}

	if Hash(3, "previous", testTimestamp, "data", 100) == hash1 {
		t.Error("Different nonce produced same hash")
	}
}

func TestMiner_Mine_KnownNonce(t *testing.T) {
	miner := NewMiner(2)

	hash, nonce, err := miner.Mine(0, types.GenesisPreviousHash, testTimestamp, "genesis")
	if err != nil {
		t.Fatalf("Mine failed: %v", err)
	}

	if nonce != 588 {
		t.Errorf("Mine nonce = %d, want 588", nonce)
	}
	if hash != "0099e65da3145ac2cbf1f5caccbc0272a85678159b6cdae8050d5233d1e8a5fd" {
		t.Errorf("Mine hash = %s", hash)
	}
}

func TestMiner_Mine_SatisfiesDifficulty(t *testing.T) {
	difficulties := []Difficulty{0, 1, 2, 3}

	for _, difficulty := range difficulties {
		t.Run(difficulty.Prefix(), func(t *testing.T) {
			miner := NewMiner(difficulty)

			hash, nonce, err := miner.Mine(7, "previous", testTimestamp, "Hello")
			if err != nil {
				t.Fatalf("Mine failed: %v", err)
			}

			if !strings.HasPrefix(hash, difficulty.Prefix()) {
				t.Errorf("Mined hash %s doesn't meet difficulty %d", hash, difficulty)
			}
			if hash != Hash(7, "previous", testTimestamp, "Hello", nonce) {
				t.Error("Mined hash is not reproducible from the block fields")
			}

			// The result is the first satisfying nonce
			for n := uint64(0); n < nonce; n++ {
				if difficulty.IsSatisfiedBy(Hash(7, "previous", testTimestamp, "Hello", n)) {
					t.Fatalf("Nonce %d satisfies difficulty but Mine returned %d", n, nonce)
				}
			}
		})
	}
}

func TestMiner_Mine_ParallelMatchesSequential(t *testing.T) {
	sequential := NewMiner(3)

	for _, workers := range []int{2, 3, 8} {
		parallel := NewMiner(3, WithWorkers(workers))

		for id := uint64(0); id < 4; id++ {
			wantHash, wantNonce, err := sequential.Mine(id, "prev", testTimestamp, "Hello")
			if err != nil {
				t.Fatalf("Sequential mine failed: %v", err)
			}

			gotHash, gotNonce, err := parallel.Mine(id, "prev", testTimestamp, "Hello")
			if err != nil {
				t.Fatalf("Parallel mine failed: %v", err)
			}

			if gotNonce != wantNonce || gotHash != wantHash {
				t.Errorf("workers=%d id=%d: got (%s, %d), want (%s, %d)",
					workers, id, gotHash, gotNonce, wantHash, wantNonce)
			}
		}
	}
}

func TestMiner_Mine_MaxTrials(t *testing.T) {
	// The first satisfying nonce for this input is 588
	tests := []struct {
		name      string
		workers   int
		maxTrials uint64
		wantErr   bool
	}{
		{name: "Cap below solution", workers: 1, maxTrials: 100, wantErr: true},
		{name: "Cap below solution parallel", workers: 4, maxTrials: 100, wantErr: true},
		{name: "Cap above solution", workers: 1, maxTrials: 589, wantErr: false},
		{name: "Cap above solution parallel", workers: 4, maxTrials: 10000, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			miner := NewMiner(2, WithWorkers(tt.workers), WithMaxTrials(tt.maxTrials))

			_, nonce, err := miner.Mine(0, types.GenesisPreviousHash, testTimestamp, "genesis")
			if tt.wantErr {
				if !errors.Is(err, ErrSearchExhausted) {
					t.Errorf("Mine error = %v, want ErrSearchExhausted", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Mine failed: %v", err)
			}
			if nonce != 588 {
				t.Errorf("Mine nonce = %d, want 588", nonce)
			}
		})
	}
}

func TestMiner_NewBlock(t *testing.T) {
	miner := NewMiner(2, WithClock(fixedClock))

	block, err := miner.NewBlock(1, "previous", "Hello")
	if err != nil {
		t.Fatalf("NewBlock failed: %v", err)
	}

	if block.ID != 1 || block.PreviousHash != "previous" || block.Data != "Hello" {
		t.Errorf("NewBlock fields incorrect: %+v", block)
	}
	if block.Timestamp != testTimestamp {
		t.Errorf("Timestamp = %d, want %d", block.Timestamp, testTimestamp)
	}
	if !Validate(block, miner.Difficulty()) {
		t.Error("Freshly mined block failed validation")
	}
}

func TestMiner_NewBlock_RecordsMetrics(t *testing.T) {
	m := metrics.New()
	miner := NewMiner(1, WithMetrics(m))

	if _, err := miner.NewBlock(1, "previous", "Hello"); err != nil {
		t.Fatalf("NewBlock failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "pow.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	if !strings.Contains(string(data), "powchain_blocks_mined_total 1\n") {
		t.Errorf("blocks mined not recorded:\n%s", data)
	}
}

func TestNewMiner_ClampsDifficulty(t *testing.T) {
	tests := []struct {
		name       string
		difficulty Difficulty
		expected   Difficulty
	}{
		{name: "Negative", difficulty: -3, expected: 0},
		{name: "In range", difficulty: DefaultDifficulty, expected: DefaultDifficulty},
		{name: "Maximum", difficulty: MaxDifficulty, expected: MaxDifficulty},
		{name: "Above digest length", difficulty: MaxDifficulty + 36, expected: MaxDifficulty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewMiner(tt.difficulty).Difficulty(); got != tt.expected {
				t.Errorf("Difficulty() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	miner := NewMiner(2, WithClock(fixedClock))
	block, err := miner.NewBlock(5, "previous", "Hello")
	if err != nil {
		t.Fatalf("NewBlock failed: %v", err)
	}

	if !Validate(block, 2) {
		t.Fatal("Valid PoW failed validation")
	}

	tests := []struct {
		name   string
		tamper func(b *types.Block)
	}{
		{name: "Nonce", tamper: func(b *types.Block) { b.Nonce++ }},
		{name: "Data", tamper: func(b *types.Block) { b.Data = "Jello" }},
		{name: "ID", tamper: func(b *types.Block) { b.ID++ }},
		{name: "Timestamp", tamper: func(b *types.Block) { b.Timestamp++ }},
		{name: "PreviousHash", tamper: func(b *types.Block) { b.PreviousHash = "other" }},
		{name: "Hash", tamper: func(b *types.Block) { b.Hash = "00" + b.Hash[2:len(b.Hash)-1] + "x" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tampered := *block
			tt.tamper(&tampered)
			if Validate(&tampered, 2) {
				t.Error("Tampered block passed validation")
			}
		})
	}
}

func BenchmarkMine_Difficulty2(b *testing.B) {
	miner := NewMiner(2)
	for i := 0; i < b.N; i++ {
		miner.Mine(uint64(i), "previous", testTimestamp, "Hello")
	}
}

func BenchmarkMine_Difficulty3_Parallel(b *testing.B) {
	miner := NewMiner(3, WithWorkers(4))
	for i := 0; i < b.N; i++ {
		miner.Mine(uint64(i), "previous", testTimestamp, "Hello")
	}
}

func BenchmarkHash(b *testing.B) {
	for i := 0; i < b.N; i++ {
		Hash(1, "previous", testTimestamp, "Hello", uint64(i))
	}
}
