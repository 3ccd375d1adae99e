package ledger

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"veritas/internal/cryptoprov"
	"veritas/internal/domain"
	"veritas/internal/ledger/store/memory"
)

type LedgerServiceSuite struct {
	suite.Suite
	ctx     context.Context
	store   *memory.Store
	service *Service
}

func TestLedgerServiceSuite(t *testing.T) {
	suite.Run(t, new(LedgerServiceSuite))
}

func (s *LedgerServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.New()
	s.service = New(s.store, newTestProvider(s.T()), testLogger())
	s.Require().NoError(s.service.Initialize(s.ctx))
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestProvider(t *testing.T) *cryptoprov.Provider {
	t.Helper()
	provider, err := cryptoprov.New(filepath.Join(t.TempDir(), "signing_key.pem"), "", testLogger())
	if err != nil {
		t.Fatalf("new crypto provider: %v", err)
	}
	return provider
}

func testEvent(subject, action string) domain.AuditEvent {
	return domain.AuditEvent{
		ID:        "evt-" + subject + "-" + action,
		Subject:   subject,
		Action:    action,
		Outcome:   domain.OutcomeGranted,
		RiskLevel: domain.RiskLow,
		RiskScore: 5,
		Device:    map[string]string{"os": "Linux", "antivirus": "true"},
		Details:   "test event",
		Timestamp: time.Now(),
		Version:   domain.ProtocolVersion,
	}
}

func (s *LedgerServiceSuite) TestInitialize() {
	s.Run("genesis block has fixed sentinel fields", func() {
		blocks, err := s.store.All(s.ctx)
		s.Require().NoError(err)
		s.Require().Len(blocks, 1)

		genesis := blocks[0]
		s.Equal(int64(0), genesis.Index)
		s.Equal(domain.GenesisPreviousHash, genesis.PreviousHash)
		s.True(MeetsDifficulty(genesis.Hash))

		views, err := s.service.Read(s.ctx, 10)
		s.Require().NoError(err)
		s.Require().Len(views, 1)

		var event domain.AuditEvent
		s.Require().NoError(json.Unmarshal(views[0].Data, &event))
		s.Equal(domain.GenesisMessage, event.Details)
	})

	s.Run("second initialize is a no-op", func() {
		s.Require().NoError(s.service.Initialize(s.ctx))
		blocks, err := s.store.All(s.ctx)
		s.Require().NoError(err)
		s.Len(blocks, 1)
	})
}

func (s *LedgerServiceSuite) TestAppend() {
	s.Run("block links to tail and meets difficulty", func() {
		tail, err := s.store.Tail(s.ctx)
		s.Require().NoError(err)

		block, err := s.service.Append(s.ctx, testEvent("alice", "resource.read"))
		s.Require().NoError(err)

		s.Equal(tail.Index+1, block.Index)
		s.Equal(tail.Hash, block.PreviousHash)
		s.True(strings.HasPrefix(block.Hash, Difficulty))
		s.Equal(SourcePrimary, block.Source)
		s.NotEmpty(block.Signature)
	})

	s.Run("payload is not stored in the clear", func() {
		block, err := s.service.Append(s.ctx, testEvent("bob", "resource.read"))
		s.Require().NoError(err)
		s.NotContains(string(block.Ciphertext), "bob")
	})

	s.Run("hash recomputes from stored fields", func() {
		block, err := s.service.Append(s.ctx, testEvent("carol", "resource.read"))
		s.Require().NoError(err)

		recomputed := ComputeHash(block.Index, block.PreviousHash, block.TimestampMS,
			block.Ciphertext, block.Nonce, block.MerkleRoot)
		s.Equal(block.Hash, recomputed)
	})
}

func (s *LedgerServiceSuite) TestVerifyIntactChain() {
	for i := 0; i < 3; i++ {
		_, err := s.service.Append(s.ctx, testEvent("alice", "resource.read"))
		s.Require().NoError(err)
	}
	report, err := s.service.Verify(s.ctx)
	s.Require().NoError(err)
	s.True(report.Valid)
	s.Empty(report.Error)
}

func (s *LedgerServiceSuite) TestVerifyReportsFirstBrokenIndex() {
	for i := 0; i < 3; i++ {
		_, err := s.service.Append(s.ctx, testEvent("alice", "resource.read"))
		s.Require().NoError(err)
	}
	s.store.Tamper(1, func(b *domain.Block) {
		b.Hash = strings.Repeat("0", 64)
	})
	s.store.Tamper(2, func(b *domain.Block) {
		b.Nonce++
	})

	report, err := s.service.Verify(s.ctx)
	s.Require().NoError(err)
	s.False(report.Valid)
	s.Equal(int64(1), report.BrokenIndex)
	s.Contains(report.Error, "Block 1")
}

func (s *LedgerServiceSuite) TestVerifyTamperedNonce() {
	block, err := s.service.Append(s.ctx, testEvent("alice", "resource.read"))
	s.Require().NoError(err)
	s.store.Tamper(block.Index, func(b *domain.Block) {
		b.Nonce++
	})

	report, err := s.service.Verify(s.ctx)
	s.Require().NoError(err)
	s.False(report.Valid)
	s.Equal(block.Index, report.BrokenIndex)
}

func (s *LedgerServiceSuite) TestVerifyForgedSignature() {
	block, err := s.service.Append(s.ctx, testEvent("alice", "resource.read"))
	s.Require().NoError(err)
	s.store.Tamper(block.Index, func(b *domain.Block) {
		b.Signature = []byte("not a signature")
	})

	report, err := s.service.Verify(s.ctx)
	s.Require().NoError(err)
	s.False(report.Valid)
	s.Equal(block.Index, report.BrokenIndex)
	s.Contains(report.Error, "signature")
}

// A payload that no longer decrypts must surface per-block as a decode
// failure and never abort the rest of the read.
func (s *LedgerServiceSuite) TestReadIsolatesUndecryptablePayloads() {
	_, err := s.service.Append(s.ctx, testEvent("alice", "resource.read"))
	s.Require().NoError(err)
	good, err := s.service.Append(s.ctx, testEvent("bob", "resource.read"))
	s.Require().NoError(err)

	s.store.Tamper(1, func(b *domain.Block) {
		b.Ciphertext[0] ^= 0xff
	})

	views, err := s.service.Read(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(views, 3)

	// Newest first.
	s.Equal(good.Index, views[0].Index)
	s.NotNil(views[0].Data)
	s.Empty(views[0].DataError)

	s.Equal(int64(1), views[1].Index)
	s.Nil(views[1].Data)
	s.NotEmpty(views[1].DataError)
}

func (s *LedgerServiceSuite) TestVerifySurvivesDataKeyLoss() {
	// A restart under a generated data key keeps the signing keypair but
	// loses the AES key. Integrity must still verify from the ciphertext;
	// only the decrypted views degrade.
	keyPath := filepath.Join(s.T().TempDir(), "signing_key.pem")
	first, err := cryptoprov.New(keyPath, "", testLogger())
	s.Require().NoError(err)

	store := memory.New()
	svc := New(store, first, testLogger())
	s.Require().NoError(svc.Initialize(s.ctx))
	_, err = svc.Append(s.ctx, testEvent("alice", "resource.read"))
	s.Require().NoError(err)
	_, err = svc.Append(s.ctx, testEvent("bob", "resource.read"))
	s.Require().NoError(err)

	second, err := cryptoprov.New(keyPath, "", testLogger())
	s.Require().NoError(err)
	restarted := New(store, second, testLogger())

	report, err := restarted.Verify(s.ctx)
	s.Require().NoError(err)
	s.True(report.Valid)

	views, err := restarted.Read(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(views, 3)
	for _, view := range views {
		s.Nil(view.Data)
		s.NotEmpty(view.DataError)
	}
}

func (s *LedgerServiceSuite) TestReadLimit() {
	for i := 0; i < 5; i++ {
		_, err := s.service.Append(s.ctx, testEvent("alice", "resource.read"))
		s.Require().NoError(err)
	}
	views, err := s.service.Read(s.ctx, 2)
	s.Require().NoError(err)
	s.Require().Len(views, 2)
	s.Equal(int64(5), views[0].Index)
	s.Equal(int64(4), views[1].Index)
}

func (s *LedgerServiceSuite) TestConcurrentAppendsKeepLinkage() {
	const writers = 8

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.Append(s.ctx, testEvent("alice", "resource.read"))
			s.NoError(err)
		}()
	}
	wg.Wait()

	blocks, err := s.store.All(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(blocks, writers+1)
	for i := 1; i < len(blocks); i++ {
		s.Equal(blocks[i-1].Hash, blocks[i].PreviousHash)
		s.Equal(int64(i), blocks[i].Index)
	}

	report, err := s.service.Verify(s.ctx)
	s.Require().NoError(err)
	s.True(report.Valid)
}

func (s *LedgerServiceSuite) TestHeight() {
	height, err := s.service.Height(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(0), height)

	_, err = s.service.Append(s.ctx, testEvent("alice", "resource.read"))
	s.Require().NoError(err)

	height, err = s.service.Height(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), height)
}

type recordingMirror struct {
	mu     sync.Mutex
	saved  []domain.Block
	fail   bool
	signal chan struct{}
}

func (m *recordingMirror) Save(_ context.Context, block domain.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer func() { m.signal <- struct{}{} }()
	if m.fail {
		return context.DeadlineExceeded
	}
	m.saved = append(m.saved, block)
	return nil
}

func TestMirrorIsBestEffort(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	mirror := &recordingMirror{fail: true, signal: make(chan struct{}, 16)}
	service := New(store, newTestProvider(t), testLogger(), WithMirror(mirror))

	if err := service.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	<-mirror.signal

	// A failing mirror must not fail the append itself.
	if _, err := service.Append(ctx, testEvent("alice", "resource.read")); err != nil {
		t.Fatalf("append with failing mirror: %v", err)
	}
	<-mirror.signal
}

func TestMirrorReceivesBlocks(t *testing.T) {
	ctx := context.Background()
	mirror := &recordingMirror{signal: make(chan struct{}, 16)}
	service := New(memory.New(), newTestProvider(t), testLogger(), WithMirror(mirror))

	if err := service.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	<-mirror.signal

	block, err := service.Append(ctx, testEvent("alice", "resource.read"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	<-mirror.signal

	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	if len(mirror.saved) != 2 {
		t.Fatalf("expected 2 mirrored blocks, got %d", len(mirror.saved))
	}
	if mirror.saved[1].Hash != block.Hash {
		t.Fatalf("mirrored block hash mismatch")
	}
}

func TestAppendBeforeInitialize(t *testing.T) {
	service := New(memory.New(), newTestProvider(t), testLogger())

	_, err := service.Append(context.Background(), testEvent("alice", "resource.read"))
	if err == nil {
		t.Fatal("expected append on uninitialized chain to fail")
	}
}
