// Package ledger implements the tamper-evident audit chain: every
// verification verdict becomes an encrypted, mined, signed block linked to
// its predecessor by hash.
package ledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"veritas/internal/cryptoprov"
	"veritas/internal/domain"
	"veritas/internal/platform/metrics"
	"veritas/pkg/platform/circuit"
	"veritas/pkg/platform/sentinel"
)

// SourcePrimary tags blocks written by this gateway's own chain writer.
const SourcePrimary = "primary"

// Service owns the chain. Append serializes on a single writer lock:
// read-tail, mine, persist must be one atomic unit because mining time
// makes tail races likely under load. Reads and verification take no lock;
// they observe committed blocks only.
type Service struct {
	mu sync.Mutex

	store   Store
	crypto  *cryptoprov.Provider
	mirror  Mirror
	breaker *circuit.Breaker
	skipped uint64
	logger  *slog.Logger
	metrics *metrics.Metrics

	clock func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithMirror attaches a best-effort secondary sink, guarded by a circuit
// breaker so a dead mirror stops costing a write attempt per block.
func WithMirror(m Mirror) Option {
	return func(s *Service) {
		if m != nil {
			s.mirror = m
			s.breaker = circuit.New("ledger-mirror", circuit.WithFailureThreshold(5), circuit.WithSuccessThreshold(1))
		}
	}
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the block timestamp source for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New constructs the ledger service over a primary store.
func New(store Store, crypto *cryptoprov.Provider, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		crypto: crypto,
		logger: logger,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize creates the genesis block if and only if the chain is empty.
// Idempotent: calling it on a non-empty chain is a no-op.
func (s *Service) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.store.Tail(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		// Empty chain, fall through to genesis creation.
	default:
		return fmt.Errorf("ledger: read tail: %w", err)
	}

	genesis := domain.AuditEvent{
		ID:        "genesis",
		Subject:   "system",
		Action:    "ledger.genesis",
		Outcome:   domain.OutcomeGranted,
		RiskLevel: domain.RiskLow,
		Device:    map[string]string{},
		Details:   domain.GenesisMessage,
		Timestamp: s.clock(),
		Version:   domain.ProtocolVersion,
	}

	block, err := s.buildBlock(ctx, 0, domain.GenesisPreviousHash, genesis)
	if err != nil {
		return err
	}
	if err := s.store.Append(ctx, block); err != nil {
		return fmt.Errorf("ledger: persist genesis: %w", err)
	}
	s.logger.InfoContext(ctx, "genesis block created", "hash", block.Hash)
	s.mirrorAsync(block)
	return nil
}

// Append commits one audit event as the next block. The whole sequence
// (tail read, mining, persist) holds the writer lock; once mining has
// started the append runs to completion even if the caller's request has
// moved on - aborting mid-mine risks an orphaned index.
func (s *Service) Append(ctx context.Context, event domain.AuditEvent) (domain.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tail, err := s.store.Tail(ctx)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return domain.Block{}, fmt.Errorf("ledger: chain not initialized: %w", sentinel.ErrInvalidState)
		}
		return domain.Block{}, fmt.Errorf("ledger: read tail: %w", err)
	}

	block, err := s.buildBlock(ctx, tail.Index+1, tail.Hash, event)
	if err != nil {
		return domain.Block{}, err
	}
	if err := s.store.Append(ctx, block); err != nil {
		return domain.Block{}, fmt.Errorf("ledger: persist block %d: %w", block.Index, err)
	}
	s.mirrorAsync(block)
	return block, nil
}

// buildBlock commits, encrypts, mines, and signs an event into a block at
// the given position. Caller holds the writer lock.
func (s *Service) buildBlock(ctx context.Context, index int64, previousHash string, event domain.AuditEvent) (domain.Block, error) {
	commitment := cryptoprov.Commit(event)

	plaintext, err := json.Marshal(event)
	if err != nil {
		return domain.Block{}, fmt.Errorf("ledger: marshal event: %w", err)
	}
	ciphertext, err := s.crypto.Encrypt(plaintext)
	if err != nil {
		return domain.Block{}, fmt.Errorf("ledger: encrypt event: %w", err)
	}

	timestampMS := s.clock().UnixMilli()

	start := time.Now()
	var (
		nonce int64
		hash  string
	)
	for {
		hash = ComputeHash(index, previousHash, timestampMS, ciphertext, nonce, commitment)
		if MeetsDifficulty(hash) {
			break
		}
		nonce++
	}
	if s.metrics != nil {
		s.metrics.ObserveMining(int(nonce)+1, time.Since(start))
	}

	signature, err := s.crypto.Sign([]byte(hash))
	if err != nil {
		return domain.Block{}, fmt.Errorf("ledger: sign block %d: %w", index, err)
	}

	return domain.Block{
		Index:        index,
		TimestampMS:  timestampMS,
		PreviousHash: previousHash,
		Ciphertext:   ciphertext,
		Nonce:        nonce,
		MerkleRoot:   commitment,
		Hash:         hash,
		Signature:    signature,
		Source:       SourcePrimary,
	}, nil
}

// mirrorProbeInterval controls how often an open mirror breaker lets a
// block through to test the sink. One success closes the breaker.
const mirrorProbeInterval = 10

// mirrorAsync fires the block at the secondary sink without blocking the
// append path. Failures are logged and counted, never surfaced.
// Caller holds the writer lock, which also serializes skipped.
func (s *Service) mirrorAsync(block domain.Block) {
	if s.mirror == nil {
		return
	}
	if s.breaker.IsOpen() {
		s.skipped++
		if s.skipped%mirrorProbeInterval != 0 {
			if s.metrics != nil {
				s.metrics.MirrorFailures.Inc()
			}
			return
		}
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.mirror.Save(ctx, block); err != nil {
			if s.metrics != nil {
				s.metrics.MirrorFailures.Inc()
			}
			if _, change := s.breaker.RecordFailure(); change.Opened {
				s.logger.Warn("ledger mirror circuit opened", "block", block.Index, "error", err)
			} else {
				s.logger.Warn("ledger mirror write failed", "block", block.Index, "error", err)
			}
			return
		}
		if _, change := s.breaker.RecordSuccess(); change.Closed {
			s.logger.Info("ledger mirror circuit closed", "block", block.Index)
		}
	}()
}

// Verify walks the chain from index 1 and checks, per block: the recomputed
// hash against the stored hash, the previous-hash linkage, and the
// signature over the stored hash. It reports the first failure only; blocks
// past a break are not independently evaluated.
func (s *Service) Verify(ctx context.Context) (domain.VerifyReport, error) {
	blocks, err := s.store.All(ctx)
	if err != nil {
		return domain.VerifyReport{}, fmt.Errorf("ledger: load chain: %w", err)
	}

	for i := 1; i < len(blocks); i++ {
		current, previous := blocks[i], blocks[i-1]

		recomputed := ComputeHash(current.Index, current.PreviousHash, current.TimestampMS,
			current.Ciphertext, current.Nonce, current.MerkleRoot)
		if recomputed != current.Hash {
			return domain.VerifyReport{
				Valid:       false,
				BrokenIndex: current.Index,
				Error:       fmt.Sprintf("Block %d hash invalid", current.Index),
			}, nil
		}
		if current.PreviousHash != previous.Hash {
			return domain.VerifyReport{
				Valid:       false,
				BrokenIndex: current.Index,
				Error:       fmt.Sprintf("Block %d broken link to previous", current.Index),
			}, nil
		}
		if !s.crypto.Verify([]byte(current.Hash), current.Signature) {
			return domain.VerifyReport{
				Valid:       false,
				BrokenIndex: current.Index,
				Error:       fmt.Sprintf("Block %d signature invalid", current.Index),
			}, nil
		}
	}
	return domain.VerifyReport{Valid: true}, nil
}

// BlockView is the read-side projection of a block. Data carries the
// decrypted event; a payload that no longer decrypts is reported per-block
// through the data error marker and never aborts the batch.
type BlockView struct {
	Index        int64           `json:"index"`
	Timestamp    int64           `json:"timestamp"`
	Data         json.RawMessage `json:"data,omitempty"`
	DataError    string          `json:"data_error,omitempty"`
	PreviousHash string          `json:"previous_hash"`
	Hash         string          `json:"hash"`
	Nonce        int64           `json:"nonce"`
	Signature    string          `json:"signature"`
	MerkleRoot   string          `json:"merkle_root"`
	Source       string          `json:"source"`
}

// Read returns up to limit recent blocks, newest first, decrypting payloads
// opportunistically.
func (s *Service) Read(ctx context.Context, limit int) ([]BlockView, error) {
	blocks, err := s.store.Recent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: read chain: %w", err)
	}

	views := make([]BlockView, 0, len(blocks))
	for _, b := range blocks {
		view := BlockView{
			Index:        b.Index,
			Timestamp:    b.TimestampMS,
			PreviousHash: b.PreviousHash,
			Hash:         b.Hash,
			Nonce:        b.Nonce,
			Signature:    base64.StdEncoding.EncodeToString(b.Signature),
			MerkleRoot:   b.MerkleRoot,
			Source:       b.Source,
		}
		plaintext, err := s.crypto.Decrypt(b.Ciphertext)
		if err != nil {
			view.DataError = "decode failed: payload does not decrypt under the current data key"
			s.logger.WarnContext(ctx, "block payload decode failed", "block", b.Index, "error", err)
		} else {
			view.Data = json.RawMessage(plaintext)
		}
		views = append(views, view)
	}
	return views, nil
}

// Height returns the current tail index, or -1 for an empty chain.
func (s *Service) Height(ctx context.Context) (int64, error) {
	tail, err := s.store.Tail(ctx)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return -1, nil
		}
		return -1, fmt.Errorf("ledger: read tail: %w", err)
	}
	return tail.Index, nil
}
