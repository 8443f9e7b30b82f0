package blockchain

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/speedrun-hq/speedrun-resolver/pkg/logger"
)

// TransactionStatus represents the status of a transaction
type TransactionStatus int

const (
	// TxPending indicates transaction is pending
	TxPending TransactionStatus = iota
	// TxConfirmed indicates transaction is confirmed
	TxConfirmed
	// TxFailed indicates transaction has failed
	TxFailed
	// TxTimedOut indicates transaction has timed out
	TxTimedOut
)

// TransactionRecord tracks a submitted transaction
type TransactionRecord struct {
	Hash      string
	Nonce     uint64
	Attempt   int
	CreatedAt time.Time
	UpdatedAt time.Time
	Status    TransactionStatus
}

// NonceSource returns the signer's next nonce as seen by the node, including pending transactions
type NonceSource func(ctx context.Context) (uint64, error)

type signerKey struct {
	chainID int
	signer  string
}

// signerState is the single-writer state for one signing key on one chain
type signerState struct {
	// held for the whole build-sign-submit-confirm cycle
	submit sync.Mutex

	mu         sync.Mutex
	pendingTxs map[string]*TransactionRecord
}

// NonceManager serializes submissions per (chain, signer) and tracks in-flight transactions
type NonceManager struct {
	signers   map[signerKey]*signerState
	mu        sync.Mutex
	txTimeout time.Duration
	logger    logger.Logger
}

// NewNonceManager creates a new nonce manager
func NewNonceManager(log logger.Logger) *NonceManager {
	return &NonceManager{
		signers:   make(map[signerKey]*signerState),
		txTimeout: 5 * time.Minute,
		logger:    log,
	}
}

// SetTransactionTimeout sets the age after which a pending record is expired.
// Call it before the first submission.
func (nm *NonceManager) SetTransactionTimeout(timeout time.Duration) {
	nm.txTimeout = timeout
}

func (nm *NonceManager) state(chainID int, signer string) *signerState {
	key := signerKey{chainID: chainID, signer: strings.ToLower(signer)}

	nm.mu.Lock()
	defer nm.mu.Unlock()
	s, ok := nm.signers[key]
	if !ok {
		s = &signerState{pendingTxs: make(map[string]*TransactionRecord)}
		nm.signers[key] = s
	}
	return s
}

// Acquire blocks until the caller owns the signer on the chain, or ctx is done.
// The returned function releases it.
func (nm *NonceManager) Acquire(ctx context.Context, chainID int, signer string) (func(), error) {
	s := nm.state(chainID, signer)

	acquired := make(chan struct{})
	go func() {
		s.submit.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
		return s.submit.Unlock, nil
	case <-ctx.Done():
		// hand the lock back as soon as the goroutine gets it
		go func() {
			<-acquired
			s.submit.Unlock()
		}()
		return nil, fmt.Errorf("waiting for signer %s on chain %d: %w", signer, chainID, ctx.Err())
	}
}

// NextNonce returns the nonce for the signer's next submission. It starts from the
// node's pending nonce and moves past any transaction this process broadcast that
// is still tracked as pending, in case the node has not counted it yet. Records
// older than the transaction timeout are expired first, so a transaction that
// silently left the pool cannot hold the sequence open. A dropped or failed
// transaction is no longer tracked, which frees its nonce for the retry.
func (nm *NonceManager) NextNonce(ctx context.Context, chainID int, signer string, source NonceSource) (uint64, error) {
	nonce, err := source(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending nonce: %w", err)
	}

	s := nm.state(chainID, signer)
	s.mu.Lock()
	for _, tx := range nm.expire(s, time.Now()) {
		nm.logger.NoticeWithChain(chainID, "Transaction %s (nonce %d) pending for over %s, no longer tracked", tx.Hash, tx.Nonce, nm.txTimeout)
	}
	for _, tx := range s.pendingTxs {
		if tx.Nonce >= nonce {
			nonce = tx.Nonce + 1
		}
	}
	s.mu.Unlock()

	nm.logger.DebugWithChain(chainID, "Using nonce %d", nonce)
	return nonce, nil
}

// TrackTransaction records a new submission
func (nm *NonceManager) TrackTransaction(chainID int, signer, txHash string, nonce uint64, attempt int) {
	s := nm.state(chainID, signer)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.pendingTxs[txHash] = &TransactionRecord{
		Hash:      txHash,
		Nonce:     nonce,
		Attempt:   attempt,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    TxPending,
	}
	nm.logger.DebugWithChain(chainID, "Tracking transaction %s (nonce %d, attempt %d)", txHash, nonce, attempt)
}

// MarkTransactionConfirmed removes a confirmed transaction from the pending set
func (nm *NonceManager) MarkTransactionConfirmed(chainID int, signer, txHash string) bool {
	return nm.finish(chainID, signer, txHash, TxConfirmed)
}

// MarkTransactionFailed removes a failed, dropped or reverted transaction from the pending set
func (nm *NonceManager) MarkTransactionFailed(chainID int, signer, txHash string) bool {
	return nm.finish(chainID, signer, txHash, TxFailed)
}

func (nm *NonceManager) finish(chainID int, signer, txHash string, status TransactionStatus) bool {
	s := nm.state(chainID, signer)
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.pendingTxs[txHash]
	if !ok {
		return false
	}
	tx.Status = status
	tx.UpdatedAt = time.Now()
	delete(s.pendingTxs, txHash)
	return true
}

// expire removes pending records older than the transaction timeout. Callers hold s.mu.
func (nm *NonceManager) expire(s *signerState, now time.Time) []TransactionRecord {
	var out []TransactionRecord
	for hash, tx := range s.pendingTxs {
		if tx.Status == TxPending && now.Sub(tx.CreatedAt) > nm.txTimeout {
			tx.Status = TxTimedOut
			tx.UpdatedAt = now
			out = append(out, *tx)
			delete(s.pendingTxs, hash)
		}
	}
	return out
}

// GetPendingTransactionsCount returns the number of in-flight transactions for a signer
func (nm *NonceManager) GetPendingTransactionsCount(chainID int, signer string) int {
	s := nm.state(chainID, signer)
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pendingTxs)
}
