package ethledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/suite"
)

type fakeBackend struct {
	mu          sync.Mutex
	chainID     *big.Int
	nonce       uint64
	head        uint64
	txs         map[common.Hash]*types.Transaction
	receipts    map[common.Hash]*types.Receipt
	estimateErr error
	sendErr     error
	// stalePending makes PendingNonceAt lag behind accepted sends, as a load-balanced
	// RPC endpoint can.
	stalePending bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		chainID:  big.NewInt(1337),
		txs:      make(map[common.Hash]*types.Transaction),
		receipts: make(map[common.Hash]*types.Receipt),
	}
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stalePending {
		return 0, nil
	}
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return 30_000, nil
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) {
	return f.chainID, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	if tx.Nonce() != f.nonce {
		return fmt.Errorf("invalid nonce: have %d, want %d", tx.Nonce(), f.nonce)
	}
	f.txs[tx.Hash()] = tx
	f.nonce++
	return nil
}

func (f *fakeBackend) TransactionByHash(_ context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	_, mined := f.receipts[hash]
	return tx, !mined, nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeBackend) mine(hash common.Hash, block uint64, status uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[hash] = &types.Receipt{Status: status, TxHash: hash, BlockNumber: new(big.Int).SetUint64(block)}
	f.head = max(f.head, block)
}

type EthLedgerSuite struct {
	suite.Suite
	backend *fakeBackend
	ledger  *Ledger
}

func TestEthLedgerSuite(t *testing.T) {
	suite.Run(t, new(EthLedgerSuite))
}

func (s *EthLedgerSuite) SetupTest() {
	key, err := crypto.GenerateKey()
	s.Require().NoError(err)
	s.backend = newFakeBackend()
	s.ledger, err = New(s.backend, key,
		WithConfirmationBlocks(3),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.Require().NoError(err)
}

func (s *EthLedgerSuite) TestNewRequiresKeyAndBackend() {
	_, err := New(s.backend, nil)
	s.ErrorIs(err, ErrPrivateKeyNil)

	key, _ := crypto.GenerateKey()
	_, err = New(nil, key)
	s.Error(err)
}

func (s *EthLedgerSuite) TestAnchorSendsSignedSelfTransaction() {
	a, err := s.ledger.Anchor(context.Background(), "sub", []string{"h1", "h2"})
	s.Require().NoError(err)

	tx := s.backend.txs[common.HexToHash(a.Reference)]
	s.Require().NotNil(tx)
	s.Equal(s.ledger.Address(), *tx.To())
	s.Equal(uint64(30_000), tx.Gas())

	sender, err := types.Sender(types.NewEIP155Signer(s.backend.chainID), tx)
	s.Require().NoError(err)
	s.Equal(s.ledger.Address(), sender)

	var p payload
	s.Require().NoError(json.Unmarshal(tx.Data(), &p))
	s.Equal(payloadKind, p.Kind)
	s.Equal("sub", p.Submission)
	s.Equal([]string{"h1", "h2"}, p.Documents)
}

func (s *EthLedgerSuite) TestAnchorFallsBackToDefaultGas() {
	s.backend.estimateErr = errors.New("execution reverted")
	a, err := s.ledger.Anchor(context.Background(), "sub", nil)
	s.Require().NoError(err)
	s.Equal(uint64(defaultGasLimit), s.backend.txs[common.HexToHash(a.Reference)].Gas())
}

func (s *EthLedgerSuite) TestAnchorSendFailure() {
	s.backend.sendErr = errors.New("nonce too low")
	_, err := s.ledger.Anchor(context.Background(), "sub", nil)
	s.ErrorContains(err, "nonce too low")
}

func (s *EthLedgerSuite) TestConcurrentAnchorsGetDistinctNonces() {
	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ledger.Anchor(context.Background(), fmt.Sprintf("sub-%d", i), nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		s.NoError(err)
	}
	s.Len(s.backend.txs, callers)
	seen := make(map[uint64]bool)
	for _, tx := range s.backend.txs {
		s.False(seen[tx.Nonce()], "nonce %d reused", tx.Nonce())
		seen[tx.Nonce()] = true
	}
}

func (s *EthLedgerSuite) TestAnchorUsesLocalNonceWhenNodeLags() {
	s.backend.stalePending = true
	for i := range 3 {
		_, err := s.ledger.Anchor(context.Background(), fmt.Sprintf("sub-%d", i), nil)
		s.Require().NoError(err)
	}
	s.Equal(uint64(3), s.backend.nonce)
}

func (s *EthLedgerSuite) TestAnchorResyncsNonceAfterFailedSend() {
	ctx := context.Background()
	_, err := s.ledger.Anchor(ctx, "first", nil)
	s.Require().NoError(err)

	s.backend.sendErr = errors.New("connection reset")
	_, err = s.ledger.Anchor(ctx, "lost", nil)
	s.Require().Error(err)
	s.Nil(s.ledger.next)

	s.backend.sendErr = nil
	a, err := s.ledger.Anchor(ctx, "second", nil)
	s.Require().NoError(err)
	s.Equal(uint64(1), s.backend.txs[common.HexToHash(a.Reference)].Nonce())
}

func (s *EthLedgerSuite) TestStatusFollowsConfirmations() {
	ctx := context.Background()
	a, err := s.ledger.Anchor(ctx, "sub", []string{"h1"})
	s.Require().NoError(err)
	hash := common.HexToHash(a.Reference)

	s.Run("pending transaction is found but not durable", func() {
		st, err := s.ledger.Status(ctx, a.Reference)
		s.Require().NoError(err)
		s.True(st.Found)
		s.False(st.Durable)
		s.Nil(st.BlockNumber)
		s.Equal("sub", st.SubmissionHash)
	})

	s.Run("mined below depth is not durable", func() {
		s.backend.mine(hash, 10, types.ReceiptStatusSuccessful)
		st, err := s.ledger.Status(ctx, a.Reference)
		s.Require().NoError(err)
		s.False(st.Durable)
		s.Equal(uint64(1), st.Confirmations)
		s.Require().NotNil(st.BlockNumber)
		s.Equal(uint64(10), *st.BlockNumber)
	})

	s.Run("buried at depth is durable", func() {
		s.backend.head = 12
		st, err := s.ledger.Status(ctx, a.Reference)
		s.Require().NoError(err)
		s.True(st.Durable)
		s.Equal(uint64(3), st.Confirmations)
	})
}

func (s *EthLedgerSuite) TestFailedReceiptIsNeverDurable() {
	ctx := context.Background()
	a, _ := s.ledger.Anchor(ctx, "sub", nil)
	s.backend.mine(common.HexToHash(a.Reference), 5, types.ReceiptStatusFailed)
	s.backend.head = 50

	st, err := s.ledger.Status(ctx, a.Reference)
	s.Require().NoError(err)
	s.True(st.Found)
	s.False(st.Durable)
}

func (s *EthLedgerSuite) TestUnknownAndMalformedReferences() {
	ctx := context.Background()
	for _, ref := range []string{"", "not-hex", "0x1234", common.HexToHash("0xabc").Hex()} {
		st, err := s.ledger.Status(ctx, ref)
		s.NoError(err, ref)
		s.False(st.Found, ref)
	}
}
