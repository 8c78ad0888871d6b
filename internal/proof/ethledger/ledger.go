// Package ethledger anchors submission hashes on an EVM chain. Each anchor is a
// zero-value transaction from the service account to itself whose calldata carries
// the hashes; the transaction hash is the proof reference.
package ethledger

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"kycvault/internal/proof"
)

const (
	defaultConfirmationBlocks = 12
	defaultRPCTimeout         = 10 * time.Second
	defaultGasLimit           = 60_000
	payloadKind               = "kyc-proof/v1"
)

var ErrPrivateKeyNil = errors.New("ethledger: private key is required")

// Backend is the subset of the JSON-RPC client the ledger needs. *ethclient.Client
// satisfies it.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

type payload struct {
	Kind       string   `json:"kind"`
	Submission string   `json:"submission"`
	Documents  []string `json:"documents"`
}

type Ledger struct {
	backend       Backend
	key           *ecdsa.PrivateKey
	from          common.Address
	confirmations uint64
	rpcTimeout    time.Duration
	gasLimit      uint64
	logger        *slog.Logger
	now           func() time.Time

	// nonceMu serializes nonce allocation through broadcast. next is the nonce after
	// the last accepted send; it is cleared when a send fails so the node is asked again.
	nonceMu sync.Mutex
	next    *uint64
}

type Option func(*Ledger)

// WithConfirmationBlocks sets the depth at which an anchor counts as durable.
func WithConfirmationBlocks(n uint64) Option {
	return func(l *Ledger) {
		l.confirmations = max(n, 1)
	}
}

func WithRPCTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		l.rpcTimeout = d
	}
}

// WithGasLimit is used when gas estimation fails.
func WithGasLimit(gas uint64) Option {
	return func(l *Ledger) {
		l.gasLimit = gas
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

func New(backend Backend, key *ecdsa.PrivateKey, opts ...Option) (*Ledger, error) {
	if backend == nil {
		return nil, errors.New("ethledger: backend is required")
	}
	if key == nil {
		return nil, ErrPrivateKeyNil
	}
	l := &Ledger{
		backend:       backend,
		key:           key,
		from:          crypto.PubkeyToAddress(key.PublicKey),
		confirmations: defaultConfirmationBlocks,
		rpcTimeout:    defaultRPCTimeout,
		gasLimit:      defaultGasLimit,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Dial connects to rpcURL and loads the hex-encoded signing key.
func Dial(ctx context.Context, rpcURL, hexKey string, opts ...Option) (*Ledger, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("ethledger: parse private key: %w", err)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("ethledger: dial %s: %w", rpcURL, err)
	}
	return New(client, key, opts...)
}

// Address is the account that signs anchors.
func (l *Ledger) Address() common.Address {
	return l.from
}

// Anchor signs and broadcasts the anchoring transaction. It does not wait for
// inclusion; durability is observed later through Status.
func (l *Ledger) Anchor(ctx context.Context, submissionHash string, documentHashes []string) (proof.Anchor, error) {
	ctx, cancel := context.WithTimeout(ctx, l.rpcTimeout)
	defer cancel()

	data, err := json.Marshal(payload{Kind: payloadKind, Submission: submissionHash, Documents: documentHashes})
	if err != nil {
		return proof.Anchor{}, fmt.Errorf("ethledger: encode payload: %w", err)
	}
	gasPrice, err := l.backend.SuggestGasPrice(ctx)
	if err != nil {
		return proof.Anchor{}, fmt.Errorf("ethledger: gas price: %w", err)
	}
	chainID, err := l.backend.ChainID(ctx)
	if err != nil {
		return proof.Anchor{}, fmt.Errorf("ethledger: chain id: %w", err)
	}
	to := l.from
	gas, err := l.backend.EstimateGas(ctx, ethereum.CallMsg{From: l.from, To: &to, GasPrice: gasPrice, Data: data})
	if err != nil {
		l.logger.WarnContext(ctx, "gas estimation failed, using default limit", "error", err, "gas_limit", l.gasLimit)
		gas = l.gasLimit
	}

	l.nonceMu.Lock()
	defer l.nonceMu.Unlock()

	nonce, err := l.allocateNonce(ctx)
	if err != nil {
		return proof.Anchor{}, err
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(chainID), l.key)
	if err != nil {
		return proof.Anchor{}, fmt.Errorf("ethledger: sign: %w", err)
	}
	if err := l.backend.SendTransaction(ctx, signed); err != nil {
		l.next = nil
		return proof.Anchor{}, fmt.Errorf("ethledger: send: %w", err)
	}
	following := nonce + 1
	l.next = &following
	l.logger.DebugContext(ctx, "proof anchored", "tx", signed.Hash().Hex(), "nonce", nonce)
	return proof.Anchor{Reference: signed.Hash().Hex(), SubmittedAt: l.now()}, nil
}

// allocateNonce returns the node's pending nonce, or the local counter when the node
// has not yet seen our last broadcast. Callers hold nonceMu.
func (l *Ledger) allocateNonce(ctx context.Context) (uint64, error) {
	pending, err := l.backend.PendingNonceAt(ctx, l.from)
	if err != nil {
		return 0, fmt.Errorf("ethledger: nonce: %w", err)
	}
	if l.next != nil && *l.next > pending {
		return *l.next, nil
	}
	return pending, nil
}

// Status looks the reference up on chain. A transaction that is not an anchor from
// this ledger's payload format resolves as not found.
func (l *Ledger) Status(ctx context.Context, ref string) (proof.Status, error) {
	raw, err := hexutil.Decode(ref)
	if err != nil || len(raw) != common.HashLength {
		return proof.Status{}, nil
	}
	hash := common.BytesToHash(raw)

	ctx, cancel := context.WithTimeout(ctx, l.rpcTimeout)
	defer cancel()

	tx, pending, err := l.backend.TransactionByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return proof.Status{}, nil
	}
	if err != nil {
		return proof.Status{}, fmt.Errorf("ethledger: transaction %s: %w", ref, err)
	}
	var p payload
	if err := json.Unmarshal(tx.Data(), &p); err != nil || p.Kind != payloadKind {
		return proof.Status{}, nil
	}
	st := proof.Status{Found: true, SubmissionHash: p.Submission, DocumentHashes: p.Documents}
	if pending {
		return st, nil
	}

	receipt, err := l.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return st, nil
	}
	if err != nil {
		return proof.Status{}, fmt.Errorf("ethledger: receipt %s: %w", ref, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful || receipt.BlockNumber == nil {
		return st, nil
	}
	head, err := l.backend.BlockNumber(ctx)
	if err != nil {
		return proof.Status{}, fmt.Errorf("ethledger: block number: %w", err)
	}
	block := receipt.BlockNumber.Uint64()
	st.BlockNumber = &block
	if head >= block {
		st.Confirmations = head - block + 1
	}
	st.Durable = st.Confirmations >= l.confirmations
	return st, nil
}
