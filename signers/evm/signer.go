package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	medchain "github.com/firasabs/medSmartContract"
	"github.com/firasabs/medSmartContract/log"
)

// DefaultPollInterval is the delay between receipt lookups
const DefaultPollInterval = 1 * time.Second

// Backend is the subset of *ethclient.Client the signer needs
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Signer is the connection context of the client: one account key bound to
// one network. It is created once and passed to everything that talks to the
// ledger.
type Signer struct {
	privateKey   *ecdsa.PrivateKey
	address      common.Address
	backend      Backend
	chainID      *big.Int
	pollInterval time.Duration

	// serializes nonce allocation
	sendMu sync.Mutex
}

// Option configures a Signer
type Option func(*Signer)

// WithPollInterval sets the delay between receipt lookups
func WithPollInterval(d time.Duration) Option {
	return func(s *Signer) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// NewSignerFromPrivateKey dials rpcURL and creates a signer for the given key.
//
// Args:
//
//	privateKeyHex: Hex-encoded private key (with or without "0x" prefix)
//	rpcURL: JSON-RPC endpoint of the network hosting the contract
//
// Failure to reach the network is reported as medchain.ErrNetworkUnavailable.
func NewSignerFromPrivateKey(ctx context.Context, privateKeyHex, rpcURL string, opts ...Option) (*Signer, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, medchain.NewWorkflowError(medchain.ErrCodeNetworkUnavailable, "failed to connect to RPC", err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, medchain.NewWorkflowError(medchain.ErrCodeNetworkUnavailable, "failed to get chain ID", err)
	}

	s, err := NewSigner(privateKeyHex, client, chainID, opts...)
	if err != nil {
		client.Close()
		return nil, err
	}
	log.L(ctx).Infof("Connected to chain %s as %s", chainID, s.address.Hex())
	return s, nil
}

// NewSigner creates a signer over an existing backend
func NewSigner(privateKeyHex string, backend Backend, chainID *big.Int, opts ...Option) (*Signer, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	if chainID == nil {
		return nil, errors.New("chain ID is required")
	}

	s := &Signer{
		privateKey:   privateKey,
		address:      crypto.PubkeyToAddress(privateKey.PublicKey),
		backend:      backend,
		chainID:      new(big.Int).Set(chainID),
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Address returns the connected account
func (s *Signer) Address() common.Address {
	return s.address
}

// ChainID returns the chain the signer is bound to
func (s *Signer) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// ReadContract calls a view function and returns its unpacked outputs
func (s *Signer) ReadContract(ctx context.Context, contract common.Address, contractABI *abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	result, err := s.backend.CallContract(ctx, ethereum.CallMsg{
		From: s.address,
		To:   &contract,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}

	m, ok := contractABI.Methods[method]
	if !ok {
		return nil, fmt.Errorf("method %s not found in ABI", method)
	}
	if len(result) == 0 && len(m.Outputs) > 0 {
		return nil, fmt.Errorf("empty result from %s (no contract at %s?)", method, contract.Hex())
	}

	output, err := m.Outputs.Unpack(result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", method, err)
	}
	return output, nil
}

// WriteContract signs and sends a state-changing call. It returns as soon as
// the node accepted the transaction.
func (s *Signer) WriteContract(ctx context.Context, contract common.Address, contractABI *abi.ABI, method string, args ...interface{}) (common.Hash, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	return s.send(ctx, contract, big.NewInt(0), data)
}

// SendValue transfers amount wei to the given address
func (s *Signer) SendValue(ctx context.Context, to common.Address, amount *big.Int) (common.Hash, error) {
	if amount == nil || amount.Sign() <= 0 {
		return common.Hash{}, fmt.Errorf("invalid transfer amount %v", amount)
	}
	return s.send(ctx, to, amount, nil)
}

func (s *Signer) send(ctx context.Context, to common.Address, value *big.Int, data []byte) (common.Hash, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	nonce, err := s.backend.PendingNonceAt(ctx, s.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := s.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get gas price: %w", err)
	}

	gas, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:     s.address,
		To:       &to,
		GasPrice: gasPrice,
		Value:    value,
		Data:     data,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to estimate gas: %w", err)
	}
	if len(data) > 0 {
		// headroom for state that changes between estimate and inclusion
		gas += gas / 5
	}

	tx := types.NewTransaction(nonce, to, value, gas, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.privateKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := s.backend.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	log.L(ctx).Debugf("Sent tx %s (nonce=%d gas=%d to=%s)", signedTx.Hash().Hex(), nonce, gas, to.Hex())
	return signedTx.Hash(), nil
}

// WaitForTransactionReceipt polls until the transaction is mined or ctx is done.
// A reverted transaction is returned with Status 0, not as an error.
func (s *Signer) WaitForTransactionReceipt(ctx context.Context, txHash common.Hash) (*medchain.TransactionReceipt, error) {
	for {
		receipt, err := s.backend.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			var block uint64
			if receipt.BlockNumber != nil {
				block = receipt.BlockNumber.Uint64()
			}
			return &medchain.TransactionReceipt{
				Status:      receipt.Status,
				BlockNumber: block,
				TxHash:      txHash.Hex(),
			}, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			log.L(ctx).Debugf("Receipt lookup for %s failed: %s", txHash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("transaction %s not mined: %w", txHash.Hex(), ctx.Err())
		case <-time.After(s.pollInterval):
		}
	}
}

// TransferByHash reads a mined transaction back from the network. The sender is
// recovered from the signature, so it cannot be claimed by whoever supplied the
// hash.
func (s *Signer) TransferByHash(ctx context.Context, txHash common.Hash) (*medchain.Transfer, error) {
	tx, pending, err := s.backend.TransactionByHash(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", txHash.Hex(), err)
	}
	if pending {
		return nil, fmt.Errorf("transaction %s is not mined yet", txHash.Hex())
	}
	if tx.To() == nil {
		return nil, fmt.Errorf("transaction %s is a contract creation", txHash.Hex())
	}

	from, err := types.Sender(types.LatestSignerForChainID(s.chainID), tx)
	if err != nil {
		return nil, fmt.Errorf("failed to recover sender of %s: %w", txHash.Hex(), err)
	}

	receipt, err := s.backend.TransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt of %s: %w", txHash.Hex(), err)
	}
	var block uint64
	if receipt.BlockNumber != nil {
		block = receipt.BlockNumber.Uint64()
	}

	return &medchain.Transfer{
		From:  from,
		To:    *tx.To(),
		Value: tx.Value(),
		Receipt: &medchain.TransactionReceipt{
			Status:      receipt.Status,
			BlockNumber: block,
			TxHash:      txHash.Hex(),
		},
	}, nil
}

// Balance returns the native balance of the connected account
func (s *Signer) Balance(ctx context.Context) (*big.Int, error) {
	balance, err := s.backend.BalanceAt(ctx, s.address, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}
