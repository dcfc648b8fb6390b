// Package ethtest runs an in-process JSON-RPC node with scripted contracts
// so RPC-backed components can be tested without a chain.
package ethtest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/devlongs/amm-swap-engine/internal/config"
	"github.com/devlongs/amm-swap-engine/internal/eth"
)

// Contract answers eth_call requests addressed to it
type Contract func(from common.Address, input []byte) ([]byte, error)

// Node is a fake execution client
type Node struct {
	ChainID  *big.Int
	GasPrice *big.Int
	Gas      uint64

	// OnSend is called for every broadcast transaction and returns the
	// receipt status. Nil means every transaction succeeds.
	OnSend func(tx *types.Transaction, from common.Address) uint64

	mu        sync.Mutex
	contracts map[common.Address]Contract
	sent      []*types.Transaction
	receipts  map[common.Hash]*types.Receipt
	nonces    map[common.Address]uint64
	hold      bool
	calls     int
}

// NewNode creates a node for chainID
func NewNode(chainID int64) *Node {
	return &Node{
		ChainID:   big.NewInt(chainID),
		GasPrice:  big.NewInt(1_000_000_000),
		Gas:       100_000,
		contracts: make(map[common.Address]Contract),
		receipts:  make(map[common.Hash]*types.Receipt),
		nonces:    make(map[common.Address]uint64),
	}
}

// Deploy registers a contract at addr
func (n *Node) Deploy(addr common.Address, c Contract) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.contracts[addr] = c
}

// Hold stops receipts from being returned until Release is called
func (n *Node) Hold() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.hold = true
}

// Release makes held receipts visible
func (n *Node) Release() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.hold = false
}

// Sent returns the broadcast transactions in order
func (n *Node) Sent() []*types.Transaction {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*types.Transaction(nil), n.sent...)
}

// Calls returns the number of eth_call requests served
func (n *Node) Calls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

// Client starts an in-process RPC server for the node
func (n *Node) Client(t testing.TB) *eth.Client {
	t.Helper()

	srv := gethrpc.NewServer()
	if err := srv.RegisterName("eth", &service{n}); err != nil {
		t.Fatalf("register rpc service: %v", err)
	}
	rc := gethrpc.DialInProc(srv)

	c, err := eth.NewClientFromRPC(rc, config.RPCConfig{
		RetryAttempts:  1,
		RetryDelay:     time.Millisecond,
		RequestTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("dial in-proc node: %v", err)
	}
	t.Cleanup(func() {
		c.Close()
		srv.Stop()
	})
	return c
}

// CallArgs mirrors the transaction call object sent by ethclient
type CallArgs struct {
	From     *common.Address `json:"from"`
	To       *common.Address `json:"to"`
	Gas      *hexutil.Uint64 `json:"gas"`
	GasPrice *hexutil.Big    `json:"gasPrice"`
	Value    *hexutil.Big    `json:"value"`
	Input    *hexutil.Bytes  `json:"input"`
	Data     *hexutil.Bytes  `json:"data"`
}

func (a CallArgs) input() []byte {
	if a.Input != nil {
		return *a.Input
	}
	if a.Data != nil {
		return *a.Data
	}
	return nil
}

// service exposes the eth_ namespace
type service struct {
	n *Node
}

func (s *service) ChainId() *hexutil.Big {
	return (*hexutil.Big)(s.n.ChainID)
}

func (s *service) BlockNumber() hexutil.Uint64 {
	return 1
}

func (s *service) GasPrice() *hexutil.Big {
	return (*hexutil.Big)(s.n.GasPrice)
}

func (s *service) EstimateGas(args CallArgs) (hexutil.Uint64, error) {
	return hexutil.Uint64(s.n.Gas), nil
}

func (s *service) GetTransactionCount(addr common.Address, _ gethrpc.BlockNumberOrHash) hexutil.Uint64 {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	return hexutil.Uint64(s.n.nonces[addr])
}

func (s *service) Call(ctx context.Context, args CallArgs, _ gethrpc.BlockNumberOrHash) (hexutil.Bytes, error) {
	if args.To == nil {
		return nil, errors.New("contract creation not supported")
	}
	s.n.mu.Lock()
	c, ok := s.n.contracts[*args.To]
	s.n.calls++
	s.n.mu.Unlock()
	if !ok {
		// calls to accounts without code return empty data
		return hexutil.Bytes{}, nil
	}

	var from common.Address
	if args.From != nil {
		from = *args.From
	}
	return c(from, args.input())
}

func (s *service) SendRawTransaction(raw hexutil.Bytes) (common.Hash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, err
	}
	from, err := types.Sender(types.LatestSignerForChainID(s.n.ChainID), tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid sender: %w", err)
	}

	s.n.mu.Lock()
	if tx.Nonce() != s.n.nonces[from] {
		want := s.n.nonces[from]
		s.n.mu.Unlock()
		return common.Hash{}, fmt.Errorf("invalid nonce: have %d want %d", tx.Nonce(), want)
	}
	s.n.nonces[from]++
	s.n.mu.Unlock()

	status := types.ReceiptStatusSuccessful
	if s.n.OnSend != nil {
		status = s.n.OnSend(tx, from)
	}

	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	s.n.sent = append(s.n.sent, tx)
	s.n.receipts[tx.Hash()] = &types.Receipt{
		Type:              tx.Type(),
		Status:            status,
		CumulativeGasUsed: tx.Gas(),
		Logs:              []*types.Log{},
		TxHash:            tx.Hash(),
		GasUsed:           tx.Gas(),
		BlockNumber:       big.NewInt(int64(len(s.n.sent))),
	}
	return tx.Hash(), nil
}

func (s *service) GetTransactionReceipt(hash common.Hash) (*types.Receipt, error) {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	if s.n.hold {
		return nil, nil
	}
	return s.n.receipts[hash], nil
}

// Method handles one ABI method of a scripted contract
type Method func(from common.Address, args []interface{}) ([]interface{}, error)

// ABIContract dispatches calls by selector, unpacking inputs and packing
// outputs with parsed. Unknown selectors revert.
func ABIContract(parsed abi.ABI, methods map[string]Method) Contract {
	return func(from common.Address, input []byte) ([]byte, error) {
		if len(input) < 4 {
			return nil, errors.New("execution reverted: missing selector")
		}
		m, err := parsed.MethodById(input[:4])
		if err != nil {
			return nil, fmt.Errorf("execution reverted: %w", err)
		}
		fn, ok := methods[m.Name]
		if !ok {
			return nil, fmt.Errorf("execution reverted: %s not scripted", m.Name)
		}
		args, err := m.Inputs.Unpack(input[4:])
		if err != nil {
			return nil, err
		}
		out, err := fn(from, args)
		if err != nil {
			return nil, err
		}
		return m.Outputs.Pack(out...)
	}
}
