// Package ledgertest runs the endorsement chaincode in-process on a
// shimtest.MockStub and exposes it through gateway.Transactor, so gateway,
// dashboard and CLI code can be exercised against the real contract logic.
package ledgertest

import (
	"container/list"
	"context"
	"encoding/json"
	"errors"
	"sync"

	"skillendorse/chaincode/contract"
	"skillendorse/gateway"

	"github.com/google/uuid"
	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-chaincode-go/shimtest"
)

// Contract names as registered by contract.NewChaincode.
const (
	ManagerContract = "EndorsementContract"
	TokenContract   = "TokenContract"
)

// Event is a chaincode event emitted by a committed transaction.
type Event struct {
	TxID    string
	Name    string
	Payload []byte
}

// Ledger is a single-peer, single-channel ledger. Invocations are serialized.
// A failed invocation leaves no state behind, and evaluations never persist.
type Ledger struct {
	mu      sync.Mutex
	stub    *shimtest.MockStub
	block   uint64
	events  []Event
	submits map[string]int
	faults  map[string]error
}

// New deploys a fresh chaincode instance.
func New() (*Ledger, error) {
	cc, err := contract.NewChaincode()
	if err != nil {
		return nil, err
	}
	return &Ledger{
		stub:    shimtest.NewMockStub("skillendorse", cc),
		submits: make(map[string]int),
		faults:  make(map[string]error),
	}, nil
}

// MustNew is New that panics, for test setup.
func MustNew() *Ledger {
	l, err := New()
	if err != nil {
		panic(err)
	}
	return l
}

type snapshot struct {
	state map[string][]byte
	keys  []interface{}
}

func (l *Ledger) snapshot() snapshot {
	s := snapshot{state: make(map[string][]byte, len(l.stub.State))}
	for k, v := range l.stub.State {
		s.state[k] = append([]byte(nil), v...)
	}
	for e := l.stub.Keys.Front(); e != nil; e = e.Next() {
		s.keys = append(s.keys, e.Value)
	}
	return s
}

func (l *Ledger) restore(s snapshot) {
	l.stub.State = s.state
	keys := list.New()
	for _, k := range s.keys {
		keys.PushBack(k)
	}
	l.stub.Keys = keys
}

func (l *Ledger) drainEvents(txID string) []Event {
	var out []Event
	for {
		select {
		case ev := <-l.stub.ChaincodeEventsChannel:
			out = append(out, Event{TxID: txID, Name: ev.EventName, Payload: ev.Payload})
		default:
			return out
		}
	}
}

// invoke runs contractName:fn as w. When commit is false, or the call fails,
// every write is rolled back.
func (l *Ledger) invoke(w *Wallet, contractName, fn string, args []string, commit bool) ([]byte, string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err, ok := l.faults[fn]; ok {
		return nil, "", err
	}

	txID := uuid.NewString()
	argBytes := make([][]byte, 0, len(args)+1)
	argBytes = append(argBytes, []byte(contractName+":"+fn))
	for _, a := range args {
		argBytes = append(argBytes, []byte(a))
	}

	before := l.snapshot()
	l.stub.Creator = w.creator
	resp := l.stub.MockInvoke(txID, argBytes)
	events := l.drainEvents(txID)

	if resp.Status != shim.OK {
		l.restore(before)
		return nil, txID, errors.New(resp.Message)
	}
	if !commit {
		l.restore(before)
		return resp.Payload, txID, nil
	}
	l.block++
	l.submits[fn]++
	l.events = append(l.events, events...)
	return resp.Payload, txID, nil
}

// Init runs InitLedger as owner with the given bootstrap validators.
func (l *Ledger) Init(owner *Wallet, validators ...string) error {
	if validators == nil {
		validators = []string{}
	}
	payload, err := json.Marshal(validators)
	if err != nil {
		return err
	}
	_, _, err = l.invoke(owner, ManagerContract, "InitLedger", []string{string(payload)}, true)
	return err
}

// Contract binds a wallet to one of the chaincode's contracts.
func (l *Ledger) Contract(w *Wallet, contractName string) gateway.Transactor {
	return &handle{ledger: l, wallet: w, contract: contractName}
}

// Session binds a wallet to both contracts.
func (l *Ledger) Session(w *Wallet) *gateway.Session {
	return &gateway.Session{
		Account: w.Account,
		Manager: l.Contract(w, ManagerContract),
		Token:   l.Contract(w, TokenContract),
	}
}

// Events returns every event of committed transactions, oldest first.
func (l *Ledger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

// Submits counts committed invocations of fn.
func (l *Ledger) Submits(fn string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.submits[fn]
}

// Height is the number of committed transactions.
func (l *Ledger) Height() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.block
}

// Fail makes every call of fn fail with err until Heal is called.
func (l *Ledger) Fail(fn string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults[fn] = err
}

// Heal removes every injected failure.
func (l *Ledger) Heal() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults = make(map[string]error)
}

type handle struct {
	ledger   *Ledger
	wallet   *Wallet
	contract string
}

func (h *handle) Evaluate(ctx context.Context, fn string, args ...string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	payload, _, err := h.ledger.invoke(h.wallet, h.contract, fn, args, false)
	return payload, err
}

func (h *handle) Submit(ctx context.Context, fn string, args ...string) (gateway.PendingTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	payload, txID, err := h.ledger.invoke(h.wallet, h.contract, fn, args, true)
	if err != nil {
		return nil, err
	}
	return &pending{receipt: gateway.Receipt{
		TransactionID:  txID,
		BlockNumber:    h.ledger.Height(),
		ValidationCode: "VALID",
		Result:         payload,
	}}, nil
}

type pending struct {
	receipt gateway.Receipt
}

func (p *pending) TransactionID() string { return p.receipt.TransactionID }

func (p *pending) Confirm(ctx context.Context) (*gateway.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := p.receipt
	return &r, nil
}
