// Package batch executes an ordered sequence of market operations as one
// unit: every element observes the same caller and the same storage
// context, and the atomic variants rely on the state journal to discard all
// effects when any element fails. Elements are tagged commands dispatched
// through a handler registry rather than re-entrant calls, so the caller
// identity can never change mid-batch.
package batch

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownMethod  = errors.New("batch: unknown method")
	ErrLengthMismatch = errors.New("batch: calls and gas limits length mismatch")
	ErrOutOfGas       = errors.New("batch: gas allowance exceeded")
)

// Gas cost model for the gas-capped variant: a flat dispatch cost plus a
// per-byte charge on the encoded parameters.
const (
	BaseCallGas   uint64 = 5_000
	ParamsByteGas uint64 = 16
)

// Call is one tagged element of a batch.
type Call struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// HandlerFunc executes one batchable operation for the given caller and
// returns its encoded result.
type HandlerFunc func(caller [20]byte, params json.RawMessage) ([]byte, error)

// Snapshotter is the rollback primitive the atomic variants lean on.
type Snapshotter interface {
	Snapshot() int
	RevertToSnapshot(int)
}

// CallError reports which batch element failed while leaving the inner
// error reachable unmodified through Unwrap.
type CallError struct {
	Index  int
	Method string
	Err    error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("batch call %d (%s): %v", e.Index, e.Method, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// Processor dispatches batch elements against a registered handler set.
type Processor struct {
	state    Snapshotter
	handlers map[string]HandlerFunc
}

// NewProcessor creates a processor over the given rollback primitive.
func NewProcessor(state Snapshotter) *Processor {
	return &Processor{
		state:    state,
		handlers: make(map[string]HandlerFunc),
	}
}

// Register binds a method tag to its handler. Later registrations replace
// earlier ones.
func (p *Processor) Register(method string, fn HandlerFunc) {
	if fn == nil {
		return
	}
	p.handlers[method] = fn
}

func (p *Processor) dispatch(caller [20]byte, call Call) ([]byte, error) {
	handler, ok := p.handlers[call.Method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, call.Method)
	}
	return handler(caller, call.Params)
}

// Run executes every call in array order as the given caller. The first
// failure reverts the effects of all earlier elements and is returned as a
// *CallError wrapping the inner error verbatim.
func (p *Processor) Run(caller [20]byte, calls []Call) ([][]byte, error) {
	snap := p.state.Snapshot()
	results := make([][]byte, 0, len(calls))
	for i, call := range calls {
		out, err := p.dispatch(caller, call)
		if err != nil {
			p.state.RevertToSnapshot(snap)
			return nil, &CallError{Index: i, Method: call.Method, Err: err}
		}
		results = append(results, out)
	}
	return results, nil
}

// TryRun executes every call, capturing failures per element instead of
// propagating them. Each element is still individually atomic; only
// cross-element rollback is relaxed. Failed elements report false and carry
// the error text as their result.
func (p *Processor) TryRun(caller [20]byte, calls []Call) ([]bool, [][]byte) {
	ok := make([]bool, len(calls))
	results := make([][]byte, len(calls))
	for i, call := range calls {
		snap := p.state.Snapshot()
		out, err := p.dispatch(caller, call)
		if err != nil {
			p.state.RevertToSnapshot(snap)
			results[i] = []byte(err.Error())
			continue
		}
		ok[i] = true
		results[i] = out
	}
	return ok, results
}

// RunWithGasLimit behaves like Run with each element capped at an explicit
// gas allowance. A length mismatch between calls and limits rejects the
// batch before any side effect.
func (p *Processor) RunWithGasLimit(caller [20]byte, calls []Call, gasLimits []uint64) ([][]byte, error) {
	if len(calls) != len(gasLimits) {
		return nil, ErrLengthMismatch
	}
	snap := p.state.Snapshot()
	results := make([][]byte, 0, len(calls))
	for i, call := range calls {
		if cost := callGas(call); cost > gasLimits[i] {
			p.state.RevertToSnapshot(snap)
			return nil, &CallError{Index: i, Method: call.Method, Err: fmt.Errorf("%w: need %d, have %d", ErrOutOfGas, cost, gasLimits[i])}
		}
		out, err := p.dispatch(caller, call)
		if err != nil {
			p.state.RevertToSnapshot(snap)
			return nil, &CallError{Index: i, Method: call.Method, Err: err}
		}
		results = append(results, out)
	}
	return results, nil
}

func callGas(call Call) uint64 {
	return BaseCallGas + ParamsByteGas*uint64(len(call.Params))
}
