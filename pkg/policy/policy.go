// Package policy evaluates counterparty acceptance rules written in CEL.
// A responder runs its rule after the transition has passed validation, so
// rules express business preferences ("only accept RICK"), not legality.
//
// A rule sees two variables:
//
//	tx   map with intent, inputs, outputs (lists of records as maps with
//	     issuer, owner, amount, currency) and signers (list of names)
//	self the evaluating party's name
package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/Mindburn-Labs/tokenledger/pkg/contracts"
)

// AcceptAll is the rule used when a party configures none.
const AcceptAll = "true"

// Engine compiles and caches CEL programs.
type Engine struct {
	env      *cel.Env
	mu       sync.RWMutex
	prgCache map[string]cel.Program
}

// NewEngine creates an engine with the tx/self environment.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("tx", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("self", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Engine{env: env, prgCache: make(map[string]cel.Program)}, nil
}

// Compile checks that expr is a valid boolean rule without evaluating it.
func (e *Engine) Compile(expr string) error {
	_, err := e.program(expr)
	return err
}

// Accept evaluates expr for tx as seen by self.
func (e *Engine) Accept(expr string, tx contracts.Transition, self contracts.Party) (bool, error) {
	if expr == "" {
		expr = AcceptAll
	}
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(map[string]any{
		"tx":   Activation(tx),
		"self": self.Name,
	})
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result not bool")
	}
	return val, nil
}

func (e *Engine) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.prgCache[expr]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.prgCache[expr]; hit {
		return prg, nil
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("compile: rule must be boolean, got %s", ast.OutputType())
	}
	p, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	e.prgCache[expr] = p
	return p, nil
}

// Activation converts tx into the value bound to the tx variable.
func Activation(tx contracts.Transition) map[string]any {
	inputs := make([]any, len(tx.Inputs))
	for i, in := range tx.Inputs {
		inputs[i] = recordMap(in.Record)
	}
	outputs := make([]any, len(tx.Outputs))
	for i, out := range tx.Outputs {
		outputs[i] = recordMap(out)
	}
	signers := make([]any, len(tx.RequiredSigners))
	for i, s := range tx.RequiredSigners {
		signers[i] = s.Name
	}
	return map[string]any{
		"id":      tx.ID,
		"intent":  string(tx.Intent),
		"inputs":  inputs,
		"outputs": outputs,
		"signers": signers,
	}
}

func recordMap(r contracts.Record) map[string]any {
	return map[string]any{
		"issuer":   r.Issuer.Name,
		"owner":    r.Owner.Name,
		"amount":   r.Amount,
		"currency": string(r.Currency),
	}
}
