package compiler

import "context"

// Passthrough returns a compiler whose output equals its input body.
func Passthrough(kind Kind) Compiler {
	return passthrough{kind: kind}
}

type passthrough struct {
	kind Kind
}

func (p passthrough) Kind() Kind { return p.kind }

func (p passthrough) Compile(_ context.Context, req Request) (Output, error) {
	return Output{Kind: p.kind, Text: req.Body}, nil
}
