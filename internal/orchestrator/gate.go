package orchestrator

import "context"

// ConfirmRequest describes the tool call awaiting approval.
type ConfirmRequest struct {
	Token     uint64
	Tool      string
	Arguments string
}

// Confirmer asks the user whether local tools may run for the current turn.
type Confirmer interface {
	Confirm(ctx context.Context, req ConfirmRequest) bool
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, req ConfirmRequest) bool

func (f ConfirmFunc) Confirm(ctx context.Context, req ConfirmRequest) bool {
	return f(ctx, req)
}

// AutoConfirm answers every request with approve.
func AutoConfirm(approve bool) Confirmer {
	return ConfirmFunc(func(context.Context, ConfirmRequest) bool { return approve })
}

// gateDecision is the remembered answer for one token.
type gateDecision struct {
	token    uint64
	approved bool
	asked    bool
}
