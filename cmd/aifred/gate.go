package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/a-marczewski/aifred/internal/orchestrator"
)

// terminalGate asks on the terminal before local tools run. Outside
// interactive commands it applies the configured auto-approve policy.
type terminalGate struct {
	mu          sync.Mutex
	in          *bufio.Reader
	out         io.Writer
	interactive bool
	autoApprove bool
}

func newTerminalGate(in *bufio.Reader, out io.Writer) *terminalGate {
	return &terminalGate{in: in, out: out}
}

func (g *terminalGate) setInteractive(on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.interactive = on
}

func (g *terminalGate) Confirm(ctx context.Context, req orchestrator.ConfirmRequest) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.interactive {
		return g.autoApprove
	}
	if ctx.Err() != nil {
		return false
	}

	fmt.Fprintf(g.out, "\nAllow local tool %s with %s? [y/N] ", req.Tool, compactArgs(req.Arguments))
	line, err := g.in.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func compactArgs(args string) string {
	args = strings.TrimSpace(args)
	if args == "" {
		return "{}"
	}
	if len(args) > 160 {
		return args[:160] + "..."
	}
	return args
}
