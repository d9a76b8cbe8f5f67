package investigate

import "context"

// NullTransport is a Transport that reports both capabilities as
// unsupported. It lets the CLI construct an Orchestrator even when no
// chat-completion backend is configured: Run then degrades to the
// low-confidence result immediately instead of the caller having to special
// case "no transport" everywhere Orchestrator is used.
type NullTransport struct{}

func (NullTransport) Sample(ctx context.Context, req Request) (*Response, error) {
	return nil, context.Canceled
}

func (NullTransport) IsSamplingSupported() bool { return false }
func (NullTransport) IsToolUseSupported() bool  { return false }
