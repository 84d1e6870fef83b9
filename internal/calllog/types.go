package calllog

import (
	"context"

	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/calls"
)

// Store receives finalized call sessions for later handoff. Saving is
// best-effort from the relay's point of view; a failed save never fails the
// call teardown.
type Store interface {
	Save(ctx context.Context, session *calls.CallSession) error
	Close() error
}
