package voice

import (
	"log/slog"

	"github.com/vocalis-ai/vocalis/pkg/voice/protocol"
)

// Router fans inbound data-channel payloads into the transcript and the tool
// bridge. Unrecognized or malformed payloads are dropped without side
// effects; the drop counter exists only for diagnostics.
type Router struct {
	Transcript *Transcript
	Logger     *slog.Logger

	// OnToolCall receives completed function-call requests. Nil disables
	// tool dispatch.
	OnToolCall func(call protocol.FunctionCall)

	dropped int
}

// Route decodes and applies one inbound payload. The epoch scopes transcript
// message ids so segments from a previous connection cannot be resumed by a
// reused remote item id. Returns false when the payload was dropped.
func (r *Router) Route(epoch int, data []byte) bool {
	ev, err := protocol.Decode(data)
	if err != nil {
		r.dropped++
		if r.Logger != nil {
			r.Logger.Debug("dropped data channel event", "error", err)
		}
		return false
	}

	switch ev := ev.(type) {
	case protocol.TranscriptDelta:
		r.Transcript.Append(MessageID(epoch, ev.Role, ev.ItemID, ev.ContentIndex), ev.Role, ev.Delta)
	case protocol.TranscriptCompleted:
		r.Transcript.Finalize(MessageID(epoch, ev.Role, ev.ItemID, ev.ContentIndex), ev.Role, ev.Transcript)
	case protocol.FunctionCall:
		if r.OnToolCall != nil {
			r.OnToolCall(ev)
		}
	}
	return true
}

// Dropped returns the number of payloads discarded so far.
func (r *Router) Dropped() int {
	if r == nil {
		return 0
	}
	return r.dropped
}
