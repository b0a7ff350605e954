package voice

import (
	"fmt"

	"github.com/vocalis-ai/vocalis/pkg/voice/protocol"
)

// TranscriptMessage is one utterance segment in the conversation log.
type TranscriptMessage struct {
	ID    string        `json:"id"`
	Role  protocol.Role `json:"role"`
	Text  string        `json:"text"`
	Final bool          `json:"final"`
}

// MessageID derives the transcript key for one utterance segment. Remote item
// ids are not unique across reconnects, so the key is scoped by the
// connection epoch to keep a post-reconnect delta from appending to a dead
// message.
func MessageID(epoch int, role protocol.Role, itemID string, contentIndex int) string {
	return fmt.Sprintf("%d:%s:%s:%d", epoch, role, itemID, contentIndex)
}

// Transcript folds streaming delta and completion events into an ordered,
// de-duplicated message log. It is owned by the session dispatch loop and is
// not safe for concurrent use; accessor methods return copies.
type Transcript struct {
	messages []TranscriptMessage
	index    map[string]int
}

func NewTranscript() *Transcript {
	return &Transcript{index: make(map[string]int)}
}

// Append concatenates a delta onto the message with the given id, creating
// the message when absent. A late delta for an already finalized message is
// ignored; finalized text is never mutated by deltas.
func (t *Transcript) Append(id string, role protocol.Role, delta string) {
	i, ok := t.index[id]
	if !ok {
		t.index[id] = len(t.messages)
		t.messages = append(t.messages, TranscriptMessage{ID: id, Role: role, Text: delta})
		return
	}
	if t.messages[i].Final {
		return
	}
	t.messages[i].Text += delta
}

// Finalize replaces the message text wholesale and freezes it, creating the
// message when absent. No other entry is touched.
func (t *Transcript) Finalize(id string, role protocol.Role, text string) {
	i, ok := t.index[id]
	if !ok {
		t.index[id] = len(t.messages)
		t.messages = append(t.messages, TranscriptMessage{ID: id, Role: role, Text: text, Final: true})
		return
	}
	t.messages[i].Text = text
	t.messages[i].Final = true
}

// Len returns the number of messages in the log.
func (t *Transcript) Len() int {
	if t == nil {
		return 0
	}
	return len(t.messages)
}

// Messages returns the log in insertion order.
func (t *Transcript) Messages() []TranscriptMessage {
	if t == nil {
		return nil
	}
	return append([]TranscriptMessage(nil), t.messages...)
}

// UserMessages returns the user-role view, preserving relative order.
func (t *Transcript) UserMessages() []TranscriptMessage {
	return t.filtered(func(m TranscriptMessage) bool { return m.Role == protocol.RoleUser })
}

// AssistantMessages returns the assistant-role view, preserving relative order.
func (t *Transcript) AssistantMessages() []TranscriptMessage {
	return t.filtered(func(m TranscriptMessage) bool { return m.Role == protocol.RoleAssistant })
}

// Finalized returns the finalized subset, used for persistence flushes.
func (t *Transcript) Finalized() []TranscriptMessage {
	return t.filtered(func(m TranscriptMessage) bool { return m.Final })
}

func (t *Transcript) filtered(keep func(TranscriptMessage) bool) []TranscriptMessage {
	if t == nil {
		return nil
	}
	out := make([]TranscriptMessage, 0, len(t.messages))
	for _, m := range t.messages {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}
