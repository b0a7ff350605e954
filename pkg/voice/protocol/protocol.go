// Package protocol defines the JSON events exchanged on the realtime data
// channel. Inbound events are a noisy third-party stream: anything that does
// not decode into a recognized, well-typed event is discarded by the caller.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Inbound event types consumed by the session core. Everything else on the
// channel (audio buffer acks, VAD events, ...) is ignored.
const (
	TypeUserTranscriptDelta     = "conversation.item.input_audio_transcription.delta"
	TypeUserTranscriptCompleted = "conversation.item.input_audio_transcription.completed"
	TypeAssistantDelta          = "response.output_audio_transcript.delta"
	TypeAssistantDone           = "response.output_audio_transcript.done"
	TypeFunctionCallDone        = "response.function_call_arguments.done"
)

// Outbound event types produced by the session core.
const (
	TypeItemCreate     = "conversation.item.create"
	TypeResponseCreate = "response.create"
)

// Role identifies the speaker of a transcript segment.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Event is a decoded inbound data-channel event.
type Event interface {
	eventType() string
}

// TranscriptDelta is a streaming transcript fragment for one utterance segment.
type TranscriptDelta struct {
	Role         Role
	ItemID       string
	ContentIndex int
	Delta        string
}

func (e TranscriptDelta) eventType() string { return "transcript_delta" }

// TranscriptCompleted is the terminal transcript for one utterance segment.
// Its text replaces any previously accumulated deltas.
type TranscriptCompleted struct {
	Role         Role
	ItemID       string
	ContentIndex int
	Transcript   string
}

func (e TranscriptCompleted) eventType() string { return "transcript_completed" }

// FunctionCall is a completed tool-call request from the remote model.
type FunctionCall struct {
	CallID    string
	Name      string
	Arguments string
}

func (e FunctionCall) eventType() string { return "function_call" }

// Decode parses one inbound data-channel payload. Any payload that is not a
// JSON object with a recognized type and correctly typed identifying fields
// returns an error; callers drop such events silently.
func Decode(data []byte) (Event, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}

	typ, ok := stringField(raw, "type")
	if !ok {
		return nil, fmt.Errorf("event missing type")
	}

	switch typ {
	case TypeUserTranscriptDelta:
		return decodeDelta(raw, RoleUser)
	case TypeAssistantDelta:
		return decodeDelta(raw, RoleAssistant)
	case TypeUserTranscriptCompleted:
		return decodeCompleted(raw, RoleUser)
	case TypeAssistantDone:
		return decodeCompleted(raw, RoleAssistant)
	case TypeFunctionCallDone:
		return decodeFunctionCall(raw)
	default:
		return nil, fmt.Errorf("unhandled event type %q", typ)
	}
}

func decodeDelta(raw map[string]json.RawMessage, role Role) (Event, error) {
	itemID, ok := stringField(raw, "item_id")
	if !ok {
		return nil, fmt.Errorf("%s delta missing item_id", role)
	}
	index, ok := intField(raw, "content_index")
	if !ok {
		return nil, fmt.Errorf("%s delta missing content_index", role)
	}
	delta, ok := rawStringField(raw, "delta")
	if !ok {
		return nil, fmt.Errorf("%s delta missing delta", role)
	}
	return TranscriptDelta{Role: role, ItemID: itemID, ContentIndex: index, Delta: delta}, nil
}

func decodeCompleted(raw map[string]json.RawMessage, role Role) (Event, error) {
	itemID, ok := stringField(raw, "item_id")
	if !ok {
		return nil, fmt.Errorf("%s completion missing item_id", role)
	}
	index, ok := intField(raw, "content_index")
	if !ok {
		return nil, fmt.Errorf("%s completion missing content_index", role)
	}
	transcript, ok := rawStringField(raw, "transcript")
	if !ok {
		return nil, fmt.Errorf("%s completion missing transcript", role)
	}
	return TranscriptCompleted{Role: role, ItemID: itemID, ContentIndex: index, Transcript: transcript}, nil
}

func decodeFunctionCall(raw map[string]json.RawMessage) (Event, error) {
	callID, ok := stringField(raw, "call_id")
	if !ok {
		return nil, fmt.Errorf("function call missing call_id")
	}
	name, ok := stringField(raw, "name")
	if !ok {
		return nil, fmt.Errorf("function call missing name")
	}
	// Arguments may be absent or malformed; the bridge treats both as {}.
	arguments, _ := rawStringField(raw, "arguments")
	return FunctionCall{CallID: callID, Name: name, Arguments: arguments}, nil
}

func stringField(raw map[string]json.RawMessage, key string) (string, bool) {
	s, ok := rawStringField(raw, key)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

func rawStringField(raw map[string]json.RawMessage, key string) (string, bool) {
	v, ok := raw[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", false
	}
	return s, true
}

func intField(raw map[string]json.RawMessage, key string) (int, bool) {
	v, ok := raw[key]
	if !ok {
		return 0, false
	}
	var n int
	if err := json.Unmarshal(v, &n); err != nil {
		return 0, false
	}
	return n, true
}

// FunctionCallOutput is the outbound tool result, keyed by the originating
// call id, wrapped in a conversation.item.create envelope.
type FunctionCallOutput struct {
	Type string                 `json:"type"`
	Item FunctionCallOutputItem `json:"item"`
}

type FunctionCallOutputItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

// NewFunctionCallOutput builds the outbound tool-result event.
func NewFunctionCallOutput(callID, output string) FunctionCallOutput {
	return FunctionCallOutput{
		Type: TypeItemCreate,
		Item: FunctionCallOutputItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: output,
		},
	}
}

// ResponseCreate asks the remote model to continue generating after a tool
// result has been submitted.
type ResponseCreate struct {
	Type string `json:"type"`
}

// NewResponseCreate builds the response-continuation request.
func NewResponseCreate() ResponseCreate {
	return ResponseCreate{Type: TypeResponseCreate}
}
