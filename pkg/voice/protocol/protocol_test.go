package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecodeUserDelta(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"conversation.item.input_audio_transcription.delta","item_id":"it1","content_index":0,"delta":"hi"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	d, ok := ev.(TranscriptDelta)
	if !ok {
		t.Fatalf("event=%T, want TranscriptDelta", ev)
	}
	if d.Role != RoleUser || d.ItemID != "it1" || d.ContentIndex != 0 || d.Delta != "hi" {
		t.Fatalf("delta=%+v", d)
	}
}

func TestDecodeAssistantCompletion(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"response.output_audio_transcript.done","item_id":"a1","content_index":2,"transcript":"done."}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	c, ok := ev.(TranscriptCompleted)
	if !ok {
		t.Fatalf("event=%T, want TranscriptCompleted", ev)
	}
	if c.Role != RoleAssistant || c.ContentIndex != 2 || c.Transcript != "done." {
		t.Fatalf("completion=%+v", c)
	}
}

func TestDecodeEmptyDeltaAllowed(t *testing.T) {
	// An empty delta string is a valid, if useless, fragment.
	ev, err := Decode([]byte(`{"type":"response.output_audio_transcript.delta","item_id":"a1","content_index":0,"delta":""}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if d := ev.(TranscriptDelta); d.Delta != "" {
		t.Fatalf("delta=%q, want empty", d.Delta)
	}
}

func TestDecodeFunctionCall(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"response.function_call_arguments.done","call_id":"c1","name":"check_availability","arguments":"{\"day\":\"monday\"}"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	fc, ok := ev.(FunctionCall)
	if !ok {
		t.Fatalf("event=%T, want FunctionCall", ev)
	}
	if fc.CallID != "c1" || fc.Name != "check_availability" {
		t.Fatalf("call=%+v", fc)
	}
	if fc.Arguments != `{"day":"monday"}` {
		t.Fatalf("arguments=%q", fc.Arguments)
	}
}

func TestDecodeFunctionCallToleratesMissingArguments(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"response.function_call_arguments.done","call_id":"c1","name":"lookup_caller"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if fc := ev.(FunctionCall); fc.Arguments != "" {
		t.Fatalf("arguments=%q, want empty", fc.Arguments)
	}
}

func TestDecodeRejects(t *testing.T) {
	cases := []string{
		`not json`,
		`[1,2,3]`,
		`{"item_id":"it1"}`,
		`{"type":"input_audio_buffer.speech_started"}`,
		`{"type":"conversation.item.input_audio_transcription.delta","content_index":0,"delta":"x"}`,
		`{"type":"conversation.item.input_audio_transcription.delta","item_id":"it1","content_index":"zero","delta":"x"}`,
		`{"type":"response.output_audio_transcript.done","item_id":"a1","content_index":0}`,
		`{"type":"response.function_call_arguments.done","call_id":"c1"}`,
	}
	for _, c := range cases {
		if _, err := Decode([]byte(c)); err == nil {
			t.Errorf("Decode accepted %s", c)
		}
	}
}

func TestFunctionCallOutputShape(t *testing.T) {
	out := NewFunctionCallOutput("c1", "all good")
	data, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if raw["type"] != TypeItemCreate {
		t.Fatalf("type=%v, want %s", raw["type"], TypeItemCreate)
	}
	item := raw["item"].(map[string]any)
	if item["type"] != "function_call_output" || item["call_id"] != "c1" || item["output"] != "all good" {
		t.Fatalf("item=%v", item)
	}
}
