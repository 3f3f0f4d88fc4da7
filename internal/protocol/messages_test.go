package protocol

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid join event
// ---------------------------------------------------------------------------

func TestParseClientMessage_Join(t *testing.T) {
	input := []byte(`{"type":"join","data":{"username":"alice","avatar":"https://example.com/a.png"}}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeJoin {
		t.Fatalf("expected type %q, got %q", TypeJoin, msgType)
	}

	jm, ok := msg.(JoinMsg)
	if !ok {
		t.Fatalf("expected JoinMsg, got %T", msg)
	}
	if jm.Username != "alice" {
		t.Errorf("expected username %q, got %q", "alice", jm.Username)
	}
	if jm.Avatar != "https://example.com/a.png" {
		t.Errorf("unexpected avatar %q", jm.Avatar)
	}
}

// ---------------------------------------------------------------------------
// Test: join without a username fails validation
// ---------------------------------------------------------------------------

func TestParseClientMessage_JoinMissingUsername(t *testing.T) {
	msgType, _, err := ParseClientMessage([]byte(`{"type":"join","data":{}}`))
	if err == nil {
		t.Fatal("expected validation error for empty username")
	}
	if msgType != TypeJoin {
		t.Errorf("expected type %q to be reported with the error, got %q", TypeJoin, msgType)
	}
}

// ---------------------------------------------------------------------------
// Test: send_message with attachment fields
// ---------------------------------------------------------------------------

func TestParseClientMessage_SendMessageFile(t *testing.T) {
	input := []byte(`{"type":"send_message","data":{"type":"file","content":"report","fileName":"r.pdf","fileType":"application/pdf","fileData":"data:application/pdf;base64,JVBERi0="}}`)

	_, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sm, ok := msg.(SendMessageMsg)
	if !ok {
		t.Fatalf("expected SendMessageMsg, got %T", msg)
	}
	if sm.Type != "file" || sm.FileName != "r.pdf" || sm.FileType != "application/pdf" {
		t.Errorf("unexpected payload: %+v", sm)
	}
}

func TestParseClientMessage_SendMessageBadKind(t *testing.T) {
	_, _, err := ParseClientMessage([]byte(`{"type":"send_message","data":{"type":"system","content":"x"}}`))
	if err == nil {
		t.Fatal("expected error for a client-sent system message")
	}
}

// ---------------------------------------------------------------------------
// Test: signal payload stays byte-for-byte opaque
// ---------------------------------------------------------------------------

func TestParseClientMessage_SignalOpaque(t *testing.T) {
	input := []byte(`{"type":"signal","data":{"to":"all","data":{"sdp":"v=0\r\n","type":"offer","extra":[1,2,3]}}}`)

	_, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sm := msg.(SignalMsg)
	if sm.To != SignalBroadcast {
		t.Errorf("expected to=%q, got %q", SignalBroadcast, sm.To)
	}
	want := `{"sdp":"v=0\r\n","type":"offer","extra":[1,2,3]}`
	if string(sm.Data) != want {
		t.Errorf("signal data was altered:\n got  %s\n want %s", sm.Data, want)
	}
}

// ---------------------------------------------------------------------------
// Test: payload-less events
// ---------------------------------------------------------------------------

func TestParseClientMessage_NoPayload(t *testing.T) {
	for _, typ := range []string{TypeTypingStart, TypeTypingStop, TypePing} {
		msgType, _, err := ParseClientMessage([]byte(`{"type":"` + typ + `"}`))
		if err != nil {
			t.Errorf("%s: unexpected error: %v", typ, err)
		}
		if msgType != typ {
			t.Errorf("expected %q, got %q", typ, msgType)
		}
	}
}

// ---------------------------------------------------------------------------
// Test: camelCase field names on the wire
// ---------------------------------------------------------------------------

func TestParseClientMessage_CamelCaseFields(t *testing.T) {
	_, msg, err := ParseClientMessage([]byte(`{"type":"react_message","data":{"messageId":"3","emoji":"👍"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rm := msg.(ReactMessageMsg)
	if rm.MessageID != "3" || rm.Emoji != "👍" {
		t.Errorf("unexpected payload: %+v", rm)
	}

	_, msg, err = ParseClientMessage([]byte(`{"type":"get_private_history","data":{"withId":"abc"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.(PrivateHistoryRequest).WithID != "abc" {
		t.Errorf("withId not decoded: %+v", msg)
	}
}

// ---------------------------------------------------------------------------
// Test: malformed and unknown input
// ---------------------------------------------------------------------------

func TestParseClientMessage_Errors(t *testing.T) {
	cases := map[string]string{
		"invalid json":  `{not json`,
		"missing type":  `{"data":{}}`,
		"unknown type":  `{"type":"launch_rockets"}`,
		"server only":   `{"type":"presence_list","data":[]}`,
		"bad data type": `{"type":"private_message","data":"hello"}`,
	}
	for name, input := range cases {
		if _, _, err := ParseClientMessage([]byte(input)); err == nil {
			t.Errorf("%s: expected error, got nil", name)
		}
	}
}

// ---------------------------------------------------------------------------
// Test: server envelope encoding
// ---------------------------------------------------------------------------

func TestNewServerMessage_Envelope(t *testing.T) {
	data, err := NewServerMessage(TypeConnected, ConnectedMsg{ID: "conn-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out struct {
		Type string `json:"type"`
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if out.Type != TypeConnected {
		t.Errorf("expected type %q, got %q", TypeConnected, out.Type)
	}
	if out.Data.ID != "conn-1" {
		t.Errorf("expected id %q, got %q", "conn-1", out.Data.ID)
	}
}

func TestNewServerMessage_NilPayload(t *testing.T) {
	data, err := NewServerMessage(TypePong, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `{"type":"pong"}` {
		t.Errorf("unexpected pong frame: %s", data)
	}
}

func TestNewServerMessage_EmptyHistoryIsArray(t *testing.T) {
	data, err := NewServerMessage(TypePrivateHistory, PrivateHistoryMsg{WithID: "b", History: []string{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"type":"private_history","data":{"withId":"b","history":[]}}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}
}
