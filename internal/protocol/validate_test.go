package protocol

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewMessage(t *testing.T) {
	payload := SessionStateChangedPayload{
		SessionID: "test-id",
		State:     "working",
	}

	msg, err := NewMessage(TypeSessionStateChanged, payload)
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}

	if msg.Type != TypeSessionStateChanged {
		t.Errorf("expected type %s, got %s", TypeSessionStateChanged, msg.Type)
	}

	if msg.Timestamp.IsZero() {
		t.Error("expected non-zero timestamp")
	}

	var p SessionStateChangedPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.SessionID != "test-id" {
		t.Errorf("expected sessionId 'test-id', got %s", p.SessionID)
	}
	if p.State != "working" {
		t.Errorf("expected state 'working', got %s", p.State)
	}
}

func TestValidateClientMessage_ValidCreateSession(t *testing.T) {
	msg := map[string]interface{}{
		"type":      TypeCreateSession,
		"payload":   map[string]interface{}{"path": "/tmp/test", "launchKind": "plain-shell"},
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, _ := json.Marshal(msg)

	result, err := ValidateClientMessage(data)
	if err != nil {
		t.Fatalf("expected valid message, got error: %v", err)
	}
	if result.Type != TypeCreateSession {
		t.Errorf("expected type %s, got %s", TypeCreateSession, result.Type)
	}
}

func TestValidateClientMessage_CreateSessionUnknownLaunchKind(t *testing.T) {
	msg := map[string]interface{}{
		"type":      TypeCreateSession,
		"payload":   map[string]interface{}{"path": "/tmp/test", "launchKind": "mainframe"},
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, _ := json.Marshal(msg)

	_, err := ValidateClientMessage(data)
	if err == nil {
		t.Fatal("expected error for unknown launchKind")
	}
}

func TestValidateClientMessage_ValidWriteInput(t *testing.T) {
	msg := map[string]interface{}{
		"type":      TypeWriteInput,
		"payload":   map[string]interface{}{"sessionId": "abc-123", "data": "hello\n"},
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, _ := json.Marshal(msg)

	_, err := ValidateClientMessage(data)
	if err != nil {
		t.Fatalf("expected valid message, got error: %v", err)
	}
}

func TestValidateClientMessage_WriteInputMissingData(t *testing.T) {
	msg := map[string]interface{}{
		"type":      TypeWriteInput,
		"payload":   map[string]interface{}{"sessionId": "abc-123"},
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, _ := json.Marshal(msg)

	_, err := ValidateClientMessage(data)
	if err == nil {
		t.Fatal("expected error for missing data")
	}
}

func TestValidateClientMessage_ResizeRejectsNonPositive(t *testing.T) {
	msg := map[string]interface{}{
		"type":      TypeResize,
		"payload":   map[string]interface{}{"sessionId": "abc-123", "cols": 0, "rows": 40},
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, _ := json.Marshal(msg)

	_, err := ValidateClientMessage(data)
	if err == nil {
		t.Fatal("expected error for zero cols")
	}
}

func TestValidateClientMessage_InvalidJSON(t *testing.T) {
	_, err := ValidateClientMessage([]byte("not json"))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestValidateClientMessage_MissingType(t *testing.T) {
	msg := map[string]interface{}{
		"payload":   map[string]interface{}{},
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, _ := json.Marshal(msg)

	_, err := ValidateClientMessage(data)
	if err == nil {
		t.Fatal("expected error for missing type")
	}
}

func TestValidateClientMessage_UnknownType(t *testing.T) {
	msg := map[string]interface{}{
		"type":      "unknown.action",
		"payload":   map[string]interface{}{},
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, _ := json.Marshal(msg)

	_, err := ValidateClientMessage(data)
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestValidateClientMessage_MissingPayload(t *testing.T) {
	msg := map[string]interface{}{
		"type":      TypeKillSession,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, _ := json.Marshal(msg)

	_, err := ValidateClientMessage(data)
	if err == nil {
		t.Fatal("expected error for missing payload")
	}
}

func TestValidateClientMessage_SubscribeMissingSessionID(t *testing.T) {
	msg := map[string]interface{}{
		"type":      TypeSubscribe,
		"payload":   map[string]interface{}{},
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, _ := json.Marshal(msg)

	_, err := ValidateClientMessage(data)
	if err == nil {
		t.Fatal("expected error for missing sessionId")
	}
}
