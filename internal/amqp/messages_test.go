package amqp

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestTaskMessageRoundtrip(t *testing.T) {
	id := uuid.New()
	msg := NewTaskMessage(id)

	body, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}

	decoded, err := TaskMessageFromJSON(body)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if decoded.TaskID != id {
		t.Errorf("task id = %s, want %s", decoded.TaskID, id)
	}
	if decoded.Timestamp.IsZero() {
		t.Error("timestamp lost in roundtrip")
	}
}

func TestTaskMessageFromJSONRejectsGarbage(t *testing.T) {
	if _, err := TaskMessageFromJSON([]byte("not json")); err == nil {
		t.Error("expected error for malformed payload")
	}
}

func TestTaskMessageFromJSONRejectsEmptyID(t *testing.T) {
	if _, err := TaskMessageFromJSON([]byte(`{"timestamp":"2025-06-15T10:00:00Z"}`)); !errors.Is(err, ErrEmptyTaskID) {
		t.Errorf("error = %v, want ErrEmptyTaskID", err)
	}
}
