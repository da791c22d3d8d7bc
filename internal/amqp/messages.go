package amqp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskMessage is the wire payload dispatched for one enqueued report task.
// It carries only the task id; workers load the full envelope from the task
// store, so a redelivered message can never resurrect stale request data.
type TaskMessage struct {
	TaskID    uuid.UUID `json:"task_id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewTaskMessage(taskID uuid.UUID) *TaskMessage {
	return &TaskMessage{
		TaskID:    taskID,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *TaskMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// TaskMessageFromJSON creates a message from JSON bytes
func TaskMessageFromJSON(data []byte) (*TaskMessage, error) {
	var msg TaskMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.TaskID == uuid.Nil {
		return nil, ErrEmptyTaskID
	}
	return &msg, nil
}
