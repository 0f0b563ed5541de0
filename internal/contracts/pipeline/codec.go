package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"

	"imgshrink/internal/domain/batch"
	"imgshrink/internal/domain/image"
)

var api = sonic.ConfigStd

type envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode serialises m as {"type":..., "data":...}.
func Encode(m Message) ([]byte, error) {
	return api.Marshal(m)
}

// Decode parses a wire message and materialises Data into the typed value
// for its type. Unknown types decode successfully with Data left as the raw
// JSON so the receiver can answer with an ERROR message.
func Decode(raw []byte) (Message, error) {
	var env envelope
	if err := api.Unmarshal(raw, &env); err != nil {
		return Message{}, fmt.Errorf("invalid message payload: %w", err)
	}
	if env.Type == "" {
		return Message{}, fmt.Errorf("invalid message payload: missing type")
	}

	msg := Message{Type: env.Type}
	var err error
	switch env.Type {
	case TypeProcessImage:
		var task image.ProcessingTask
		err = decodeData(env.Data, &task)
		msg.Data = task
	case TypeProcessBatch:
		var tasks []image.ProcessingTask
		err = decodeData(env.Data, &tasks)
		msg.Data = tasks
	case TypeImageProcessed:
		var result image.ProcessingResult
		err = decodeData(env.Data, &result)
		msg.Data = result
	case TypeBatchProgress:
		var progress batch.Progress
		err = decodeData(env.Data, &progress)
		msg.Data = progress
	case TypeBatchCompleted:
		var results []image.ProcessingResult
		err = decodeData(env.Data, &results)
		msg.Data = results
	case TypeError:
		var data ErrorData
		err = decodeData(env.Data, &data)
		msg.Data = data
	default:
		if len(env.Data) > 0 {
			msg.Data = env.Data
		}
	}
	if err != nil {
		return Message{Type: env.Type}, fmt.Errorf("invalid message payload: %s: %w", env.Type, err)
	}
	return msg, nil
}

func decodeData(raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return fmt.Errorf("missing data")
	}
	return api.Unmarshal(raw, out)
}
