// Package pipeline defines the messages exchanged between the shell and a
// background processing context.
package pipeline

import (
	"fmt"

	"imgshrink/internal/domain/batch"
	"imgshrink/internal/domain/image"
)

// MessageType names a message on the channel.
type MessageType string

const (
	// inbound
	TypeProcessImage MessageType = "PROCESS_IMAGE"
	TypeProcessBatch MessageType = "PROCESS_BATCH"

	// outbound
	TypeImageProcessed MessageType = "IMAGE_PROCESSED"
	TypeBatchProgress  MessageType = "BATCH_PROGRESS"
	TypeBatchCompleted MessageType = "BATCH_COMPLETED"
	TypeError          MessageType = "ERROR"
)

// Message is the envelope {type, data}. In process, Data holds one of:
//
//	PROCESS_IMAGE    image.ProcessingTask
//	PROCESS_BATCH    []image.ProcessingTask
//	IMAGE_PROCESSED  image.ProcessingResult
//	BATCH_PROGRESS   batch.Progress
//	BATCH_COMPLETED  []image.ProcessingResult
//	ERROR            ErrorData
type Message struct {
	Type MessageType `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// ErrorData is the payload of an ERROR message.
type ErrorData struct {
	Error string `json:"error"`
}

func ProcessImage(task image.ProcessingTask) Message {
	return Message{Type: TypeProcessImage, Data: task}
}

func ProcessBatch(tasks []image.ProcessingTask) Message {
	return Message{Type: TypeProcessBatch, Data: tasks}
}

func ImageProcessed(result image.ProcessingResult) Message {
	return Message{Type: TypeImageProcessed, Data: result}
}

func BatchProgress(p batch.Progress) Message {
	return Message{Type: TypeBatchProgress, Data: p}
}

func BatchCompleted(results []image.ProcessingResult) Message {
	return Message{Type: TypeBatchCompleted, Data: results}
}

func Error(format string, args ...interface{}) Message {
	return Message{Type: TypeError, Data: ErrorData{Error: fmt.Sprintf(format, args...)}}
}

// UnknownType is the reply to an unrecognised inbound type.
func UnknownType(t MessageType) Message {
	return Error("unknown message type: %s", t)
}

// Rejected stands in for an inbound frame that could not be decoded. A
// processing context answers it with an ERROR in turn with its other replies.
type Rejected struct {
	Reason string
}

// Reject wraps a decode failure for posting to a processing context.
func Reject(err error) Message {
	return Message{Type: TypeError, Data: Rejected{Reason: err.Error()}}
}

// Clone returns a copy whose task byte slices are owned by the copy, so
// sender and receiver never share payload memory.
func (m Message) Clone() Message {
	switch data := m.Data.(type) {
	case image.ProcessingTask:
		m.Data = data.Clone()
	case []image.ProcessingTask:
		tasks := make([]image.ProcessingTask, len(data))
		for i, t := range data {
			tasks[i] = t.Clone()
		}
		m.Data = tasks
	case image.ProcessingResult:
		m.Data = cloneResult(data)
	case batch.Progress:
		data.Result = cloneResult(data.Result)
		m.Data = data
	case []image.ProcessingResult:
		results := make([]image.ProcessingResult, len(data))
		for i, r := range data {
			results[i] = cloneResult(r)
		}
		m.Data = results
	}
	return m
}

func cloneResult(r image.ProcessingResult) image.ProcessingResult {
	if r.CompressedPayload != nil {
		r.CompressedPayload = append([]byte(nil), r.CompressedPayload...)
	}
	if r.Warnings != nil {
		r.Warnings = append([]string(nil), r.Warnings...)
	}
	return r
}

// Results extracts every ProcessingResult carried by an outbound message.
func (m Message) Results() []image.ProcessingResult {
	switch data := m.Data.(type) {
	case image.ProcessingResult:
		return []image.ProcessingResult{data}
	case batch.Progress:
		return []image.ProcessingResult{data.Result}
	case []image.ProcessingResult:
		return data
	}
	return nil
}

// StripPayloads returns a copy of m without compressed bytes or previews,
// suitable for broadcasting status to observers.
func (m Message) StripPayloads() Message {
	strip := func(r image.ProcessingResult) image.ProcessingResult {
		r.CompressedPayload = nil
		r.OriginalPreview = ""
		r.CompressedPreview = ""
		return r
	}
	switch data := m.Data.(type) {
	case image.ProcessingResult:
		m.Data = strip(data)
	case batch.Progress:
		data.Result = strip(data.Result)
		m.Data = data
	case []image.ProcessingResult:
		out := make([]image.ProcessingResult, len(data))
		for i, r := range data {
			out[i] = strip(r)
		}
		m.Data = out
	}
	return m
}
