package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imgshrink/internal/domain/batch"
	"imgshrink/internal/domain/image"
)

func TestEncode_WireShape(t *testing.T) {
	raw, err := Encode(ProcessImage(image.ProcessingTask{
		ID:           "t1",
		SourceBytes:  []byte{1, 2, 3},
		Quality:      0.8,
		MaxWidth:     1920,
		OutputFormat: "image/png",
	}))
	require.NoError(t, err)

	var generic map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &generic))
	assert.Equal(t, "PROCESS_IMAGE", generic["type"])
	data := generic["data"].(map[string]interface{})
	assert.Equal(t, "t1", data["id"])
	assert.Equal(t, "AQID", data["sourceBytes"])
	assert.Equal(t, 1920.0, data["maxWidth"])
	assert.Equal(t, "image/png", data["outputFormat"])
}

func TestDecode_Inbound(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"PROCESS_BATCH","data":[{"id":"a","sourceBytes":"AQID","quality":0.5,"maxWidth":10},{"id":"b","sourceBytes":"","quality":1,"maxWidth":0}]}`))
	require.NoError(t, err)
	assert.Equal(t, TypeProcessBatch, msg.Type)

	tasks, ok := msg.Data.([]image.ProcessingTask)
	require.True(t, ok)
	require.Len(t, tasks, 2)
	assert.Equal(t, []byte{1, 2, 3}, tasks[0].SourceBytes)
	assert.Equal(t, 10, tasks[0].MaxWidth)
	assert.Equal(t, "b", tasks[1].ID)
	assert.Equal(t, image.DefaultOutputFormat, tasks[1].Format())
}

func TestDecode_Outbound(t *testing.T) {
	progress := BatchProgress(batch.Progress{
		Current: 2,
		Total:   3,
		Result: image.ProcessingResult{
			ID:                   "x",
			Success:              true,
			OriginalSize:         1000,
			CompressedSize:       500,
			CompressedDimensions: image.Dimensions{Width: 20, Height: 10},
			CompressionRatio:     50,
			CompressedPayload:    []byte("jpeg"),
		},
	})
	raw, err := Encode(progress)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"compressionRatio":50`)
	assert.Contains(t, string(raw), `"compressedDimensions":{"width":20,"height":10}`)

	decoded, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, progress, decoded)
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	assert.ErrorContains(t, err, "invalid message payload")

	_, err = Decode([]byte(`{"data":{}}`))
	assert.ErrorContains(t, err, "missing type")

	_, err = Decode([]byte(`{"type":"PROCESS_IMAGE"}`))
	assert.ErrorContains(t, err, "missing data")

	_, err = Decode([]byte(`{"type":"PROCESS_BATCH","data":{"id":1}}`))
	assert.Error(t, err)
}

func TestDecode_UnknownTypeKeepsRawData(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"RESIZE_EVERYTHING","data":{"x":1}}`))
	require.NoError(t, err)
	assert.Equal(t, MessageType("RESIZE_EVERYTHING"), msg.Type)
	assert.JSONEq(t, `{"x":1}`, string(msg.Data.(json.RawMessage)))

	reply := UnknownType(msg.Type)
	raw, err := Encode(reply)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ERROR","data":{"error":"unknown message type: RESIZE_EVERYTHING"}}`, string(raw))
}
