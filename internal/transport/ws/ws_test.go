package ws

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	stdimage "image"
	"image/color"
	"image/png"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imgshrink/internal/app/worker"
	"imgshrink/internal/contracts/pipeline"
	"imgshrink/internal/domain/image"
)

type fakeSource struct {
	mu         sync.Mutex
	fns        map[int]func(pipeline.Message)
	next       int
	subscribed chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{fns: make(map[int]func(pipeline.Message)), subscribed: make(chan struct{}, 4)}
}

func (f *fakeSource) Subscribe(fn func(pipeline.Message)) func() {
	f.mu.Lock()
	id := f.next
	f.next++
	f.fns[id] = fn
	f.mu.Unlock()
	f.subscribed <- struct{}{}
	return func() {
		f.mu.Lock()
		delete(f.fns, id)
		f.mu.Unlock()
	}
}

func (f *fakeSource) publish(m pipeline.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fn := range f.fns {
		fn(m)
	}
}

func (f *fakeSource) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fns)
}

func startServer(t *testing.T, source Subscriber) (*Server, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	srv := NewServer(ServerConfig{}, worker.Factory(worker.Options{}), source, nil)
	srv.Mount(engine)

	ts := httptest.NewServer(engine)
	t.Cleanup(func() {
		_ = srv.Stop()
		ts.Close()
	})
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type wireMessage struct {
	Type pipeline.MessageType `json:"type"`
	Data json.RawMessage      `json:"data"`
}

func read(t *testing.T, conn *websocket.Conn) wireMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg wireMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func pngBase64(t *testing.T, w, h int) string {
	t.Helper()
	img := stdimage.NewRGBA(stdimage.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 10), G: uint8(y * 10), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestPipelineEndpointRoundTrip(t *testing.T) {
	_, url := startServer(t, nil)
	conn := dial(t, url+"/ws/pipeline")

	req := `{"type":"PROCESS_IMAGE","data":{"id":"img-1","sourceBytes":"` + pngBase64(t, 20, 10) +
		`","quality":0.8,"maxWidth":10,"outputFormat":"image/png"}}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(req)))

	msg := read(t, conn)
	require.Equal(t, pipeline.TypeImageProcessed, msg.Type)
	var result image.ProcessingResult
	require.NoError(t, json.Unmarshal(msg.Data, &result))
	assert.True(t, result.Success, result.Error)
	assert.Equal(t, "img-1", result.ID)
	assert.Equal(t, image.Dimensions{Width: 10, Height: 5}, result.CompressedDimensions)
	assert.NotEmpty(t, result.CompressedPayload)
	assert.True(t, strings.HasPrefix(result.CompressedPreview, "data:image/png;base64,"))
}

func TestPipelineEndpointBatchOrder(t *testing.T) {
	_, url := startServer(t, nil)
	conn := dial(t, url+"/ws/pipeline")

	img := pngBase64(t, 8, 8)
	req := `{"type":"PROCESS_BATCH","data":[` +
		`{"id":"a","sourceBytes":"` + img + `","quality":0.5,"maxWidth":0},` +
		`{"id":"b","sourceBytes":"AAAA","quality":0.5,"maxWidth":0}]}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(req)))

	first := read(t, conn)
	second := read(t, conn)
	done := read(t, conn)
	assert.Equal(t, pipeline.TypeBatchProgress, first.Type)
	assert.Equal(t, pipeline.TypeBatchProgress, second.Type)
	require.Equal(t, pipeline.TypeBatchCompleted, done.Type)

	var p struct {
		Current int                    `json:"current"`
		Total   int                    `json:"total"`
		Result  image.ProcessingResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(second.Data, &p))
	assert.Equal(t, 2, p.Current)
	assert.Equal(t, 2, p.Total)
	assert.False(t, p.Result.Success)
	assert.Equal(t, image.CodeDecodeFailure, p.Result.ErrorCode)

	var results []image.ProcessingResult
	require.NoError(t, json.Unmarshal(done.Data, &results))
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.True(t, results[0].Success)
}

func TestPipelineEndpointErrors(t *testing.T) {
	_, url := startServer(t, nil)
	conn := dial(t, url+"/ws/pipeline")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"RESIZE","data":{}}`)))
	msg := read(t, conn)
	assert.Equal(t, pipeline.TypeError, msg.Type)
	assert.JSONEq(t, `{"error":"unknown message type: RESIZE"}`, string(msg.Data))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	msg = read(t, conn)
	assert.Equal(t, pipeline.TypeError, msg.Type)
	assert.Contains(t, string(msg.Data), "invalid message payload")
}

func TestPipelineEndpointMalformedFrameAnsweredInOrder(t *testing.T) {
	_, url := startServer(t, nil)
	conn := dial(t, url+"/ws/pipeline")

	img := pngBase64(t, 16, 16)
	batch := `{"type":"PROCESS_BATCH","data":[` +
		`{"id":"a","sourceBytes":"` + img + `","quality":0.5,"maxWidth":0},` +
		`{"id":"b","sourceBytes":"` + img + `","quality":0.5,"maxWidth":8}]}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(batch)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"data":1}`)))

	got := []pipeline.MessageType{read(t, conn).Type, read(t, conn).Type, read(t, conn).Type}
	assert.Equal(t, []pipeline.MessageType{
		pipeline.TypeBatchProgress,
		pipeline.TypeBatchProgress,
		pipeline.TypeBatchCompleted,
	}, got)

	msg := read(t, conn)
	assert.Equal(t, pipeline.TypeError, msg.Type)
	assert.JSONEq(t, `{"error":"invalid message payload: missing type"}`, string(msg.Data))
}

func TestEventsEndpointRelaysStrippedMessages(t *testing.T) {
	source := newFakeSource()
	srv, url := startServer(t, source)
	conn := dial(t, url+"/ws/events")

	select {
	case <-source.subscribed:
	case <-time.After(5 * time.Second):
		t.Fatal("events session never subscribed")
	}

	source.publish(pipeline.ImageProcessed(image.ProcessingResult{
		ID:                "x",
		Success:           true,
		CompressedPayload: []byte{1, 2, 3},
		CompressedPreview: "data:image/jpeg;base64,AQID",
		CompressedSize:    3,
	}))

	msg := read(t, conn)
	require.Equal(t, pipeline.TypeImageProcessed, msg.Type)
	var result image.ProcessingResult
	require.NoError(t, json.Unmarshal(msg.Data, &result))
	assert.Equal(t, "x", result.ID)
	assert.Equal(t, int64(3), result.CompressedSize)
	assert.Empty(t, result.CompressedPayload)
	assert.Empty(t, result.CompressedPreview)

	assert.Equal(t, 1, srv.Counts()["events"])

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	assert.Eventually(t, func() bool { return source.count() == 0 }, 5*time.Second, 10*time.Millisecond)
}
