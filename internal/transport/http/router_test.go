package httptransport

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imgshrink/internal/app/services"
	"imgshrink/internal/app/worker"
	"imgshrink/internal/domain/eventbus"
	"imgshrink/internal/domain/eventbus/infrastructure"
	"imgshrink/internal/domain/store"
	"imgshrink/internal/platform/storage"
	platformtesting "imgshrink/internal/platform/testing"
)

type testAPI struct {
	router     *Router
	compressor *services.Compressor
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	db, err := storage.Open(storage.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close(db) })

	bus := eventbus.New(1)
	t.Cleanup(bus.Close)
	repo := infrastructure.NewEventRepository(db)
	require.NoError(t, infrastructure.NewRecorder(repo, nil).Attach(bus))

	logger := platformtesting.SetupTestLogger(t)
	handle := worker.Start(worker.Options{Bus: bus, Logger: logger})
	compressor, err := services.NewCompressor(services.CompressorConfig{
		Worker: handle,
		Store:  store.NewMemory(store.Config{}),
		Bus:    bus,
		Logger: logger,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = compressor.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		handle.Terminate()
		<-done
	})

	router, err := Build(Options{Logger: logger})
	require.NoError(t, err)

	images, err := NewImagesHandler(compressor, nil)
	require.NoError(t, err)
	images.RegisterRoutes(router)
	NewHealthHandler("test", compressor, nil).RegisterRoutes(router)
	NewEventsHandler(repo, nil).RegisterRoutes(router)

	return &testAPI{router: router, compressor: compressor}
}

func (a *testAPI) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	a.router.Engine.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, data interface{}) APIResponse {
	t.Helper()
	resp := APIResponse{Data: data}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

type upload struct {
	name, mime string
	data       []byte
}

func multipartRequest(t *testing.T, fields map[string]string, files ...upload) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="files"; filename="`+f.name+`"`)
		h.Set("Content-Type", f.mime)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/images", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (a *testAPI) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return !a.compressor.Busy() }, 10*time.Second, 10*time.Millisecond)
}

func TestImagesUploadAndExport(t *testing.T) {
	api := newTestAPI(t)

	req := multipartRequest(t,
		map[string]string{"quality": "0.7", "max_width": "20", "output_format": "image/jpeg"},
		upload{"wide.png", "image/png", platformtesting.PNGBytes(t, 40, 20)},
		upload{"sniffed.png", "application/octet-stream", platformtesting.PNGBytes(t, 10, 10)},
		upload{"readme.txt", "text/plain", []byte("hello")},
	)
	rec := api.do(t, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var accepted struct {
		IDs      []string `json:"ids"`
		Accepted int      `json:"accepted"`
		Skipped  int      `json:"skipped"`
	}
	resp := decode(t, rec, &accepted)
	assert.True(t, resp.Success)
	require.Len(t, accepted.IDs, 2)
	assert.Equal(t, 1, accepted.Skipped)

	api.waitIdle(t)

	var items []ItemView
	rec = api.do(t, httptest.NewRequest(http.MethodGet, "/api/images", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &items)
	require.Len(t, items, 2)
	assert.Equal(t, "wide.png", items[0].Name)
	assert.Equal(t, store.StatusCompleted, items[0].Status)
	assert.Equal(t, 20, items[0].CompressedDimensions.Width)
	assert.Empty(t, items[0].CompressedPreview)
	assert.Equal(t, "image/png", items[1].MIMEType)

	var detail ItemView
	rec = api.do(t, httptest.NewRequest(http.MethodGet, "/api/images/"+accepted.IDs[0], nil))
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &detail)
	assert.NotEmpty(t, detail.CompressedPreview)

	rec = api.do(t, httptest.NewRequest(http.MethodGet, "/api/images/"+accepted.IDs[0]+"/download", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="compressed_wide.jpg"`)
	assert.NotEmpty(t, rec.Body.Bytes())

	rec = api.do(t, httptest.NewRequest(http.MethodGet, "/api/archive", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-Image-Count"))
	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	require.NoError(t, err)
	assert.Len(t, zr.File, 2)

	var stats services.Stats
	rec = api.do(t, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &stats)
	assert.Equal(t, 2, stats.Completed)
	assert.Equal(t, 100, stats.Progress)

	var events []map[string]interface{}
	rec = api.do(t, httptest.NewRequest(http.MethodGet, "/api/events?type=batch:completed", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &events)
	assert.Len(t, events, 1)

	rec = api.do(t, httptest.NewRequest(http.MethodDelete, "/api/images/"+accepted.IDs[1], nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = api.do(t, httptest.NewRequest(http.MethodDelete, "/api/images/"+accepted.IDs[1], nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, httptest.NewRequest(http.MethodDelete, "/api/images", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = api.do(t, httptest.NewRequest(http.MethodGet, "/api/archive", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestImagesUploadRejections(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, multipartRequest(t, map[string]string{"quality": "2"}, upload{"a.png", "image/png", platformtesting.PNGBytes(t, 4, 4)}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode(t, rec, nil)
	assert.False(t, resp.Success)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	rec = api.do(t, multipartRequest(t, map[string]string{"max_width": "wide"}, upload{"a.png", "image/png", platformtesting.PNGBytes(t, 4, 4)}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, multipartRequest(t, map[string]string{"output_format": "image/webp"}, upload{"a.png", "image/png", platformtesting.PNGBytes(t, 4, 4)}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, multipartRequest(t, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, multipartRequest(t, nil, upload{"a.gif", "image/gif", []byte("GIF89a")}))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestImageLookupErrors(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, httptest.NewRequest(http.MethodGet, "/api/images/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, httptest.NewRequest(http.MethodGet, "/api/images/missing/download", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, httptest.NewRequest(http.MethodGet, "/api/events?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)

	var data map[string]interface{}
	rec := api.do(t, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &data)
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, "test", data["version"])
	assert.Contains(t, data, "store")
	assert.Equal(t, false, data["busy"])
}
