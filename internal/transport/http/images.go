package httptransport

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"imgshrink/internal/app/services"
	"imgshrink/internal/domain/image"
	"imgshrink/internal/domain/store"
	platformerrors "imgshrink/internal/platform/errors"
	"imgshrink/internal/utils"
)

// ImagesHandler serves the upload, listing and export endpoints.
type ImagesHandler struct {
	compressor *services.Compressor
	logger     *utils.Logger
}

// NewImagesHandler creates the handler.
func NewImagesHandler(compressor *services.Compressor, logger *utils.Logger) (*ImagesHandler, error) {
	if compressor == nil {
		return nil, platformerrors.New(platformerrors.KindConfig, "http.images.new", "compressor is required")
	}
	return &ImagesHandler{compressor: compressor, logger: logger}, nil
}

// RegisterRoutes mounts the image routes on the API group.
func (h *ImagesHandler) RegisterRoutes(router *Router) {
	router.API.POST("/images", h.Upload)
	router.API.GET("/images", h.List)
	router.API.DELETE("/images", h.Clear)
	router.API.GET("/images/:id", h.Get)
	router.API.GET("/images/:id/download", h.Download)
	router.API.DELETE("/images/:id", h.Remove)
	router.API.GET("/archive", h.Archive)
	router.API.GET("/stats", h.Stats)
}

// ItemView is an item without its compressed bytes.
type ItemView struct {
	ID                   string           `json:"id"`
	Name                 string           `json:"name"`
	MIMEType             string           `json:"mimeType"`
	Status               store.Status     `json:"status"`
	OriginalSize         int64            `json:"originalSize"`
	CompressedSize       int64            `json:"compressedSize"`
	OriginalSizeText     string           `json:"originalSizeText"`
	CompressedSizeText   string           `json:"compressedSizeText"`
	OriginalDimensions   image.Dimensions `json:"originalDimensions"`
	CompressedDimensions image.Dimensions `json:"compressedDimensions"`
	CompressionRatio     int              `json:"compressionRatio"`
	OutputFormat         string           `json:"outputFormat,omitempty"`
	Error                string           `json:"error,omitempty"`
	ErrorCode            string           `json:"errorCode,omitempty"`
	Warnings             []string         `json:"warnings,omitempty"`
	OriginalPreview      string           `json:"originalDataUrl,omitempty"`
	CompressedPreview    string           `json:"compressedDataUrl,omitempty"`
	DownloadURL          string           `json:"downloadUrl,omitempty"`
}

func newItemView(it store.Item, previews bool) ItemView {
	v := ItemView{
		ID:                   it.ID,
		Name:                 it.Name,
		MIMEType:             it.MIMEType,
		Status:               it.Status,
		OriginalSize:         it.OriginalSize,
		CompressedSize:       it.CompressedSize,
		OriginalSizeText:     services.FormatFileSize(it.OriginalSize),
		CompressedSizeText:   services.FormatFileSize(it.CompressedSize),
		OriginalDimensions:   it.OriginalDimensions,
		CompressedDimensions: it.CompressedDimensions,
		CompressionRatio:     it.CompressionRatio,
		OutputFormat:         it.OutputFormat,
		Error:                it.Error,
		ErrorCode:            it.ErrorCode,
		Warnings:             it.Warnings,
	}
	if previews {
		v.OriginalPreview = it.OriginalPreview
		v.CompressedPreview = it.CompressedPreview
	}
	if it.Status == store.StatusCompleted {
		v.DownloadURL = "/api/images/" + it.ID + "/download"
	}
	return v
}

// Upload accepts multipart "files" plus optional quality, max_width and
// output_format fields and starts a batch.
func (h *ImagesHandler) Upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		RespondError(c, http.StatusBadRequest, "failed to parse multipart form", err.Error())
		return
	}

	settings, err := h.parseSettings(form)
	if err != nil {
		RespondError(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	headers := form.File["files"]
	if len(headers) == 0 {
		RespondError(c, http.StatusBadRequest, "files field is required", nil)
		return
	}

	files := make([]services.FileInput, 0, len(headers))
	for _, fh := range headers {
		input, err := readUpload(fh)
		if err != nil {
			RespondError(c, http.StatusBadRequest, fmt.Sprintf("failed to read %s", fh.Filename), err.Error())
			return
		}
		files = append(files, input)
	}

	ids, err := h.compressor.Submit(c.Request.Context(), files, settings)
	switch {
	case err == nil:
	case errors.Is(err, services.ErrNoValidImages):
		RespondError(c, http.StatusUnprocessableEntity, err.Error(), nil)
		return
	case errors.Is(err, services.ErrBatchInProgress):
		RespondError(c, http.StatusConflict, err.Error(), nil)
		return
	case errors.Is(err, image.ErrUnsupportedOutputFormat):
		RespondError(c, http.StatusBadRequest, err.Error(), nil)
		return
	default:
		h.logger.ErrorTag("HTTP", "submit failed: %v", err)
		RespondError(c, http.StatusInternalServerError, "failed to submit batch", nil)
		return
	}

	RespondSuccess(c, http.StatusAccepted, gin.H{
		"ids":      ids,
		"accepted": len(ids),
		"skipped":  len(files) - len(ids),
		"settings": settings,
	}, "batch accepted")
}

func (h *ImagesHandler) parseSettings(form *multipart.Form) (image.Settings, error) {
	settings := h.compressor.Defaults()
	value := func(key string) string {
		if vs := form.Value[key]; len(vs) > 0 {
			return strings.TrimSpace(vs[0])
		}
		return ""
	}

	if v := value("quality"); v != "" {
		q, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return settings, fmt.Errorf("invalid quality: %s", v)
		}
		settings.Quality = q
	}
	if v := value("max_width"); v != "" {
		w, err := strconv.Atoi(v)
		if err != nil {
			return settings, fmt.Errorf("invalid max_width: %s", v)
		}
		settings.MaxWidth = w
	}
	if v := value("output_format"); v != "" {
		settings.OutputFormat = image.NormalizeMIME(v)
	}
	if err := image.ValidateSettings(settings); err != nil {
		return settings, err
	}
	return settings, nil
}

func readUpload(fh *multipart.FileHeader) (services.FileInput, error) {
	f, err := fh.Open()
	if err != nil {
		return services.FileInput{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return services.FileInput{}, err
	}
	declared := fh.Header.Get("Content-Type")
	if declared == "application/octet-stream" {
		declared = ""
	}
	return services.FileInput{
		Name:     fh.Filename,
		Size:     fh.Size,
		MIMEType: declared,
		Data:     data,
	}, nil
}

// List returns every item in submission order. Pass previews=true to
// include the data URLs.
func (h *ImagesHandler) List(c *gin.Context) {
	items, err := h.compressor.List(c.Request.Context())
	if err != nil {
		h.logger.ErrorTag("HTTP", "list failed: %v", err)
		RespondError(c, http.StatusInternalServerError, "failed to list images", nil)
		return
	}
	previews, _ := strconv.ParseBool(c.Query("previews"))
	views := make([]ItemView, 0, len(items))
	for _, it := range items {
		views = append(views, newItemView(it, previews))
	}
	RespondSuccess(c, http.StatusOK, views, "")
}

func (h *ImagesHandler) Get(c *gin.Context) {
	item, err := h.compressor.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondLookupError(c, err)
		return
	}
	RespondSuccess(c, http.StatusOK, newItemView(item, true), "")
}

// Download streams one compressed file as an attachment.
func (h *ImagesHandler) Download(c *gin.Context) {
	export, err := h.compressor.Export(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondLookupError(c, err)
		return
	}
	sendFile(c, export)
}

// Archive streams a zip of every completed image.
func (h *ImagesHandler) Archive(c *gin.Context) {
	export, count, err := h.compressor.ExportAll(c.Request.Context())
	if err != nil {
		if errors.Is(err, services.ErrNothingToExport) {
			RespondError(c, http.StatusNotFound, err.Error(), nil)
			return
		}
		h.logger.ErrorTag("HTTP", "archive failed: %v", err)
		RespondError(c, http.StatusInternalServerError, "failed to build archive", nil)
		return
	}
	c.Header("X-Image-Count", strconv.Itoa(count))
	sendFile(c, export)
}

func (h *ImagesHandler) Remove(c *gin.Context) {
	if err := h.compressor.Remove(c.Request.Context(), c.Param("id")); err != nil {
		h.respondLookupError(c, err)
		return
	}
	RespondSuccess(c, http.StatusOK, nil, "image removed")
}

func (h *ImagesHandler) Clear(c *gin.Context) {
	if err := h.compressor.Clear(c.Request.Context()); err != nil {
		h.logger.ErrorTag("HTTP", "clear failed: %v", err)
		RespondError(c, http.StatusInternalServerError, "failed to clear images", nil)
		return
	}
	RespondSuccess(c, http.StatusOK, nil, "images cleared")
}

func (h *ImagesHandler) Stats(c *gin.Context) {
	stats, err := h.compressor.Stats(c.Request.Context())
	if err != nil {
		h.logger.ErrorTag("HTTP", "stats failed: %v", err)
		RespondError(c, http.StatusInternalServerError, "failed to compute stats", nil)
		return
	}
	RespondSuccess(c, http.StatusOK, stats, "")
}

func (h *ImagesHandler) respondLookupError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		RespondError(c, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, services.ErrNotReady):
		RespondError(c, http.StatusConflict, err.Error(), nil)
	default:
		h.logger.ErrorTag("HTTP", "lookup failed: %v", err)
		RespondError(c, http.StatusInternalServerError, "internal error", nil)
	}
}

func sendFile(c *gin.Context, export services.Export) {
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, strings.ReplaceAll(export.Name, `"`, "")))
	c.Data(http.StatusOK, export.MIMEType, export.Data)
}
