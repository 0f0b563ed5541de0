package image

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"

	"imgshrink/internal/platform/errors"
	"imgshrink/internal/platform/observability"
	"imgshrink/internal/utils"
)

const (
	// DefaultLargeImagePixels triggers a warning, not a failure.
	DefaultLargeImagePixels = 50_000_000

	stageSize       = "check-size"
	stageDecode     = "decode"
	stageDimensions = "plan-dimensions"
	stageDraw       = "draw"
	stageEncode     = "encode"
	stagePreview    = "preview"
)

var sentinelByStage = map[string]error{
	stageSize:       ErrInputTooLarge,
	stageDecode:     ErrDecodeFailure,
	stageDimensions: ErrInvalidDimensions,
	stageDraw:       ErrDrawFailure,
	stageEncode:     ErrEncodeFailure,
	stagePreview:    ErrPreviewFailure,
}

// ProcessorOptions configures a Processor. Zero values select defaults.
type ProcessorOptions struct {
	MaxFileSize      int64
	LargeImagePixels int64
	Smoothing        Smoothing
	Preview          PreviewOptions
	Decoder          Decoder
	Encoder          Encoder
	Logger           *utils.Logger
}

// Processor turns one ProcessingTask into one ProcessingResult.
type Processor struct {
	maxFileSize int64
	largePixels int64
	smoothing   Smoothing
	preview     PreviewOptions
	decoder     Decoder
	encoder     Encoder
	logger      *utils.Logger

	processed atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	bytesIn   atomic.Int64
	bytesOut  atomic.Int64
}

func NewProcessor(opts ProcessorOptions) *Processor {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxBytes
	}
	if opts.LargeImagePixels <= 0 {
		opts.LargeImagePixels = DefaultLargeImagePixels
	}
	if opts.Decoder == nil {
		opts.Decoder = StdDecoder{}
	}
	if opts.Encoder == nil {
		opts.Encoder = StdEncoder{}
	}
	if opts.Preview.Policy == "" {
		opts.Preview.Policy = PreviewStrict
	}
	return &Processor{
		maxFileSize: opts.MaxFileSize,
		largePixels: opts.LargeImagePixels,
		smoothing:   opts.Smoothing,
		preview:     opts.Preview,
		decoder:     opts.Decoder,
		encoder:     opts.Encoder,
		logger:      opts.Logger,
	}
}

// Process runs a task to completion. It never returns an error and never
// panics: every failure is folded into a result with Success=false.
func (p *Processor) Process(ctx context.Context, task ProcessingTask) (result ProcessingResult) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, endSpan := observability.StartSpan(ctx, "image.processor", "process")

	originalSize := int64(len(task.SourceBytes))
	st := &runState{stage: stageSize}

	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorTag("Pipeline", "panic while processing %s at %s: %v", task.ID, st.stage, r)
			result = p.failureResult(task, originalSize, failure(st.stage, fmt.Errorf("%v", r)))
		}
		p.record(ctx, result)
		if result.Success {
			endSpan(nil)
		} else {
			endSpan(fmt.Errorf("%s", result.Error))
		}
	}()
	defer func() {
		if st.bitmap != nil {
			st.bitmap.Close()
		}
	}()

	result, err := p.run(ctx, task, st)
	if err != nil {
		return p.failureResult(task, originalSize, err)
	}
	return result
}

// runState is shared with Process so the bitmap is released even when a
// stage panics.
type runState struct {
	stage  string
	bitmap *Bitmap
}

func (p *Processor) run(ctx context.Context, task ProcessingTask, st *runState) (ProcessingResult, *errors.Error) {
	var empty ProcessingResult
	originalSize := int64(len(task.SourceBytes))

	st.stage = stageSize
	if originalSize > p.maxFileSize {
		return empty, failure(st.stage, fmt.Errorf("%d bytes exceeds the %d byte limit", originalSize, p.maxFileSize))
	}

	st.stage = stageDecode
	bitmap, derr := p.decoder.Decode(ctx, task.SourceBytes)
	st.bitmap = bitmap
	if derr != nil {
		return empty, failure(st.stage, derr)
	}
	if bitmap == nil || bitmap.Image() == nil {
		return empty, failure(st.stage, fmt.Errorf("decoder returned no image"))
	}

	orientation := ReadOrientation(task.SourceBytes)

	st.stage = stageDimensions
	raw := bitmap.Size()
	if !raw.Valid() {
		return empty, failure(st.stage, nil)
	}
	if raw.Pixels() > p.largePixels {
		p.logger.WarnTag("Pipeline", "processing very large image %s: %dx%d", task.ID, raw.Width, raw.Height)
	}

	planned := PlanDimensions(raw.Width, raw.Height, task.MaxWidth)
	if !planned.Valid() {
		return empty, &errors.Error{
			Kind:    errors.KindImage,
			Op:      st.stage,
			Message: "invalid computed dimensions",
			Cause:   fmt.Errorf("%w: planned %dx%d", ErrInvalidDimensions, planned.Width, planned.Height),
		}
	}

	st.stage = stageDraw
	target := OrientedSize(planned, orientation)
	surface, serr := NewSurface(target.Width, target.Height)
	if serr != nil {
		return empty, failure(st.stage, serr)
	}
	surface.SetSmoothing(p.smoothing)
	surface.Save()
	if orientation != OrientationNormal {
		ApplyOrientation(surface, orientation, float64(target.Width), float64(target.Height))
	}
	err := surface.DrawImage(bitmap.Image(), 0, 0, float64(planned.Width), float64(planned.Height))
	surface.Restore()
	if err != nil {
		return empty, failure(st.stage, err)
	}

	// The raster is no longer needed once it has been drawn.
	bitmap.Close()

	st.stage = stageEncode
	format := NormalizeMIME(task.Format())
	var buf bytes.Buffer
	if err := p.encoder.Encode(&buf, surface.Image(), format, task.Quality); err != nil {
		return empty, failure(st.stage, err)
	}
	payload := buf.Bytes()
	compressedSize := int64(len(payload))

	result := ProcessingResult{
		ID:                   task.ID,
		Success:              true,
		OriginalSize:         originalSize,
		CompressedSize:       compressedSize,
		OriginalDimensions:   OrientedSize(raw, orientation),
		CompressedDimensions: surface.Size(),
		CompressedPayload:    payload,
		OutputFormat:         format,
		CompressionRatio:     CompressionRatio(originalSize, compressedSize),
	}

	st.stage = stagePreview
	if p.preview.Enabled {
		if err := p.attachPreviews(&result, task, payload, format); err != nil {
			if p.preview.Policy != PreviewBestEffort {
				return empty, failure(st.stage, err)
			}
			p.logger.WarnTag("Pipeline", "preview skipped for %s: %v", task.ID, err)
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %v", ErrPreviewFailure, err))
			result.OriginalPreview = ""
			result.CompressedPreview = ""
		}
	}

	return result, nil
}

func (p *Processor) attachPreviews(result *ProcessingResult, task ProcessingTask, payload []byte, format string) error {
	original, err := BuildPreview(task.MIMEType, task.SourceBytes, p.preview.MaxBytes)
	if err != nil {
		return fmt.Errorf("original: %w", err)
	}
	compressed, err := BuildPreview(format, payload, p.preview.MaxBytes)
	if err != nil {
		return fmt.Errorf("compressed: %w", err)
	}
	result.OriginalPreview = original
	result.CompressedPreview = compressed
	return nil
}

// failure builds the typed error for a failed stage. The message is the
// user-facing text with the cause appended.
func failure(stage string, cause error) *errors.Error {
	sentinel := sentinelByStage[stage]
	if cause == nil {
		return &errors.Error{Kind: errors.KindImage, Op: stage, Message: sentinel.Error(), Cause: sentinel}
	}
	return &errors.Error{
		Kind:    errors.KindImage,
		Op:      stage,
		Message: fmt.Sprintf("%s: %v", sentinel, cause),
		Cause:   fmt.Errorf("%w: %w", sentinel, cause),
	}
}

func (p *Processor) failureResult(task ProcessingTask, originalSize int64, err *errors.Error) ProcessingResult {
	p.logger.WarnTag("Pipeline", "task %s failed at %s: %s", task.ID, err.Op, err.Message)
	return ProcessingResult{
		ID:           task.ID,
		Success:      false,
		OriginalSize: originalSize,
		OutputFormat: NormalizeMIME(task.Format()),
		Error:        err.Message,
		ErrorCode:    CodeOf(err),
	}
}

func (p *Processor) record(ctx context.Context, result ProcessingResult) {
	p.processed.Add(1)
	p.bytesIn.Add(result.OriginalSize)
	status := "success"
	if result.Success {
		p.succeeded.Add(1)
		p.bytesOut.Add(result.CompressedSize)
	} else {
		p.failed.Add(1)
		status = "failure"
	}
	observability.RecordMetric(ctx, "image.processed", 1, map[string]string{
		"status": status,
		"format": result.OutputFormat,
	})
}

// Metrics returns the counters accumulated since construction.
func (p *Processor) Metrics() Metrics {
	return Metrics{
		Processed: p.processed.Load(),
		Succeeded: p.succeeded.Load(),
		Failed:    p.failed.Load(),
		BytesIn:   p.bytesIn.Load(),
		BytesOut:  p.bytesOut.Load(),
	}
}
