// Package services holds the shell controller that turns user uploads into
// pipeline batches and pipeline results into stored items.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"imgshrink/internal/app/worker"
	"imgshrink/internal/contracts/pipeline"
	"imgshrink/internal/domain/batch"
	"imgshrink/internal/domain/eventbus"
	"imgshrink/internal/domain/image"
	"imgshrink/internal/domain/store"
	"imgshrink/internal/platform/archive"
	platformerrors "imgshrink/internal/platform/errors"
	"imgshrink/internal/utils"
)

var (
	// ErrNoValidImages is returned when no submitted file is an accepted image.
	ErrNoValidImages = errors.New("no valid images")
	// ErrBatchInProgress is returned by Submit while a batch is outstanding.
	ErrBatchInProgress = batch.ErrBatchInProgress
	// ErrNotReady is returned when exporting an item without output.
	ErrNotReady = errors.New("image has no compressed output")
	// ErrNothingToExport is returned by ExportAll when nothing has completed.
	ErrNothingToExport = errors.New("no completed images to export")
)

// FileInput is one file handed over by an acquisition collaborator.
type FileInput struct {
	// ID is used for the stored item when set; otherwise one is generated.
	ID       string
	Name     string
	Size     int64
	MIMEType string
	Data     []byte
}

// Export is a downloadable file.
type Export struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Stats summarises the store and the current batch.
type Stats struct {
	Total           int    `json:"total"`
	Completed       int    `json:"completed"`
	Failed          int    `json:"failed"`
	Processing      int    `json:"processing"`
	OriginalTotal   int64  `json:"originalTotal"`
	CompressedTotal int64  `json:"compressedTotal"`
	OriginalText    string `json:"originalText"`
	CompressedText  string `json:"compressedText"`
	Ratio           int    `json:"ratio"`
	Current         int    `json:"current"`
	BatchTotal      int    `json:"batchTotal"`
	Progress        int    `json:"progress"`
	Busy            bool   `json:"busy"`
}

// CompressorConfig wires a Compressor.
type CompressorConfig struct {
	Worker    worker.Handle
	Store     store.Store
	Validator *image.Validator
	Bus       *eventbus.Bus
	Logger    *utils.Logger
	Defaults  image.Settings
}

// Compressor is the shell controller. It owns no image processing itself:
// tasks go to the injected worker handle and results come back through Run.
type Compressor struct {
	worker    worker.Handle
	store     store.Store
	validator *image.Validator
	bus       *eventbus.Bus
	logger    *utils.Logger
	defaults  image.Settings

	mu          sync.Mutex
	outstanding bool
	batchIDs    []string
	current     int
	total       int

	subsMu  sync.RWMutex
	subs    map[int]func(pipeline.Message)
	nextSub int
}

// NewCompressor builds a Compressor. Worker and Store are required.
func NewCompressor(cfg CompressorConfig) (*Compressor, error) {
	if cfg.Worker == nil {
		return nil, platformerrors.New(platformerrors.KindPipeline, "services.new", "worker handle required")
	}
	if cfg.Store == nil {
		return nil, platformerrors.New(platformerrors.KindPipeline, "services.new", "result store required")
	}
	if cfg.Validator == nil {
		cfg.Validator = image.NewValidator(image.ValidatorOptions{Logger: cfg.Logger})
	}
	if cfg.Defaults.Quality == 0 {
		cfg.Defaults.Quality = 0.8
	}
	if cfg.Defaults.OutputFormat == "" {
		cfg.Defaults.OutputFormat = image.DefaultOutputFormat
	}
	return &Compressor{
		worker:    cfg.Worker,
		store:     cfg.Store,
		validator: cfg.Validator,
		bus:       cfg.Bus,
		logger:    cfg.Logger,
		defaults:  cfg.Defaults,
		subs:      make(map[int]func(pipeline.Message)),
	}, nil
}

// Defaults returns the settings used when a caller supplies none.
func (c *Compressor) Defaults() image.Settings {
	return c.defaults
}

// Busy reports whether a batch is outstanding.
func (c *Compressor) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outstanding
}

// Submit filters files, stores accepted ones as processing and posts a
// PROCESS_BATCH. It returns the new ids in file order.
func (c *Compressor) Submit(ctx context.Context, files []FileInput, settings image.Settings) ([]string, error) {
	if err := image.ValidateSettings(settings); err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindPipeline, "services.submit", "invalid settings", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outstanding {
		return nil, ErrBatchInProgress
	}

	tasks := make([]image.ProcessingTask, 0, len(files))
	ids := make([]string, 0, len(files))
	for _, f := range files {
		ins := c.validator.Inspect(f.MIMEType, f.Data)
		if !ins.Accepted {
			c.logger.WarnTag("Shell", "skipping %s: %s", f.Name, ins.Reason)
			continue
		}

		id := f.ID
		if id == "" {
			id = uuid.NewString()
		}
		item := store.Item{
			ID:                 id,
			Name:               f.Name,
			MIMEType:           ins.MIMEType,
			Status:             store.StatusProcessing,
			OriginalSize:       int64(len(f.Data)),
			OriginalDimensions: ins.Dimensions,
			OutputFormat:       settingsFormat(settings),
		}
		if err := c.store.Put(ctx, item); err != nil {
			c.rollback(ctx, ids)
			return nil, platformerrors.Wrap(platformerrors.KindStorage, "services.submit", "failed to store item", err)
		}
		ids = append(ids, id)
		tasks = append(tasks, image.ProcessingTask{
			ID:           id,
			SourceBytes:  f.Data,
			Quality:      settings.Quality,
			MaxWidth:     settings.MaxWidth,
			OutputFormat: settings.OutputFormat,
			Name:         f.Name,
			MIMEType:     ins.MIMEType,
		})
	}

	if len(tasks) == 0 {
		return nil, ErrNoValidImages
	}

	if err := c.worker.Post(pipeline.ProcessBatch(tasks)); err != nil {
		c.rollback(ctx, ids)
		return nil, platformerrors.Wrap(platformerrors.KindPipeline, "services.submit", "failed to post batch", err)
	}

	c.outstanding = true
	c.batchIDs = ids
	c.current = 0
	c.total = len(tasks)
	c.logger.InfoTag("Shell", "submitted batch of %d images (%d skipped)", len(tasks), len(files)-len(tasks))
	return ids, nil
}

func settingsFormat(s image.Settings) string {
	if s.OutputFormat == "" {
		return image.DefaultOutputFormat
	}
	return s.OutputFormat
}

func (c *Compressor) rollback(ctx context.Context, ids []string) {
	for _, id := range ids {
		_ = c.store.Remove(ctx, id)
	}
}

// Run pumps worker messages in receipt order until ctx ends or the worker
// is terminated.
func (c *Compressor) Run(ctx context.Context) error {
	for {
		msg, err := c.worker.Receive(ctx)
		if err != nil {
			if errors.Is(err, worker.ErrTerminated) {
				return nil
			}
			return err
		}
		c.apply(ctx, msg)
		c.notify(msg)
	}
}

func (c *Compressor) apply(ctx context.Context, msg pipeline.Message) {
	switch msg.Type {
	case pipeline.TypeBatchProgress:
		if p, ok := msg.Data.(batch.Progress); ok {
			c.mu.Lock()
			c.current, c.total = p.Current, p.Total
			c.mu.Unlock()
		}
		for _, r := range msg.Results() {
			c.storeResult(ctx, r)
		}

	case pipeline.TypeImageProcessed:
		for _, r := range msg.Results() {
			c.storeResult(ctx, r)
		}

	case pipeline.TypeBatchCompleted:
		// Results were already applied from progress messages; only items
		// still processing need the final copy.
		for _, r := range msg.Results() {
			if item, err := c.store.Get(ctx, r.ID); err == nil && item.Status == store.StatusProcessing {
				c.storeResult(ctx, r)
			}
		}
		c.mu.Lock()
		c.outstanding = false
		c.current = c.total
		c.mu.Unlock()
		c.logger.InfoTag("Shell", "batch completed with %d results", len(msg.Results()))

	case pipeline.TypeError:
		text := fmt.Sprint(msg.Data)
		if data, ok := msg.Data.(pipeline.ErrorData); ok {
			text = data.Error
		}
		c.logger.ErrorTag("Shell", "worker error: %s", text)
		c.bus.Publish(eventbus.EventSystemError, eventbus.SystemEventData{Level: "error", Message: text})
		c.failOutstanding(ctx, text)
	}
}

// failOutstanding closes a batch the worker gave up on, so the shell does
// not stay busy forever.
func (c *Compressor) failOutstanding(ctx context.Context, reason string) {
	c.mu.Lock()
	if !c.outstanding {
		c.mu.Unlock()
		return
	}
	ids := c.batchIDs
	c.outstanding = false
	c.mu.Unlock()

	for _, id := range ids {
		item, err := c.store.Get(ctx, id)
		if err != nil || item.Status != store.StatusProcessing {
			continue
		}
		item.Status = store.StatusError
		item.Error = reason
		if err := c.store.Put(ctx, item); err != nil {
			c.logger.WarnTag("Shell", "failed to mark %s as failed: %v", id, err)
		}
	}
}

func (c *Compressor) storeResult(ctx context.Context, r image.ProcessingResult) {
	item, err := c.store.Get(ctx, r.ID)
	if errors.Is(err, store.ErrNotFound) {
		// removed by the user while in flight
		return
	}
	if err != nil {
		c.logger.WarnTag("Shell", "failed to load %s: %v", r.ID, err)
		return
	}
	item.ApplyResult(r)
	if err := c.store.Put(ctx, item); err != nil {
		c.logger.WarnTag("Shell", "failed to store result for %s: %v", r.ID, err)
		return
	}
	c.bus.Publish(eventbus.EventImageProcessed, eventbus.ImageEventData{
		ImageID: item.ID,
		Name:    item.Name,
		Status:  string(item.Status),
		Ratio:   item.CompressionRatio,
		Error:   item.Error,
	})
}

// Subscribe registers fn for every message the pump receives, after the
// store has been updated. The returned func removes it.
func (c *Compressor) Subscribe(fn func(pipeline.Message)) func() {
	c.subsMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subsMu.Unlock()
	return func() {
		c.subsMu.Lock()
		delete(c.subs, id)
		c.subsMu.Unlock()
	}
}

func (c *Compressor) notify(msg pipeline.Message) {
	c.subsMu.RLock()
	fns := make([]func(pipeline.Message), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subsMu.RUnlock()
	for _, fn := range fns {
		fn(msg)
	}
}

// List returns stored items in submission order.
func (c *Compressor) List(ctx context.Context) ([]store.Item, error) {
	return c.store.List(ctx)
}

func (c *Compressor) Get(ctx context.Context, id string) (store.Item, error) {
	return c.store.Get(ctx, id)
}

// Stats computes totals the way the progress panel shows them: the original
// total counts every item, the compressed total only completed ones.
func (c *Compressor) Stats(ctx context.Context) (Stats, error) {
	items, err := c.store.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	var s Stats
	s.Total = len(items)
	for _, it := range items {
		s.OriginalTotal += it.OriginalSize
		switch it.Status {
		case store.StatusCompleted:
			s.Completed++
			s.CompressedTotal += it.CompressedSize
		case store.StatusError:
			s.Failed++
		case store.StatusProcessing, store.StatusPending:
			s.Processing++
		}
	}
	s.Ratio = image.CompressionRatio(s.OriginalTotal, s.CompressedTotal)
	s.OriginalText = FormatFileSize(s.OriginalTotal)
	s.CompressedText = FormatFileSize(s.CompressedTotal)

	c.mu.Lock()
	s.Current, s.BatchTotal, s.Busy = c.current, c.total, c.outstanding
	c.mu.Unlock()
	s.Progress = ProgressPercent(s.Current, s.BatchTotal)
	return s, nil
}

// Export returns the compressed file of one completed item.
func (c *Compressor) Export(ctx context.Context, id string) (Export, error) {
	item, err := c.store.Get(ctx, id)
	if err != nil {
		return Export{}, err
	}
	if item.Status != store.StatusCompleted || len(item.Payload) == 0 {
		return Export{}, fmt.Errorf("%w: %s", ErrNotReady, id)
	}
	return Export{
		Name:     ExportName(item.Name, item.OutputFormat),
		MIMEType: item.OutputFormat,
		Data:     item.Payload,
	}, nil
}

// ExportAll zips every completed item. Failed items are left out.
func (c *Compressor) ExportAll(ctx context.Context) (Export, int, error) {
	items, err := c.store.List(ctx)
	if err != nil {
		return Export{}, 0, err
	}
	assets := make([]archive.Asset, 0, len(items))
	for _, it := range items {
		if it.Status != store.StatusCompleted || len(it.Payload) == 0 {
			continue
		}
		assets = append(assets, archive.Asset{
			Filename: ExportName(it.Name, it.OutputFormat),
			MIME:     it.OutputFormat,
			Data:     it.Payload,
		})
	}
	if len(assets) == 0 {
		return Export{}, 0, ErrNothingToExport
	}
	data, err := archive.ArchiveAssets(assets)
	if err != nil {
		return Export{}, 0, platformerrors.Wrap(platformerrors.KindPlatform, "services.export_all", "failed to build archive", err)
	}
	return Export{
		Name:     archive.Name(time.Now()),
		MIMEType: "application/zip",
		Data:     data,
	}, len(assets), nil
}

func (c *Compressor) Remove(ctx context.Context, id string) error {
	return c.store.Remove(ctx, id)
}

// Clear drops every stored item. A running batch keeps going; its results
// are ignored because their ids are gone.
func (c *Compressor) Clear(ctx context.Context) error {
	if err := c.store.Clear(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	if !c.outstanding {
		c.current, c.total = 0, 0
	}
	c.mu.Unlock()
	return nil
}

// StoreStats reports driver details of the result store.
func (c *Compressor) StoreStats(ctx context.Context) (map[string]any, error) {
	return c.store.Stats(ctx)
}
