package core

import (
	"bytes"
	"context"
	"errors"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Skryldev/streamcodec/config"
	apperrors "github.com/Skryldev/streamcodec/errors"
	"github.com/Skryldev/streamcodec/utils"
)

// sniffLen is how many leading bytes the Processor collects before choosing
// a format.
const sniffLen = 16

// Processor is the central orchestrator.  It drives sessions from io.Reader
// sources, feeding them as bytes arrive.  It is safe for concurrent use; each
// decode owns its own session.
type Processor struct {
	cfg      config.Config
	registry Registry
	hooks    []Hook
	logger   Logger
	metrics  MetricsCollector

	// Worker pool.
	jobQueue chan Job
	wg       sync.WaitGroup
	once     sync.Once
	stopOnce sync.Once
	shutdown chan struct{}

	// Atomic counters for lightweight internal metrics.
	processedCount int64
	errorCount     int64
}

// New creates a Processor with the given config.  Call Start() before
// submitting jobs; call Stop() when done.
func New(cfg config.Config, reg Registry) *Processor {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = config.Default().ChunkSize
	}
	if cfg.ReadChunkSize <= 0 {
		cfg.ReadChunkSize = config.Default().ReadChunkSize
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Processor{
		cfg:      cfg,
		registry: reg,
		logger:   discard{},
		jobQueue: make(chan Job, queueSize),
		shutdown: make(chan struct{}),
	}
}

// SetLogger attaches a structured logger.  Sessions created afterwards log
// through it too.
func (p *Processor) SetLogger(l Logger) {
	if l == nil {
		l = discard{}
	}
	p.logger = l
}

// SetMetrics attaches a metrics collector.
func (p *Processor) SetMetrics(m MetricsCollector) { p.metrics = m }

// AddHook registers a session call observer.
func (p *Processor) AddHook(h Hook) { p.hooks = append(p.hooks, h) }

// Registry returns the underlying registry so callers can register
// session factories and decoders after construction.
func (p *Processor) Registry() Registry { return p.registry }

// Config returns the configuration sessions are created with.
func (p *Processor) Config() config.Config { return p.cfg }

// Start launches the worker pool.  It is idempotent.
func (p *Processor) Start() {
	p.once.Do(func() {
		workerCount := p.cfg.WorkerCount
		if workerCount <= 0 {
			workerCount = runtime.NumCPU()
		}
		for i := 0; i < workerCount; i++ {
			p.wg.Add(1)
			go p.worker()
		}
	})
}

// Stop shuts down all workers.  Jobs still queued are dropped.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() { close(p.shutdown) })
	p.wg.Wait()
}

// Decode is the primary synchronous API.  It sniffs the format, then drives
// a session over src.Reader until the image is complete, calling src.OnRows
// with every batch of finished rows.
func (p *Processor) Decode(ctx context.Context, src Source) (*DecodedImage, error) {
	start := time.Now()
	img, err := p.decode(ctx, src)
	if err != nil {
		atomic.AddInt64(&p.errorCount, 1)
		p.logger.Warn("decode failed", "name", src.Name, "error", err)
		return nil, err
	}
	atomic.AddInt64(&p.processedCount, 1)
	p.logger.Debug("decode done",
		"name", src.Name,
		"format", string(img.Format),
		"width", img.Meta.Width,
		"height", img.Meta.Height,
		"elapsed", time.Since(start),
	)
	return img, nil
}

func (p *Processor) decode(ctx context.Context, src Source) (*DecodedImage, error) {
	if src.Reader == nil {
		return nil, apperrors.New(apperrors.CategoryParameter, "decode", apperrors.ErrEmptyInput)
	}
	in := &input{r: src.Reader, chunk: make([]byte, p.cfg.ChunkSize), metrics: p.metrics}

	prefix, err := in.prefix(ctx, sniffLen)
	if err != nil {
		return nil, err
	}
	if len(prefix) == 0 {
		return nil, apperrors.New(apperrors.CategoryFormat, "decode", apperrors.ErrEmptyInput)
	}

	format, factory, ok := p.pick(src.ContentType, prefix)
	if !ok {
		return p.fallback(ctx, format, io.MultiReader(bytes.NewReader(prefix), src.Reader))
	}

	feed := utils.NewFeedSource(prefix)
	in.feed = feed
	s := factory.NewSession(feed, SessionOptions{Config: p.cfg, Logger: p.logger})
	d := &drive{p: p, ctx: ctx, in: in, s: s, src: src}

	if err := d.run("read_metadata", s.ReadMetadata); err != nil {
		return nil, err
	}
	if err := d.run("read_image_data", s.ReadImageData); err != nil {
		return nil, err
	}
	d.pull()

	meta, _ := s.Metadata()
	pix, stride := s.Pixels()
	return &DecodedImage{Format: format, Meta: meta, Pixels: pix, RowStride: stride}, nil
}

// pick chooses the session factory for the input.  A content type hint wins
// when a factory is registered for it.
func (p *Processor) pick(contentType string, prefix []byte) (Format, SessionFactory, bool) {
	if contentType != "" {
		if f := contentTypeToFormat(contentType); f != FormatUnknown {
			if sf, ok := p.registry.FactoryFor(f); ok {
				return f, sf, true
			}
		}
	}
	if f, ok := p.registry.Sniff(prefix); ok {
		sf, _ := p.registry.FactoryFor(f)
		return f, sf, true
	}
	return Format(utils.DetectFormat(prefix)), nil, false
}

// fallback hands formats without a streaming session to a whole-image
// decoder.
func (p *Processor) fallback(ctx context.Context, format Format, r io.Reader) (*DecodedImage, error) {
	dec, ok := p.registry.DecoderFor(format)
	if !ok || !dec.CanDecode(format) {
		return nil, apperrors.New(apperrors.CategoryUnsupported, "decode", apperrors.ErrUnsupportedFormat)
	}
	p.logger.Debug("no streaming session, using fallback decoder", "format", string(format))
	start := time.Now()
	img, err := dec.Decode(ctx, r)
	if p.metrics != nil {
		p.metrics.RecordCallTime("fallback_decode", time.Since(start))
	}
	if err != nil {
		return nil, apperrors.Classify(apperrors.CategoryDecode, "decode.fallback", err)
	}
	return img, nil
}

// DecodeStored decodes an object held by a storage adapter.
func (p *Processor) DecodeStored(ctx context.Context, store StorageAdapter, key StorageKey) (*DecodedImage, error) {
	rc, err := store.Get(ctx, key)
	if err != nil {
		return nil, apperrors.Classify(apperrors.CategoryStorage, "decode_stored", err)
	}
	defer rc.Close()
	return p.Decode(ctx, Source{Reader: rc, Name: key.Path, Size: -1})
}

// Submit enqueues an async job.  Returns ErrWorkerPoolFull if the queue is full.
func (p *Processor) Submit(job Job) error {
	select {
	case p.jobQueue <- job:
		return nil
	default:
		return apperrors.New(apperrors.CategoryPipeline, "submit", apperrors.ErrWorkerPoolFull)
	}
}

// Batch decodes multiple sources concurrently (fan-out / fan-in).
func (p *Processor) Batch(ctx context.Context, sources []Source) ([]*DecodedImage, []error) {
	results := make([]*DecodedImage, len(sources))
	errs := make([]error, len(sources))
	var wg sync.WaitGroup

	for i, src := range sources {
		wg.Add(1)
		go func(idx int, s Source) {
			defer wg.Done()
			results[idx], errs[idx] = p.Decode(ctx, s)
		}(i, src)
	}
	wg.Wait()
	return results, errs
}

// ── session driving ───────────────────────────────────────────────────────────

// input pulls chunks from the caller's reader into a session's feed.
type input struct {
	r       io.Reader
	chunk   []byte
	feed    *utils.FeedSource
	eof     bool
	metrics MetricsCollector
}

// prefix reads until n bytes are collected or the reader ends.
func (in *input) prefix(ctx context.Context, n int) ([]byte, error) {
	var out []byte
	for len(out) < n && !in.eof {
		b, err := in.read(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// read returns the next chunk from the reader; an empty chunk with eof set
// means the reader is exhausted.
func (in *input) read(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryPipeline, "decode.read", err)
		}
		n, err := in.r.Read(in.chunk)
		if n > 0 && in.metrics != nil {
			in.metrics.RecordBytes(int64(n))
		}
		if errors.Is(err, io.EOF) {
			in.eof = true
		} else if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryIO, "decode.read", err)
		}
		if n > 0 || in.eof {
			return in.chunk[:n], nil
		}
	}
}

// more feeds the next chunk to the session.  It reports false once the
// reader is exhausted and nothing was fed.
func (in *input) more(ctx context.Context) (bool, error) {
	if in.eof {
		return false, nil
	}
	b, err := in.read(ctx)
	if err != nil {
		return false, err
	}
	in.feed.Feed(b)
	return len(b) > 0 || !in.eof, nil
}

type drive struct {
	p    *Processor
	ctx  context.Context
	in   *input
	s    Session
	src  Source
	rows uint32
}

// run repeats op, feeding more input after every IncompleteInput.
func (d *drive) run(name string, op func() Result) error {
	for {
		res := d.call(name, op)
		if name == "read_image_data" {
			d.pull()
		}
		switch res {
		case Success:
			return nil
		case IncompleteInput:
			ok, err := d.in.more(d.ctx)
			if err != nil {
				return err
			}
			if !ok {
				return apperrors.New(apperrors.CategoryIncomplete, "decode."+name, apperrors.ErrTruncated)
			}
		default:
			if err := d.s.Err(); err != nil {
				return err
			}
			return apperrors.New(apperrors.CategoryDecode, "decode."+name, errors.New(res.String()))
		}
	}
}

// call runs op between the registered hooks.
func (d *drive) call(name string, op func() Result) Result {
	info := d.info()
	for _, h := range d.p.hooks {
		h.BeforeCall(d.ctx, name, info)
	}
	start := time.Now()
	res := op()
	elapsed := time.Since(start)
	info = d.info()
	for _, h := range d.p.hooks {
		h.AfterCall(d.ctx, name, info, elapsed, res)
	}
	if m := d.p.metrics; m != nil {
		m.RecordCallTime(name, elapsed)
		m.RecordResult(name, res.String())
	}
	return res
}

// pull forwards newly finished rows to the source's callback.
func (d *drive) pull() {
	for {
		rows, data := d.s.PullNewRows()
		if rows.Count == 0 {
			return
		}
		d.rows += rows.Count
		if d.p.metrics != nil {
			d.p.metrics.RecordRows(int64(rows.Count))
		}
		if d.src.OnRows != nil {
			d.src.OnRows(rows, data)
		}
	}
}

func (d *drive) info() CallInfo {
	info := CallInfo{Name: d.src.Name, Format: d.s.Format(), Phase: d.s.Phase(), Rows: d.rows}
	if meta, ok := d.s.Metadata(); ok {
		info.Width, info.Height = meta.Width, meta.Height
	}
	return info
}

// ── worker pool internals ──────────────────────────────────────────────────────

func (p *Processor) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.shutdown:
			return
		case job, ok := <-p.jobQueue:
			if !ok {
				return
			}
			p.processJob(job)
		}
	}
}

func (p *Processor) processJob(job Job) {
	ctx := job.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout := p.cfg.JobTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	img, err := p.Decode(ctx, job.Source)
	if job.ResultCh != nil {
		job.ResultCh <- JobResult{JobID: job.ID, Image: img, Err: err, Timing: time.Since(start)}
	}
}

// contentTypeToFormat maps MIME types to Format values.
func contentTypeToFormat(ct string) Format {
	switch ct {
	case "image/jpeg", "image/jpg":
		return FormatJPEG
	case "image/png", "image/apng":
		return FormatPNG
	case "image/bmp", "image/x-ms-bmp":
		return FormatBMP
	case "image/webp":
		return FormatWebP
	}
	return FormatUnknown
}

// ProcessedCount returns the total number of successfully decoded images.
func (p *Processor) ProcessedCount() int64 { return atomic.LoadInt64(&p.processedCount) }

// ErrorCount returns the total number of failed decodes.
func (p *Processor) ErrorCount() int64 { return atomic.LoadInt64(&p.errorCount) }

// discard is the Logger used until SetLogger is called.
type discard struct{}

func (discard) Debug(string, ...interface{}) {}
func (discard) Info(string, ...interface{})  {}
func (discard) Warn(string, ...interface{})  {}
func (discard) Error(string, ...interface{}) {}
