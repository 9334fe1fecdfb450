package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/mmrzaf/listmat/internal/domain"
	"github.com/mmrzaf/listmat/internal/identity"
	"github.com/mmrzaf/listmat/internal/infra/blob"
	"github.com/mmrzaf/listmat/internal/infra/repos/lists"
	"github.com/mmrzaf/listmat/internal/logging"
	"github.com/mmrzaf/listmat/internal/metrics"
	"github.com/mmrzaf/listmat/internal/refresh"
	"github.com/mmrzaf/listmat/internal/shutdown"
)

// Store is the part of the list repository the export pipeline needs.
type Store interface {
	refresh.ContentSource
	GetList(ctx context.Context, id string) (*domain.List, error)
	CreateExportJob(ctx context.Context, j *domain.ExportJob) error
	GetExportJob(ctx context.Context, id string) (*domain.ExportJob, error)
	ExportStatus(ctx context.Context, id string) (domain.Status, error)
	FinishExportJob(ctx context.Context, j *domain.ExportJob) (bool, error)
	CancelExportJob(ctx context.Context, id string, at time.Time) (bool, error)
}

var _ Store = (*lists.Repository)(nil)

type EntityResolver interface {
	Get(name string) (*domain.EntityType, error)
}

// ContentLookup resolves field values for a page of content ids. Records come
// back in the order of ids; ids with no row are omitted.
type ContentLookup interface {
	Lookup(ctx context.Context, entity *domain.EntityType, fields []string, ids []string) ([]domain.Record, error)
}

type Config struct {
	PageSize       int
	RotateBytes    int64
	PollEvery      int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	TempDir        string
	KeyPrefix      string
}

func (c *Config) applyDefaults() {
	if c.PageSize <= 0 {
		c.PageSize = 100000
	}
	if c.RotateBytes <= 0 {
		c.RotateBytes = 5 << 20
	}
	if c.PollEvery <= 0 {
		c.PollEvery = 10
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 16 * time.Second
	}
}

// Driver runs export jobs: it pages the snapshot generation's content, encodes
// it, rotates local segment files and uploads each one as a multipart part.
type Driver struct {
	store      Store
	entities   EntityResolver
	lookup     ContentLookup
	uploader   blob.MultipartUploader
	dispatcher refresh.Dispatcher
	registry   *shutdown.Registry
	cfg        Config
	metrics    *metrics.Metrics
	logger     *logging.Logger
	now        func() time.Time
	// newTimer is nil outside tests; backoff then uses a real timer.
	newTimer func() backoff.Timer
}

func NewDriver(
	store Store,
	entities EntityResolver,
	lookup ContentLookup,
	uploader blob.MultipartUploader,
	dispatcher refresh.Dispatcher,
	registry *shutdown.Registry,
	cfg Config,
	m *metrics.Metrics,
	logger *logging.Logger,
) *Driver {
	cfg.applyDefaults()
	return &Driver{
		store:      store,
		entities:   entities,
		lookup:     lookup,
		uploader:   uploader,
		dispatcher: dispatcher,
		registry:   registry,
		cfg:        cfg,
		metrics:    m,
		logger:     logger.WithComponent("export"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Start snapshots the list's success generation into a new export job and
// schedules it. The returned job is the initial IN_PROGRESS state.
func (d *Driver) Start(ctx context.Context, listID string, fields []string) (*domain.ExportJob, error) {
	id := identity.FromContext(ctx)
	l, err := d.store.GetList(ctx, listID)
	if err != nil {
		return nil, err
	}
	if l.SuccessGenerationID == "" {
		return nil, fmt.Errorf("list %s: %w", listID, domain.ErrNoSuccessGeneration)
	}
	entity, err := d.entities.Get(l.EntityType)
	if err != nil {
		return nil, err
	}
	if _, err := NewCSVEncoder(entity, fields); err != nil {
		return nil, err
	}

	jobID := uuid.NewString()
	job := &domain.ExportJob{
		ID:           jobID,
		ListID:       listID,
		GenerationID: l.SuccessGenerationID,
		Fields:       append([]string(nil), fields...),
		Status:       domain.StatusInProgress,
		CreatedBy:    id.UserID,
		StartedAt:    d.now(),
		ObjectKey:    path.Join(d.cfg.KeyPrefix, listID, jobID+".csv"),
	}
	if err := d.store.CreateExportJob(ctx, job); err != nil {
		return nil, err
	}
	initial := *job
	log := d.logger.With(map[string]any{"list_id": listID, "export_id": jobID})

	handle, err := d.registry.Register(id, "export:"+jobID, func(ctx context.Context) error {
		return d.finish(ctx, log, job, 0, 0, domain.ErrShutdownDuringExport)
	})
	if err != nil {
		_ = d.finish(ctx, log, job, 0, 0, domain.ErrShutdownDuringExport)
		return nil, fmt.Errorf("register shutdown task: %w", err)
	}

	runJob := *job
	err = d.dispatcher.Submit("export:"+jobID, func(taskCtx context.Context) {
		defer handle.Release()
		d.run(identity.NewContext(taskCtx, id), log, &runJob, entity)
	})
	if err != nil {
		handle.Release()
		_ = d.finish(ctx, log, job, 0, 0, fmt.Errorf("schedule export: %w", err))
		return nil, fmt.Errorf("schedule export: %w", err)
	}

	log.Infow("export.started", map[string]any{
		"generation_id": job.GenerationID, "fields": len(fields), "tenant_id": id.TenantID, "user_id": id.UserID,
	})
	return &initial, nil
}

// Cancel marks an IN_PROGRESS job CANCELLED. The running driver notices at its
// next status poll and aborts the upload.
func (d *Driver) Cancel(ctx context.Context, jobID string) (*domain.ExportJob, error) {
	ok, err := d.store.CancelExportJob(ctx, jobID, d.now())
	if err != nil {
		return nil, err
	}
	j, err := d.store.GetExportJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("export %s is %s: %w", jobID, j.Status, domain.ErrExportNotInProgress)
	}
	d.metrics.ExportFinished(string(domain.StatusCancelled))
	d.logger.Infow("export.cancel_requested", map[string]any{"list_id": j.ListID, "export_id": jobID})
	return j, nil
}

func (d *Driver) run(ctx context.Context, log *logging.Logger, job *domain.ExportJob, entity *domain.EntityType) {
	enc, err := NewCSVEncoder(entity, job.Fields)
	if err != nil {
		_ = d.finish(ctx, log, job, 0, 0, err)
		return
	}
	var (
		parts int
		rows  int64
	)
	err = func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("export panicked: %v", r)
			}
		}()
		parts, rows, err = d.export(ctx, log, job, entity, enc)
		return err
	}()
	if err != nil && job.UploadID != "" {
		if aerr := d.uploader.Abort(context.WithoutCancel(ctx), job.ObjectKey, job.UploadID); aerr != nil {
			log.Warnw("export.abort_failed", map[string]any{"error": aerr.Error()})
		}
	}
	if ferr := d.finish(ctx, log, job, parts, rows, err); ferr != nil {
		log.Errorw("export.finish_failed", map[string]any{"error": ferr.Error()})
	}
}

type segment struct {
	f     *os.File
	path  string
	size  int64
	pages int
}

func (s *segment) Write(p []byte) (int, error) {
	n, err := s.f.Write(p)
	s.size += int64(n)
	return n, err
}

func openSegment(dir string, n int) (*segment, error) {
	p := filepath.Join(dir, fmt.Sprintf("part-%05d.csv", n))
	f, err := os.Create(p)
	if err != nil {
		return nil, err
	}
	return &segment{f: f, path: p}, nil
}

func (d *Driver) export(ctx context.Context, log *logging.Logger, job *domain.ExportJob, entity *domain.EntityType, enc *CSVEncoder) (int, int64, error) {
	uploadID, err := d.uploader.Initiate(ctx, job.ObjectKey)
	if err != nil {
		return 0, 0, fmt.Errorf("initiate upload: %w", err)
	}
	job.UploadID = uploadID

	dir, err := os.MkdirTemp(d.cfg.TempDir, "listmat-export-")
	if err != nil {
		return 0, 0, err
	}
	defer os.RemoveAll(dir)

	var parts []blob.CompletedPart
	var rows int64
	seg, err := openSegment(dir, 1)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = seg.f.Close() }()
	enc.Reset(seg)

	ship := func() error {
		if err := seg.f.Close(); err != nil {
			return err
		}
		n := len(parts) + 1
		etag, err := d.uploadPart(ctx, log, job, n, seg.path)
		if err != nil {
			return fmt.Errorf("upload part %d: %w", n, err)
		}
		parts = append(parts, blob.CompletedPart{PartNumber: n, ETag: etag})
		d.metrics.PartUploaded(seg.size)
		log.Infow("export.part_uploaded", map[string]any{"part": n, "bytes": seg.size, "pages": seg.pages})
		_ = os.Remove(seg.path)
		return nil
	}

	reader := refresh.NewReader(d.store, job.ListID, job.GenerationID, d.cfg.PageSize)
	for page := 0; ; page++ {
		if page%d.cfg.PollEvery == 0 {
			if err := d.checkStatus(ctx, job.ID); err != nil {
				return len(parts), rows, err
			}
		}
		ids, err := reader.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return len(parts), rows, fmt.Errorf("read content: %w", err)
		}

		if seg.size >= d.cfg.RotateBytes && seg.pages > 0 {
			if err := ship(); err != nil {
				return len(parts), rows, err
			}
			next, err := openSegment(dir, len(parts)+1)
			if err != nil {
				return len(parts), rows, fmt.Errorf("open segment: %w", err)
			}
			seg = next
			enc.Reset(seg)
		}

		records, err := d.lookup.Lookup(ctx, entity, enc.Columns(), ids)
		if err != nil {
			return len(parts), rows, fmt.Errorf("lookup content: %w", err)
		}
		records = live(records)
		if err := enc.WriteBatch(records); err != nil {
			return len(parts), rows, fmt.Errorf("encode page: %w", err)
		}
		seg.pages++
		rows += int64(len(records))
	}

	if err := enc.WriteHeader(); err != nil {
		return len(parts), rows, err
	}
	if err := ship(); err != nil {
		return len(parts), rows, err
	}
	if err := d.uploader.Complete(ctx, job.ObjectKey, job.UploadID, parts); err != nil {
		return len(parts), rows, fmt.Errorf("complete upload: %w", err)
	}
	return len(parts), rows, nil
}

func live(records []domain.Record) []domain.Record {
	out := records[:0]
	for _, r := range records {
		if !r.Deleted {
			out = append(out, r)
		}
	}
	return out
}

func (d *Driver) checkStatus(ctx context.Context, jobID string) error {
	st, err := d.store.ExportStatus(ctx, jobID)
	if err != nil {
		return err
	}
	switch st {
	case domain.StatusInProgress:
		return nil
	case domain.StatusCancelled:
		return domain.ErrCancelled
	default:
		return fmt.Errorf("export %s is %s: %w", jobID, st, domain.ErrExportNotInProgress)
	}
}

// retryPolicy yields MaxAttempts-1 delays, doubling from InitialBackoff and
// capped at MaxBackoff, and stops early when ctx is done.
func (d *Driver) retryPolicy(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = d.cfg.InitialBackoff
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxInterval = d.cfg.MaxBackoff
	eb.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(d.cfg.MaxAttempts-1)), ctx)
}

func (d *Driver) uploadPart(ctx context.Context, log *logging.Logger, job *domain.ExportJob, partNumber int, localPath string) (string, error) {
	var etag string
	attempt := 0
	op := func() error {
		attempt++
		tag, err := d.uploader.UploadPart(ctx, job.ObjectKey, job.UploadID, partNumber, localPath)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		etag = tag
		return nil
	}
	notify := func(err error, wait time.Duration) {
		d.metrics.UploadRetried()
		log.Warnw("export.part_retry", map[string]any{
			"part": partNumber, "attempt": attempt, "wait_ms": wait.Milliseconds(), "error": err.Error(),
		})
	}
	var timer backoff.Timer
	if d.newTimer != nil {
		timer = d.newTimer()
	}
	if err := backoff.RetryNotifyWithTimer(op, d.retryPolicy(ctx), notify, timer); err != nil {
		return "", err
	}
	return etag, nil
}

// finish writes the job's terminal state unless it was already finalized, in
// which case it only logs.
func (d *Driver) finish(ctx context.Context, log *logging.Logger, job *domain.ExportJob, parts int, rows int64, cause error) error {
	ctx = context.WithoutCancel(ctx)
	at := d.now()
	j := *job
	j.CompletedAt = &at
	j.PartCount = parts
	j.RowCount = rows
	switch {
	case cause == nil:
		j.Status = domain.StatusSuccess
	case errors.Is(cause, domain.ErrCancelled):
		j.Status = domain.StatusCancelled
		j.ErrorCode = domain.CodeCancelled
		j.ErrorMessage = cause.Error()
	default:
		j.Status = domain.StatusFailed
		j.ErrorCode = domain.CodeOf(cause)
		j.ErrorMessage = cause.Error()
	}

	ok, err := d.store.FinishExportJob(ctx, &j)
	if err != nil {
		return err
	}
	if !ok {
		log.Infow("export.already_finalized", map[string]any{"status": string(j.Status)})
		return nil
	}
	d.metrics.ExportFinished(string(j.Status))
	fields := map[string]any{"status": string(j.Status), "parts": parts, "rows": rows}
	if cause != nil {
		fields["error_code"] = j.ErrorCode
		fields["error"] = cause.Error()
		log.Warnw("export.finished", fields)
		return nil
	}
	log.Infow("export.finished", fields)
	return nil
}
