package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mmrzaf/listmat/internal/config"
	"github.com/mmrzaf/listmat/internal/export"
	"github.com/mmrzaf/listmat/internal/infra/blob"
	"github.com/mmrzaf/listmat/internal/infra/blob/fs"
	blobs3 "github.com/mmrzaf/listmat/internal/infra/blob/s3"
	"github.com/mmrzaf/listmat/internal/infra/content"
	"github.com/mmrzaf/listmat/internal/infra/query"
	"github.com/mmrzaf/listmat/internal/infra/repos/entities"
	"github.com/mmrzaf/listmat/internal/infra/repos/lists"
	"github.com/mmrzaf/listmat/internal/logging"
	"github.com/mmrzaf/listmat/internal/metrics"
	"github.com/mmrzaf/listmat/internal/refresh"
	"github.com/mmrzaf/listmat/internal/registry"
	"github.com/mmrzaf/listmat/internal/shutdown"
	"github.com/mmrzaf/listmat/internal/validation"
	"github.com/mmrzaf/listmat/internal/worker"
)

// Runtime owns the long-lived pieces shared by the CLI and the API server.
type Runtime struct {
	Repo     *lists.Repository
	Pool     *worker.Pool
	Shutdown *shutdown.Registry
	Metrics  *metrics.Metrics
	Lists    *ListService

	contentDB   *sql.DB
	ownsContent bool
	logger      *logging.Logger
}

func NewRuntime(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Runtime, error) {
	ents, err := loadEntities(cfg.EntitiesDir)
	if err != nil {
		return nil, err
	}

	var repo *lists.Repository
	if cfg.UsesPostgres() {
		repo = lists.NewPostgresRepository(cfg.DBDSN)
	} else {
		repo = lists.NewSQLiteRepository(cfg.SQLitePath)
	}
	if err := repo.Init(ctx); err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	rt := &Runtime{Repo: repo, logger: logger.WithComponent("runtime")}
	rt.contentDB, rt.ownsContent = repo.DB(), false
	dialect := repo.Dialect()
	// The SQLite store has a single connection, which the producer's open rows
	// would hold while the sink appends. Content reads get their own handle.
	contentDSN := cfg.ContentDSN
	if contentDSN == "" && !cfg.UsesPostgres() {
		contentDSN = cfg.SQLitePath
	}
	if contentDSN != "" {
		db, d, err := content.Open(contentDSN)
		if err != nil {
			_ = repo.Close()
			return nil, err
		}
		rt.contentDB, rt.ownsContent, dialect = db, true, d
	}

	uploader, err := newUploader(ctx, cfg.Blob)
	if err != nil {
		rt.closeStores()
		return nil, err
	}

	rt.Metrics = metrics.New()
	rt.Pool = worker.NewPool(cfg.Workers, cfg.QueueSize, logger)
	rt.Shutdown = shutdown.NewRegistry(rt.Metrics, logger)

	producer := query.NewSQLProducer(rt.contentDB, dialect, ents, logger)
	orch := refresh.NewOrchestrator(repo, producer, rt.Pool, rt.Shutdown, refresh.Config{
		BatchSize:   cfg.Refresh.BatchSize,
		MaxListSize: cfg.Refresh.MaxListSize,
		PollEvery:   cfg.Refresh.CancelPollEvery,
	}, rt.Metrics, logger)
	driver := export.NewDriver(repo, ents, content.NewLookup(rt.contentDB, dialect), uploader, rt.Pool, rt.Shutdown, export.Config{
		PageSize:       cfg.Export.PageSize,
		RotateBytes:    cfg.Export.RotateBytes,
		PollEvery:      cfg.Export.CancelPollEvery,
		MaxAttempts:    cfg.Export.MaxAttempts,
		InitialBackoff: cfg.Export.InitialBackoff,
		MaxBackoff:     cfg.Export.MaxBackoff,
		TempDir:        cfg.Export.TempDir,
		KeyPrefix:      cfg.Blob.Prefix,
	}, rt.Metrics, logger)

	rt.Lists = NewListService(repo, ents, orch, driver, logger)
	rt.logger.Infow("runtime.ready", map[string]any{
		"store":       repo.Dialect().String(),
		"content_db":  content.RedactDSN(cfg.ContentDSN),
		"blob_driver": string(uploader.Driver()),
		"entities":    len(ents.List()),
	})
	return rt, nil
}

func loadEntities(dir string) (*registry.EntityRegistry, error) {
	all, err := entities.NewFileRepository(dir).List()
	if err != nil {
		return nil, fmt.Errorf("load entity types: %w", err)
	}
	reg := registry.NewEntityRegistry()
	for _, et := range all {
		if err := validation.ValidateEntityType(et); err != nil {
			return nil, fmt.Errorf("entity type %s: %w", et.Name, err)
		}
		reg.Register(et)
	}
	return reg, nil
}

func newUploader(ctx context.Context, cfg config.BlobConfig) (blob.MultipartUploader, error) {
	switch blob.Driver(cfg.Driver) {
	case blob.DriverS3:
		return blobs3.New(ctx, blobs3.Config{
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			PathStyle:       cfg.S3.PathStyle,
		})
	case blob.DriverFS, "":
		return fs.New(cfg.Dir)
	default:
		return nil, fmt.Errorf("unsupported blob driver: %s", cfg.Driver)
	}
}

// Close runs the shutdown actions of in-flight work, waits for the pool, then
// closes the stores. ctx bounds the wait.
func (rt *Runtime) Close(ctx context.Context) error {
	rt.Shutdown.Shutdown(ctx)
	err := rt.Pool.Stop(ctx)
	if err != nil {
		rt.logger.Warnw("runtime.pool_stop_timeout", map[string]any{"error": err.Error()})
	}
	rt.closeStores()
	return err
}

func (rt *Runtime) closeStores() {
	if rt.ownsContent && rt.contentDB != nil {
		_ = rt.contentDB.Close()
	}
	_ = rt.Repo.Close()
}
