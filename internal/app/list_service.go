package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mmrzaf/listmat/internal/domain"
	"github.com/mmrzaf/listmat/internal/export"
	"github.com/mmrzaf/listmat/internal/identity"
	"github.com/mmrzaf/listmat/internal/infra/repos/lists"
	"github.com/mmrzaf/listmat/internal/logging"
	"github.com/mmrzaf/listmat/internal/refresh"
	"github.com/mmrzaf/listmat/internal/registry"
	"github.com/mmrzaf/listmat/internal/validation"
)

const (
	defaultContentLimit = 1000
	maxContentLimit     = 100000
)

// ListService is the request-facing entry point. It validates input, keeps a
// refresh and an export of the same list from running together, and hands work
// to the refresh orchestrator and the export driver.
type ListService struct {
	repo      *lists.Repository
	entities  *registry.EntityRegistry
	validator *validation.Validator
	refresh   *refresh.Orchestrator
	exports   *export.Driver
	logger    *logging.Logger
	now       func() time.Time
}

func NewListService(
	repo *lists.Repository,
	entities *registry.EntityRegistry,
	orchestrator *refresh.Orchestrator,
	exports *export.Driver,
	logger *logging.Logger,
) *ListService {
	return &ListService{
		repo:      repo,
		entities:  entities,
		validator: validation.NewValidator(entities),
		refresh:   orchestrator,
		exports:   exports,
		logger:    logger.WithComponent("app"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *ListService) Entities() []string { return s.entities.List() }

func (s *ListService) CreateList(ctx context.Context, req *domain.CreateListRequest) (*domain.List, error) {
	if err := s.validator.ValidateCreateList(req); err != nil {
		return nil, err
	}
	now := s.now()
	l := &domain.List{
		ID:         uuid.NewString(),
		Name:       strings.TrimSpace(req.Name),
		EntityType: req.EntityType,
		Query:      strings.TrimSpace(req.Query),
		CreatedBy:  identity.FromContext(ctx).UserID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.CreateList(ctx, l); err != nil {
		return nil, fmt.Errorf("create list: %w", err)
	}
	s.logger.Infow("list.created", map[string]any{"list_id": l.ID, "entity_type": l.EntityType})
	return l, nil
}

// UpdateList replaces the list definition if version is still the stored edit
// version. Refresh generations are unaffected until the next refresh. The entity
// type can only change while the list has no content.
func (s *ListService) UpdateList(ctx context.Context, id string, version int64, req *domain.CreateListRequest) (*domain.List, error) {
	if err := s.validator.ValidateCreateList(req); err != nil {
		return nil, err
	}
	l, err := s.repo.GetList(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.Version != version {
		return nil, fmt.Errorf("%w: list %s is at version %d", domain.ErrConflict, id, l.Version)
	}
	// Content rows are ids of the list's entity type.
	if req.EntityType != l.EntityType && (l.SuccessGenerationID != "" || l.InProgressGenerationID != "") {
		return nil, fmt.Errorf("%w: list %s has content of entity type %s", domain.ErrConflict, id, l.EntityType)
	}
	l.Name = strings.TrimSpace(req.Name)
	l.EntityType = req.EntityType
	l.Query = strings.TrimSpace(req.Query)
	l.UpdatedAt = s.now()
	ok, err := s.repo.UpdateListDefinition(ctx, l)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: list %s was edited concurrently", domain.ErrConflict, id)
	}
	return l, nil
}

func (s *ListService) GetList(ctx context.Context, id string) (*domain.List, error) {
	return s.repo.GetList(ctx, id)
}

func (s *ListService) ListLists(ctx context.Context, limit int) ([]*domain.List, error) {
	return s.repo.ListLists(ctx, limit)
}

func (s *ListService) GetGeneration(ctx context.Context, id string) (*domain.RefreshGeneration, error) {
	return s.repo.GetGeneration(ctx, id)
}

func (s *ListService) ListGenerations(ctx context.Context, listID string, limit int) ([]*domain.RefreshGeneration, error) {
	if _, err := s.repo.GetList(ctx, listID); err != nil {
		return nil, err
	}
	return s.repo.ListGenerations(ctx, listID, limit)
}

// StartRefresh is refused while an export of the list is running.
func (s *ListService) StartRefresh(ctx context.Context, listID string) (*domain.RefreshGeneration, error) {
	if _, err := s.repo.GetList(ctx, listID); err != nil {
		return nil, err
	}
	busy, err := s.repo.HasActiveExport(ctx, listID)
	if err != nil {
		return nil, err
	}
	if busy {
		return nil, fmt.Errorf("%w: list %s is being exported", domain.ErrConflict, listID)
	}
	return s.refresh.Start(ctx, listID)
}

func (s *ListService) CancelRefresh(ctx context.Context, listID string) (*domain.RefreshGeneration, error) {
	return s.refresh.Cancel(ctx, listID)
}

func (s *ListService) GC(ctx context.Context, listID string) (int64, error) {
	return s.refresh.GC(ctx, listID)
}

// StartExport is refused while a refresh of the list is running.
func (s *ListService) StartExport(ctx context.Context, listID string, req *domain.ExportRequest) (*domain.ExportJob, error) {
	l, err := s.repo.GetList(ctx, listID)
	if err != nil {
		return nil, err
	}
	if l.InProgressGenerationID != "" {
		return nil, fmt.Errorf("%w: list %s is being refreshed", domain.ErrConflict, listID)
	}
	et, err := s.entities.Get(l.EntityType)
	if err != nil {
		return nil, err
	}
	if err := s.validator.ValidateExportFields(et, req.Fields); err != nil {
		return nil, err
	}
	return s.exports.Start(ctx, listID, req.Fields)
}

func (s *ListService) GetExport(ctx context.Context, id string) (*domain.ExportJob, error) {
	return s.repo.GetExportJob(ctx, id)
}

func (s *ListService) ListExports(ctx context.Context, listID string, limit int) ([]*domain.ExportJob, error) {
	return s.repo.ListExportJobs(ctx, listID, limit)
}

func (s *ListService) CancelExport(ctx context.Context, id string) (*domain.ExportJob, error) {
	return s.exports.Cancel(ctx, id)
}

// Content pages the list's current readable content, which is the content of its
// success generation. after is the sort sequence of the last row already seen,
// -1 to start.
func (s *ListService) Content(ctx context.Context, listID string, after int64, limit int) (*domain.ContentPage, error) {
	l, err := s.repo.GetList(ctx, listID)
	if err != nil {
		return nil, err
	}
	if l.SuccessGenerationID == "" {
		return nil, fmt.Errorf("list %s: %w", listID, domain.ErrNoSuccessGeneration)
	}
	if limit <= 0 {
		limit = defaultContentLimit
	}
	if limit > maxContentLimit {
		limit = maxContentLimit
	}
	if after < -1 {
		after = -1
	}

	rows, err := s.repo.ContentPage(ctx, listID, l.SuccessGenerationID, after, limit+1)
	if err != nil {
		return nil, err
	}
	page := &domain.ContentPage{ListID: listID, GenerationID: l.SuccessGenerationID, NextCursor: after}
	if len(rows) > limit {
		page.HasMore = true
		rows = rows[:limit]
	}
	page.ContentIDs = make([]string, len(rows))
	for i, r := range rows {
		page.ContentIDs[i] = r.ContentID
	}
	if len(rows) > 0 {
		page.NextCursor = rows[len(rows)-1].SortSeq
	}
	return page, nil
}
