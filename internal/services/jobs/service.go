package jobs

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/ishimwe-dev/docextract/constants"
	"github.com/ishimwe-dev/docextract/internal/common"
	"github.com/ishimwe-dev/docextract/internal/core/async"
	"github.com/ishimwe-dev/docextract/internal/entity"
	"github.com/ishimwe-dev/docextract/internal/repository"
)

// Service handles job submission, scheduling and cancellation.
type Service struct {
	jobRepo repository.JobRepository
	docRepo repository.DocumentRepository
	tplRepo repository.TemplateRepository
	queue   async.Queue
	logger  *slog.Logger
}

func NewService(j repository.JobRepository, d repository.DocumentRepository, t repository.TemplateRepository, q async.Queue, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		jobRepo: j,
		docRepo: d,
		tplRepo: t,
		queue:   q,
		logger:  logger,
	}
}

// ExtractionRequest represents an extraction job submission.
type ExtractionRequest struct {
	OrgID      uuid.UUID
	DocumentID uuid.UUID
	TemplateID *uuid.UUID
}

// TemplateGenRequest represents a template-inference job submission.
type TemplateGenRequest struct {
	OrgID       uuid.UUID
	SourceURL   string
	Name        string
	Description string
}

// CreateExtractionJob validates the referenced document and optional template,
// persists a queued job and hands it to the worker pool.
func (s *Service) CreateExtractionJob(ctx context.Context, req ExtractionRequest) (*entity.Job, error) {
	if _, err := s.docRepo.GetByID(ctx, req.OrgID, req.DocumentID); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			s.logger.Error("document not found for job", "org_id", req.OrgID, "document_id", req.DocumentID)
			return nil, common.NewAppError("DOCUMENT_NOT_FOUND", "document not found", err)
		}
		return nil, err
	}
	if req.TemplateID != nil {
		tpl, err := s.tplRepo.GetByID(ctx, *req.TemplateID)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return nil, common.NewAppError("TEMPLATE_NOT_FOUND", "template not found", err)
			}
			return nil, err
		}
		if tpl.OrgID != req.OrgID {
			return nil, common.NewAppError("TEMPLATE_NOT_FOUND", "template not found", common.ErrNotFound)
		}
	}

	docID := req.DocumentID
	job, err := s.jobRepo.Create(ctx, repository.NewJobParams{
		OrgID:      req.OrgID,
		Kind:       constants.JobKindExtraction,
		DocumentID: &docID,
		TemplateID: req.TemplateID,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("extraction job created", "job_id", job.ID, "org_id", req.OrgID, "document_id", docID)
	return job, s.Schedule(ctx, job.ID)
}

// CreateTemplateJob persists a queued template-inference job and hands it to
// the worker pool.
func (s *Service) CreateTemplateJob(ctx context.Context, req TemplateGenRequest) (*entity.Job, error) {
	source := strings.TrimSpace(req.SourceURL)
	if source == "" {
		s.logger.Error("template job missing source", "org_id", req.OrgID)
		return nil, common.NewAppError("SOURCE_REQUIRED", "source url is required", common.ErrInvalidInput)
	}

	job, err := s.jobRepo.Create(ctx, repository.NewJobParams{
		OrgID:       req.OrgID,
		Kind:        constants.JobKindTemplateGen,
		SourceURL:   source,
		RequestName: strings.TrimSpace(req.Name),
		RequestDesc: strings.TrimSpace(req.Description),
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("template job created", "job_id", job.ID, "org_id", req.OrgID)
	return job, s.Schedule(ctx, job.ID)
}

// Schedule enqueues a job ID for asynchronous processing.
func (s *Service) Schedule(ctx context.Context, jobID uuid.UUID) error {
	return s.queue.Enqueue(ctx, async.Task{JobID: jobID, SubmittedAt: time.Now().UTC()})
}

// Cancel stops a job that has not started yet. A job already claimed by a
// worker cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, jobID uuid.UUID) error {
	err := s.jobRepo.Cancel(ctx, jobID)
	if err != nil {
		if errors.Is(err, common.ErrAlreadyClaimed) {
			s.logger.Warn("cancel rejected, job already started", "job_id", jobID)
		}
		return err
	}
	s.logger.Info("job cancelled", "job_id", jobID)
	return nil
}

// Get returns the current job row.
func (s *Service) Get(ctx context.Context, jobID uuid.UUID) (*entity.Job, error) {
	return s.jobRepo.GetByID(ctx, jobID)
}
