package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ishimwe-dev/docextract/constants"
	"github.com/ishimwe-dev/docextract/internal/artifact"
	"github.com/ishimwe-dev/docextract/internal/common"
	"github.com/ishimwe-dev/docextract/internal/entity"
	"github.com/ishimwe-dev/docextract/internal/llm"
	"github.com/ishimwe-dev/docextract/internal/normalize"
	"github.com/ishimwe-dev/docextract/internal/ratelimit"
	"github.com/ishimwe-dev/docextract/internal/repository"
	"github.com/ishimwe-dev/docextract/internal/webhook"
)

// Processor drives one job attempt end-to-end: claim, charge, fetch, extract,
// normalize, persist, account, notify. Fatal errors become a failed job plus
// an idempotent refund; they are never re-raised to the task runner.
type Processor struct {
	logger      *slog.Logger
	docs        repository.DocumentRepository
	templates   repository.TemplateRepository
	jobs        repository.JobRepository
	fields      repository.ExtractedFieldRepository
	usage       repository.UsageRepository
	credits     repository.CreditsRepository
	provider    llm.Provider
	templateGen llm.TemplateGenerator
	fetcher     artifact.Fetcher
	notifier    webhook.Notifier
	limiter     *ratelimit.Limiter

	pageCost         int64
	templateGenCost  int64
	artifactCacheDir string
}

// ProcessorParams wires the processor's collaborators.
type ProcessorParams struct {
	Logger      *slog.Logger
	Documents   repository.DocumentRepository
	Templates   repository.TemplateRepository
	Jobs        repository.JobRepository
	Fields      repository.ExtractedFieldRepository
	Usage       repository.UsageRepository
	Credits     repository.CreditsRepository
	Provider    llm.Provider
	TemplateGen llm.TemplateGenerator
	Fetcher     artifact.Fetcher
	Notifier    webhook.Notifier
	Limiter     *ratelimit.Limiter

	// PageCost is the credit price per artifact page; zero disables
	// charging for plain extraction jobs.
	PageCost        int64
	TemplateGenCost int64
	// ArtifactCacheDir holds ephemeral local artifact copies; artifacts
	// under it are removed after a run.
	ArtifactCacheDir string
}

func NewProcessor(p ProcessorParams) *Processor {
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.TemplateGenCost == 0 {
		p.TemplateGenCost = 1
	}
	return &Processor{
		logger:           p.Logger,
		docs:             p.Documents,
		templates:        p.Templates,
		jobs:             p.Jobs,
		fields:           p.Fields,
		usage:            p.Usage,
		credits:          p.Credits,
		provider:         p.Provider,
		templateGen:      p.TemplateGen,
		fetcher:          p.Fetcher,
		notifier:         p.Notifier,
		limiter:          p.Limiter,
		pageCost:         p.PageCost,
		templateGenCost:  p.TemplateGenCost,
		artifactCacheDir: p.ArtifactCacheDir,
	}
}

// finalizeTimeout bounds the terminal bookkeeping writes, which run on a
// context detached from the (possibly expired) per-job context.
const finalizeTimeout = 30 * time.Second

// runState accumulates everything the failure path needs, so a fault at any
// step still produces a correct usage record, refund and callback.
type runState struct {
	job       *entity.Job
	doc       *entity.Document
	tpl       *entity.Template
	charged   int64
	queueSize int
	duration  *int64
	extracted map[string]string
	startedAt time.Time
	localPath string
}

// Run executes one attempt of the given job. It is safe to invoke again on a
// finished job: terminal states short-circuit before any side effect, and a
// lost claim race is a no-op.
func (p *Processor) Run(ctx context.Context, jobID uuid.UUID) {
	job, err := p.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			p.logger.Warn("processor.job_missing", "job_id", jobID)
			return
		}
		p.logger.Error("processor.load_failed", "job_id", jobID, "err", err)
		return
	}
	if job.Status.Terminal() {
		p.logger.Info("processor.terminal_noop", "job_id", jobID, "status", job.Status)
		return
	}

	claimed, err := p.jobs.Claim(ctx, jobID, p.provider.Name())
	if err != nil {
		p.logger.Error("processor.claim_failed", "job_id", jobID, "err", err)
		return
	}
	if !claimed {
		p.logger.Info("processor.already_claimed", "job_id", jobID)
		return
	}

	st := &runState{job: job, startedAt: time.Now().UTC()}
	switch job.Kind {
	case constants.JobKindExtraction:
		err = p.runExtraction(ctx, st)
	case constants.JobKindTemplateGen:
		err = p.runTemplateGen(ctx, st)
	default:
		err = fmt.Errorf("unknown job kind %q", job.Kind)
	}
	if err != nil {
		p.fail(ctx, st, err)
		return
	}
	p.succeed(ctx, st)
}

func (p *Processor) runExtraction(ctx context.Context, st *runState) error {
	job := st.job
	if job.DocumentID == nil {
		return common.NewAppError("JOB_INVALID", "extraction job has no document", common.ErrInvalidInput)
	}

	doc, err := p.docs.GetByID(ctx, job.OrgID, *job.DocumentID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return common.NewAppError("DOCUMENT_NOT_FOUND", "document not found for job", err)
		}
		return err
	}
	st.doc = doc
	st.localPath = p.ephemeralPath(doc.URL)

	data, contentType, err := p.fetcher.Fetch(ctx, doc.URL)
	if err != nil {
		return common.NewAppError("ARTIFACT_FETCH", "fetch artifact", err)
	}
	pages := artifact.PageCount(data, contentType)

	var (
		tplFields []entity.TemplateField
		schema    map[string]any
	)
	if job.TemplateID != nil {
		tpl, err := p.templates.GetByID(ctx, *job.TemplateID)
		if err != nil {
			return fmt.Errorf("load template: %w", err)
		}
		st.tpl = tpl
		if tplFields, err = p.templates.ListFields(ctx, tpl.ID); err != nil {
			return err
		}
		schema = llm.BuildFieldSchema(tplFields)
	}
	prompt := llm.BuildSystemPrompt(tplFields)

	// Charge before the expensive work so a dead provider can't run up
	// uncollected cost. The deterministic key makes re-dispatch safe.
	if p.pageCost > 0 {
		cost := int64(pages) * p.pageCost
		res, err := p.credits.Debit(ctx, job.OrgID, cost, "extraction", "debit:"+job.ID.String())
		if err != nil {
			return err
		}
		st.charged = cost
		if res.AlreadyProcessed {
			p.logger.Info("processor.debit_replayed", "job_id", job.ID)
		}
	}

	results, err := p.extractWithLimiter(ctx, st, llm.ExtractRequest{
		Data:        data,
		ContentType: contentType,
		Schema:      schema,
		Prompt:      prompt,
	})
	if err != nil {
		return common.NewAppError("PROVIDER_ERROR", "provider extraction failed", err)
	}

	st.extracted = make(map[string]string, len(tplFields))
	for _, f := range tplFields {
		raw, conf := rawFieldValue(results, f.Name)
		norm := normalize.Field(f.Name, f.FieldType, raw, conf)
		if norm.Corrections > 0 {
			p.logger.Debug("processor.normalized",
				"job_id", job.ID, "field", f.Name,
				"raw", raw, "value", norm.Value, "corrections", norm.Corrections)
		}
		if err := p.fields.Upsert(ctx, doc.ID, f.ID, norm.Value, norm.Confidence); err != nil {
			return err
		}
		st.extracted[f.Name] = norm.Value
	}

	return p.jobs.MarkSucceeded(ctx, job.ID)
}

// extractWithLimiter holds a limiter slot for exactly the duration of the
// provider call; the slot is released even when the call fails.
func (p *Processor) extractWithLimiter(ctx context.Context, st *runState, req llm.ExtractRequest) (map[string]llm.FieldValue, error) {
	queued, err := p.limiter.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer p.limiter.Release()
	st.queueSize = queued

	callStart := time.Now()
	defer st.setDuration(callStart)
	results, _, err := p.provider.Extract(ctx, req)
	return results, err
}

func (p *Processor) succeed(ctx context.Context, st *runState) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	p.cleanupArtifact(st)
	p.recordUsage(ctx, st, string(constants.JobStatusSucceeded), st.charged, "")
	p.deliverCallback(ctx, st, string(constants.JobStatusSucceeded), "")
	p.logger.Info("processor.succeeded", "job_id", st.job.ID, "kind", st.job.Kind,
		"credits_used", st.charged, "queue_size", st.queueSize)
}

// fail converts any error from the run into a failed job, a zero-credit usage
// record, an idempotent refund of whatever was charged, and a failure-shaped
// callback. Nothing here propagates.
func (p *Processor) fail(ctx context.Context, st *runState, cause error) {
	// The per-job context may already be expired when the run fails on its
	// deadline; detach so the terminal transition, usage record and refund
	// still land instead of leaving the job running with the charge kept.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	job := st.job
	msg := cause.Error()
	if msg == "" {
		msg = "error"
	}
	if err := p.jobs.MarkFailed(ctx, job.ID, msg); err != nil {
		p.logger.Error("processor.mark_failed_error", "job_id", job.ID, "err", err)
	}
	p.cleanupArtifact(st)
	p.recordUsage(ctx, st, string(constants.JobStatusFailed), 0, msg)

	if st.charged > 0 {
		reason := "refund_" + string(job.Kind)
		if _, err := p.credits.Refund(ctx, job.OrgID, st.charged, reason, "refund:"+job.ID.String()); err != nil {
			p.logger.Error("processor.refund_failed", "job_id", job.ID, "amount", st.charged, "err", err)
		}
	}
	p.deliverCallback(ctx, st, string(constants.JobStatusFailed), common.Truncate(msg, 2000))
	p.logger.Warn("processor.failed", "job_id", job.ID, "kind", job.Kind, "err", cause)
}

func (p *Processor) recordUsage(ctx context.Context, st *runState, status string, creditsUsed int64, errMsg string) {
	now := time.Now().UTC()
	rec := &entity.UsageRecord{
		JobID:        st.job.ID,
		OrgID:        st.job.OrgID,
		CreditsUsed:  creditsUsed,
		Status:       status,
		ErrorMessage: errMsg,
		QueueSize:    st.queueSize,
		DurationMS:   st.duration,
		StartedAt:    &st.startedAt,
		CompletedAt:  &now,
	}
	if st.doc != nil {
		rec.DocumentID = st.doc.ID.String()
	}
	if st.tpl != nil {
		id := st.tpl.ID
		rec.TemplateID = &id
	} else if st.job.TemplateID != nil {
		rec.TemplateID = st.job.TemplateID
	}
	if err := p.usage.Record(ctx, rec); err != nil {
		p.logger.Error("processor.usage_record_failed", "job_id", st.job.ID, "err", err)
	}
}

// deliverCallback is best-effort: failures are logged and swallowed.
func (p *Processor) deliverCallback(ctx context.Context, st *runState, status, errMsg string) {
	if st.tpl == nil || st.tpl.WebhookURL == "" || st.job.Kind != constants.JobKindExtraction {
		return
	}
	now := time.Now().UTC()
	payload := webhook.Payload{
		JobID:        st.job.ID.String(),
		Status:       status,
		TemplateID:   st.tpl.ID.String(),
		Extracted:    st.extracted,
		ErrorMessage: errMsg,
		CompletedAt:  &now,
	}
	if st.doc != nil {
		payload.Document = webhook.DocumentRef{
			ID:        st.doc.ID.String(),
			Reference: st.doc.Reference,
			URL:       st.doc.URL,
		}
	}
	if err := p.notifier.Deliver(ctx, st.tpl.WebhookURL, payload); err != nil {
		p.logger.Warn("processor.callback_failed", "job_id", st.job.ID, "url", st.tpl.WebhookURL, "err", err)
		return
	}
	p.logger.Info("processor.callback_delivered", "job_id", st.job.ID, "status", status)
}

// cleanupArtifact removes an ephemeral local copy, best effort.
func (p *Processor) cleanupArtifact(st *runState) {
	if st.localPath == "" {
		return
	}
	if err := os.Remove(st.localPath); err != nil && !os.IsNotExist(err) {
		p.logger.Warn("processor.cleanup_failed", "path", st.localPath, "err", err)
	}
}

// ephemeralPath reports whether the locator is a local file inside the
// artifact cache, the only thing we are allowed to delete.
func (p *Processor) ephemeralPath(locator string) string {
	if p.artifactCacheDir == "" ||
		strings.HasPrefix(locator, "http://") || strings.HasPrefix(locator, "https://") {
		return ""
	}
	dir, err := filepath.Abs(p.artifactCacheDir)
	if err != nil {
		return ""
	}
	path, err := filepath.Abs(locator)
	if err != nil {
		return ""
	}
	if !strings.HasPrefix(path, dir+string(filepath.Separator)) {
		return ""
	}
	return path
}

func (st *runState) setDuration(from time.Time) {
	ms := time.Since(from).Milliseconds()
	st.duration = &ms
}

// rawFieldValue stringifies a provider value for normalization. Whole-number
// floats render without a decimal suffix.
func rawFieldValue(results map[string]llm.FieldValue, name string) (string, float32) {
	fv, ok := results[name]
	if !ok || fv.Value == nil {
		return "", 0
	}
	switch v := fv.Value.(type) {
	case string:
		return v, fv.Confidence
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), fv.Confidence
	case bool:
		return strconv.FormatBool(v), fv.Confidence
	default:
		return fmt.Sprintf("%v", v), fv.Confidence
	}
}
