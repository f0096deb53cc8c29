package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ishimwe-dev/docextract/constants"
	"github.com/ishimwe-dev/docextract/internal/common"
	"github.com/ishimwe-dev/docextract/internal/repository"
)

// runTemplateGen turns a source document into a stored template: charge the
// flat price, infer field definitions, persist them under a collision-free
// name and stamp the job with the new template ID.
func (p *Processor) runTemplateGen(ctx context.Context, st *runState) error {
	job := st.job
	if job.SourceURL == "" {
		return common.NewAppError("JOB_INVALID", "template job has no source", common.ErrInvalidInput)
	}
	st.localPath = p.ephemeralPath(job.SourceURL)

	res, err := p.credits.Debit(ctx, job.OrgID, p.templateGenCost, "template_gen", "debit:"+job.ID.String())
	if err != nil {
		return err
	}
	st.charged = p.templateGenCost
	if res.AlreadyProcessed {
		p.logger.Info("processor.debit_replayed", "job_id", job.ID)
	}

	data, contentType, err := p.fetcher.Fetch(ctx, job.SourceURL)
	if err != nil {
		return common.NewAppError("ARTIFACT_FETCH", "fetch source", err)
	}

	queued, err := p.limiter.Acquire(ctx)
	if err != nil {
		return err
	}
	st.queueSize = queued
	callStart := time.Now()
	defs, _, genErr := p.templateGen.GenerateTemplate(ctx, data, contentType)
	p.limiter.Release()
	st.setDuration(callStart)
	if genErr != nil {
		return common.NewAppError("PROVIDER_ERROR", "template inference failed", genErr)
	}

	name, err := p.availableTemplateName(ctx, job.OrgID, job.RequestName)
	if err != nil {
		return err
	}
	fields := make([]repository.NewTemplateField, 0, len(defs))
	for _, d := range defs {
		fields = append(fields, repository.NewTemplateField{
			Name:        d.Name,
			Label:       d.Label,
			FieldType:   constants.CanonicalFieldType(d.FieldType),
			Required:    d.Required,
			Description: d.Description,
		})
	}
	desc := common.Truncate(job.RequestDesc, 500)
	tpl, err := p.templates.CreateWithFields(ctx, job.OrgID, name, desc, fields)
	if err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	st.tpl = tpl

	if err := p.jobs.SetTemplateID(ctx, job.ID, tpl.ID); err != nil {
		return err
	}
	return p.jobs.MarkSucceeded(ctx, job.ID)
}

// availableTemplateName keeps suffixing "(n)" until the requested name is free
// within the org.
func (p *Processor) availableTemplateName(ctx context.Context, orgID uuid.UUID, requested string) (string, error) {
	base := strings.TrimSpace(requested)
	if base == "" {
		base = "Generated Template"
	}
	base = common.Truncate(base, 200)
	name := base
	for suffix := 1; ; suffix++ {
		exists, err := p.templates.NameExists(ctx, orgID, name)
		if err != nil {
			return "", err
		}
		if !exists {
			return name, nil
		}
		name = fmt.Sprintf("%s (%d)", base, suffix)
	}
}
