package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ishimwe-dev/docextract/constants"
	"github.com/ishimwe-dev/docextract/internal/artifact"
	"github.com/ishimwe-dev/docextract/internal/llm"
	"github.com/ishimwe-dev/docextract/internal/ratelimit"
	"github.com/ishimwe-dev/docextract/internal/repository"
	"github.com/ishimwe-dev/docextract/internal/webhook"
)

// twoPagePDF parses as two page objects, so an extraction costs two credits
// at the default page cost.
const twoPagePDF = "%PDF-1.4\n1 0 obj << /Type /Pages >>\n2 0 obj << /Type /Page >>\n3 0 obj << /Type /Page >>\n"

type stubProvider struct {
	mu      sync.Mutex
	results map[string]llm.FieldValue
	err     error
	calls   int

	// hang makes Extract block until the caller's context expires, standing
	// in for a provider call that outlives the per-job deadline.
	hang bool

	tplDefs []llm.FieldDef
	tplErr  error
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Extract(ctx context.Context, _ llm.ExtractRequest) (map[string]llm.FieldValue, []byte, error) {
	s.mu.Lock()
	s.calls++
	hang := s.hang
	s.mu.Unlock()
	if hang {
		<-ctx.Done()
		return nil, nil, ctx.Err()
	}
	if s.err != nil {
		return nil, nil, s.err
	}
	return s.results, []byte("{}"), nil
}

func (s *stubProvider) GenerateTemplate(_ context.Context, _ []byte, _ string) ([]llm.FieldDef, []byte, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.tplErr != nil {
		return nil, nil, s.tplErr
	}
	return s.tplDefs, []byte("{}"), nil
}

func (s *stubProvider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type hookSink struct {
	mu       sync.Mutex
	payloads []map[string]any
	server   *httptest.Server
}

func newHookSink(t *testing.T) *hookSink {
	t.Helper()
	h := &hookSink{}
	h.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		h.mu.Lock()
		h.payloads = append(h.payloads, p)
		h.mu.Unlock()
	}))
	t.Cleanup(h.server.Close)
	return h
}

func (h *hookSink) received() []map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]map[string]any, len(h.payloads))
	copy(out, h.payloads)
	return out
}

type procEnv struct {
	store    *repository.Store
	credits  repository.CreditsRepository
	docs     repository.DocumentRepository
	tpls     repository.TemplateRepository
	jobs     repository.JobRepository
	fields   repository.ExtractedFieldRepository
	usage    repository.UsageRepository
	provider *stubProvider
	hooks    *hookSink
	proc     *Processor
	orgID    uuid.UUID
	dir      string
}

func newProcEnv(t *testing.T, startBalance int64) *procEnv {
	t.Helper()
	ctx := context.Background()

	store, err := repository.Open(ctx, repository.Config{DSN: filepath.Join(t.TempDir(), "test.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(nil) })
	require.NoError(t, store.Migrate(ctx, nil))

	e := &procEnv{
		store:    store,
		credits:  repository.NewCreditsRepository(store, nil),
		docs:     repository.NewDocumentRepository(store, nil),
		tpls:     repository.NewTemplateRepository(store, nil),
		jobs:     repository.NewJobRepository(store, nil),
		fields:   repository.NewExtractedFieldRepository(store, nil),
		usage:    repository.NewUsageRepository(store, nil),
		provider: &stubProvider{},
		hooks:    newHookSink(t),
		orgID:    uuid.New(),
		dir:      t.TempDir(),
	}
	if startBalance > 0 {
		require.NoError(t, e.credits.EnsureAccount(ctx, e.orgID))
		_, err := e.credits.Refund(ctx, e.orgID, startBalance, "topup", "seed:"+e.orgID.String())
		require.NoError(t, err)
	}

	e.proc = NewProcessor(ProcessorParams{
		Documents:       e.docs,
		Templates:       e.tpls,
		Jobs:            e.jobs,
		Fields:          e.fields,
		Usage:           e.usage,
		Credits:         e.credits,
		Provider:        e.provider,
		TemplateGen:     e.provider,
		Fetcher:         artifact.NewFetcher(time.Second, nil),
		Notifier:        webhook.NewNotifier(time.Second, nil),
		Limiter:         ratelimit.New(1000, 4),
		PageCost:        1,
		TemplateGenCost: 1,
	})
	return e
}

func (e *procEnv) writeArtifact(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// newExtractionJob registers a document for the artifact, a template with the
// given fields and webhook, and a queued job tying them together.
func (e *procEnv) newExtractionJob(t *testing.T, artifactPath string, fields []repository.NewTemplateField) (uuid.UUID, uuid.UUID, uuid.UUID) {
	t.Helper()
	ctx := context.Background()

	doc, err := e.docs.Create(ctx, e.orgID, "REF-1", artifactPath, 1)
	require.NoError(t, err)
	tpl, err := e.tpls.CreateWithFields(ctx, e.orgID, "Birth Certificate "+uuid.NewString()[:8], "", fields)
	require.NoError(t, err)
	_, err = e.store.DB.Exec(`UPDATE templates SET webhook_url = ? WHERE id = ?`,
		e.hooks.server.URL, tpl.ID.String())
	require.NoError(t, err)

	docID, tplID := doc.ID, tpl.ID
	job, err := e.jobs.Create(ctx, repository.NewJobParams{
		OrgID:      e.orgID,
		Kind:       constants.JobKindExtraction,
		DocumentID: &docID,
		TemplateID: &tplID,
	})
	require.NoError(t, err)
	return job.ID, doc.ID, tpl.ID
}

func (e *procEnv) balance(t *testing.T) int64 {
	t.Helper()
	balance, err := e.credits.Balance(context.Background(), e.orgID)
	require.NoError(t, err)
	return balance
}

func registryFields() []repository.NewTemplateField {
	return []repository.NewTemplateField{
		{Name: "cell", Label: "Cell", FieldType: constants.FieldTypeString, Required: true},
		{Name: "birth_year", Label: "Birth Year", FieldType: constants.FieldTypeNumber},
	}
}

func TestRunExtractionSuccess(t *testing.T) {
	ctx := context.Background()
	e := newProcEnv(t, 10)
	path := e.writeArtifact(t, "cert.pdf", twoPagePDF)
	jobID, docID, _ := e.newExtractionJob(t, path, registryFields())

	e.provider.results = map[string]llm.FieldValue{
		"cell":       {Value: "Р-emera", Confidence: 0.9},
		"birth_year": {Value: float64(2015), Confidence: 0.95},
	}

	e.proc.Run(ctx, jobID)

	job, err := e.jobs.GetByID(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusSucceeded, job.Status)
	assert.Equal(t, "stub", job.Provider)

	// Two pages at unit cost 1.
	assert.Equal(t, int64(8), e.balance(t))

	extracted, err := e.fields.ListByDocument(ctx, docID)
	require.NoError(t, err)
	require.Len(t, extracted, 2)
	byValue := map[string]float32{}
	for _, f := range extracted {
		byValue[f.Value] = f.Confidence
	}
	// Look-alike correction applied with its confidence penalty.
	require.Contains(t, byValue, "Remera")
	assert.InDelta(t, 0.765, byValue["Remera"], 0.0001)
	assert.Contains(t, byValue, "2015")

	records, err := e.usage.ListByOrg(ctx, e.orgID, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(2), records[0].CreditsUsed)
	assert.Equal(t, "succeeded", records[0].Status)
	require.NotNil(t, records[0].DurationMS)

	hooks := e.hooks.received()
	require.Len(t, hooks, 1)
	assert.Equal(t, jobID.String(), hooks[0]["job_id"])
	assert.Equal(t, "succeeded", hooks[0]["status"])
	ext, ok := hooks[0]["extracted"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Remera", ext["cell"])

	// Re-invoking a succeeded job is a pure no-op: same field rows, same
	// single usage record, no extra callback or charge.
	e.proc.Run(ctx, jobID)
	extracted, err = e.fields.ListByDocument(ctx, docID)
	require.NoError(t, err)
	assert.Len(t, extracted, 2)
	records, err = e.usage.ListByOrg(ctx, e.orgID, 10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Len(t, e.hooks.received(), 1)
	assert.Equal(t, int64(8), e.balance(t))
}

func TestRunExtractionProviderFailure(t *testing.T) {
	ctx := context.Background()
	e := newProcEnv(t, 10)
	path := e.writeArtifact(t, "cert.pdf", twoPagePDF)
	jobID, docID, _ := e.newExtractionJob(t, path, registryFields())

	e.provider.err = errors.New("model unavailable")

	e.proc.Run(ctx, jobID)

	job, err := e.jobs.GetByID(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "model unavailable")

	// Debit happened before the call and was refunded after the failure.
	assert.Equal(t, int64(10), e.balance(t))
	balance, ledgerSum, err := e.credits.Reconcile(ctx, e.orgID)
	require.NoError(t, err)
	assert.Equal(t, balance, ledgerSum)

	records, err := e.usage.ListByOrg(ctx, e.orgID, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(0), records[0].CreditsUsed)
	assert.Equal(t, "failed", records[0].Status)
	assert.Contains(t, records[0].ErrorMessage, "model unavailable")

	hooks := e.hooks.received()
	require.Len(t, hooks, 1)
	assert.Equal(t, "failed", hooks[0]["status"])
	assert.Contains(t, hooks[0]["error_message"], "model unavailable")

	// Terminal jobs are not rerun: no extra provider call, no double refund,
	// and no duplicate usage or extracted-field rows.
	calls := e.provider.callCount()
	e.proc.Run(ctx, jobID)
	assert.Equal(t, calls, e.provider.callCount())
	assert.Equal(t, int64(10), e.balance(t))
	records, err = e.usage.ListByOrg(ctx, e.orgID, 10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	extracted, err := e.fields.ListByDocument(ctx, docID)
	require.NoError(t, err)
	assert.Empty(t, extracted)
}

func TestRunExtractionDeadlineStillFailsAndRefunds(t *testing.T) {
	e := newProcEnv(t, 10)
	path := e.writeArtifact(t, "cert.pdf", twoPagePDF)
	jobID, _, _ := e.newExtractionJob(t, path, registryFields())

	e.provider.hang = true

	// Simulate the worker's per-job timeout firing mid-provider-call. The
	// bookkeeping must land anyway: failed status, refunded charge, usage row.
	runCtx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	e.proc.Run(runCtx, jobID)

	ctx := context.Background()
	job, err := e.jobs.GetByID(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, job.Status)
	assert.NotEmpty(t, job.ErrorMessage)

	assert.Equal(t, int64(10), e.balance(t))
	balance, ledgerSum, err := e.credits.Reconcile(ctx, e.orgID)
	require.NoError(t, err)
	assert.Equal(t, balance, ledgerSum)

	records, err := e.usage.ListByOrg(ctx, e.orgID, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "failed", records[0].Status)
	assert.Equal(t, int64(0), records[0].CreditsUsed)
}

func TestRunExtractionInsufficientCredits(t *testing.T) {
	ctx := context.Background()
	e := newProcEnv(t, 1)
	path := e.writeArtifact(t, "cert.pdf", twoPagePDF)
	jobID, _, _ := e.newExtractionJob(t, path, registryFields())

	e.proc.Run(ctx, jobID)

	job, err := e.jobs.GetByID(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "insufficient credits")

	// Nothing was charged, nothing refunded, no provider call.
	assert.Equal(t, int64(1), e.balance(t))
	assert.Zero(t, e.provider.callCount())
}

func TestRunExtractionErrorMessageBounded(t *testing.T) {
	ctx := context.Background()
	e := newProcEnv(t, 10)
	path := e.writeArtifact(t, "cert.pdf", twoPagePDF)
	jobID, _, _ := e.newExtractionJob(t, path, registryFields())

	e.provider.err = errors.New(strings.Repeat("boom ", 1000))

	e.proc.Run(ctx, jobID)

	job, err := e.jobs.GetByID(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, job.Status)
	assert.Len(t, job.ErrorMessage, 2000)
}

func TestRunSkipsCancelledJob(t *testing.T) {
	ctx := context.Background()
	e := newProcEnv(t, 10)
	path := e.writeArtifact(t, "cert.pdf", twoPagePDF)
	jobID, _, _ := e.newExtractionJob(t, path, registryFields())

	require.NoError(t, e.jobs.Cancel(ctx, jobID))
	e.proc.Run(ctx, jobID)

	job, err := e.jobs.GetByID(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCancelled, job.Status)
	assert.Zero(t, e.provider.callCount())
	assert.Equal(t, int64(10), e.balance(t))
}

func TestRunExtractionMissingDocument(t *testing.T) {
	ctx := context.Background()
	e := newProcEnv(t, 10)

	ghost := uuid.New()
	job, err := e.jobs.Create(ctx, repository.NewJobParams{
		OrgID:      e.orgID,
		Kind:       constants.JobKindExtraction,
		DocumentID: &ghost,
	})
	require.NoError(t, err)

	e.proc.Run(ctx, job.ID)

	got, err := e.jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "DOCUMENT_NOT_FOUND")
	assert.Equal(t, int64(10), e.balance(t))
}

func TestRunTemplateGenSuccess(t *testing.T) {
	ctx := context.Background()
	e := newProcEnv(t, 5)
	path := e.writeArtifact(t, "invoice.pdf", twoPagePDF)

	e.provider.tplDefs = []llm.FieldDef{
		{Name: "invoice_number", Label: "Invoice Number", FieldType: "string", Required: true},
		{Name: "total_amount", Label: "Total Amount", FieldType: "number"},
	}
	job, err := e.jobs.Create(ctx, repository.NewJobParams{
		OrgID:       e.orgID,
		Kind:        constants.JobKindTemplateGen,
		SourceURL:   path,
		RequestName: "Invoice",
	})
	require.NoError(t, err)

	e.proc.Run(ctx, job.ID)

	got, err := e.jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusSucceeded, got.Status)
	require.NotNil(t, got.TemplateID)

	tpl, err := e.tpls.GetByID(ctx, *got.TemplateID)
	require.NoError(t, err)
	assert.Equal(t, "Invoice", tpl.Name)

	fields, err := e.tpls.ListFields(ctx, tpl.ID)
	require.NoError(t, err)
	require.Len(t, fields, 2)
	assert.Equal(t, "invoice_number", fields[0].Name)
	assert.Equal(t, constants.FieldTypeNumber, fields[1].FieldType)

	// Flat template-generation price.
	assert.Equal(t, int64(4), e.balance(t))
}

func TestRunTemplateGenNameCollision(t *testing.T) {
	ctx := context.Background()
	e := newProcEnv(t, 5)
	path := e.writeArtifact(t, "invoice.pdf", twoPagePDF)

	_, err := e.tpls.CreateWithFields(ctx, e.orgID, "Invoice", "", nil)
	require.NoError(t, err)

	e.provider.tplDefs = []llm.FieldDef{{Name: "total", Label: "Total", FieldType: "number"}}
	job, err := e.jobs.Create(ctx, repository.NewJobParams{
		OrgID:       e.orgID,
		Kind:        constants.JobKindTemplateGen,
		SourceURL:   path,
		RequestName: "Invoice",
	})
	require.NoError(t, err)

	e.proc.Run(ctx, job.ID)

	got, err := e.jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.TemplateID)
	tpl, err := e.tpls.GetByID(ctx, *got.TemplateID)
	require.NoError(t, err)
	assert.Equal(t, "Invoice (1)", tpl.Name)
}

func TestRunTemplateGenFailureRefunds(t *testing.T) {
	ctx := context.Background()
	e := newProcEnv(t, 5)
	path := e.writeArtifact(t, "invoice.pdf", twoPagePDF)

	e.provider.tplErr = errors.New("inference failed")
	job, err := e.jobs.Create(ctx, repository.NewJobParams{
		OrgID:     e.orgID,
		Kind:      constants.JobKindTemplateGen,
		SourceURL: path,
	})
	require.NoError(t, err)

	e.proc.Run(ctx, job.ID)

	got, err := e.jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, got.Status)
	assert.Nil(t, got.TemplateID)
	assert.Equal(t, int64(5), e.balance(t))
}
