package repository

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ishimwe-dev/docextract/constants"
	"github.com/ishimwe-dev/docextract/internal/common"
)

func createQueuedJob(t *testing.T, repo JobRepository, kind constants.JobKind) uuid.UUID {
	t.Helper()
	docID := uuid.New()
	p := NewJobParams{OrgID: uuid.New(), Kind: kind}
	if kind == constants.JobKindExtraction {
		p.DocumentID = &docID
	} else {
		p.SourceURL = "https://example.com/sample.pdf"
	}
	job, err := repo.Create(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, constants.JobStatusQueued, job.Status)
	return job.ID
}

func TestClaimWinsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(newTestStore(t), nil)
	jobID := createQueuedJob(t, repo, constants.JobKindExtraction)

	claimed, err := repo.Claim(ctx, jobID, "gemini")
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = repo.Claim(ctx, jobID, "gemini")
	require.NoError(t, err)
	assert.False(t, claimed)

	job, err := repo.GetByID(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusRunning, job.Status)
	assert.Equal(t, "gemini", job.Provider)
	require.NotNil(t, job.StartedAt)
}

func TestClaimRefusesTerminal(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(newTestStore(t), nil)
	jobID := createQueuedJob(t, repo, constants.JobKindExtraction)

	_, err := repo.Claim(ctx, jobID, "gemini")
	require.NoError(t, err)
	require.NoError(t, repo.MarkSucceeded(ctx, jobID))

	claimed, err := repo.Claim(ctx, jobID, "gemini")
	require.NoError(t, err)
	assert.False(t, claimed)

	job, err := repo.GetByID(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusSucceeded, job.Status)
	require.NotNil(t, job.CompletedAt)
}

func TestCancelOnlyWhileQueued(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(newTestStore(t), nil)

	queued := createQueuedJob(t, repo, constants.JobKindExtraction)
	require.NoError(t, repo.Cancel(ctx, queued))
	job, err := repo.GetByID(ctx, queued)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCancelled, job.Status)

	running := createQueuedJob(t, repo, constants.JobKindExtraction)
	_, err = repo.Claim(ctx, running, "gemini")
	require.NoError(t, err)
	err = repo.Cancel(ctx, running)
	require.ErrorIs(t, err, common.ErrAlreadyClaimed)
}

func TestMarkFailedTruncatesMessage(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(newTestStore(t), nil)
	jobID := createQueuedJob(t, repo, constants.JobKindExtraction)

	long := strings.Repeat("x", 5000)
	require.NoError(t, repo.MarkFailed(ctx, jobID, long))

	job, err := repo.GetByID(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, job.Status)
	assert.Len(t, job.ErrorMessage, 2000)
}

func TestSetTemplateIDOnTemplateJob(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(newTestStore(t), nil)
	jobID := createQueuedJob(t, repo, constants.JobKindTemplateGen)

	tplID := uuid.New()
	require.NoError(t, repo.SetTemplateID(ctx, jobID, tplID))

	job, err := repo.GetByID(ctx, jobID)
	require.NoError(t, err)
	require.NotNil(t, job.TemplateID)
	assert.Equal(t, tplID, *job.TemplateID)
	assert.Equal(t, constants.JobKindTemplateGen, job.Kind)
}

func TestListQueuedSkipsFinished(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(newTestStore(t), nil)

	a := createQueuedJob(t, repo, constants.JobKindExtraction)
	b := createQueuedJob(t, repo, constants.JobKindExtraction)
	done := createQueuedJob(t, repo, constants.JobKindExtraction)
	_, err := repo.Claim(ctx, done, "gemini")
	require.NoError(t, err)
	require.NoError(t, repo.MarkSucceeded(ctx, done))

	ids, err := repo.ListQueued(ctx, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{a, b}, ids)
}

func TestGetByIDUnknownJob(t *testing.T) {
	repo := NewJobRepository(newTestStore(t), nil)
	_, err := repo.GetByID(context.Background(), uuid.New())
	require.ErrorIs(t, err, common.ErrNotFound)
}
