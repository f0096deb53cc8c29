package export

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ishimwe-dev/docextract/internal/entity"
	"github.com/ishimwe-dev/docextract/internal/repository"
)

func TestExportUsageXLSX(t *testing.T) {
	ctx := context.Background()

	store, err := repository.Open(ctx, repository.Config{DSN: filepath.Join(t.TempDir(), "test.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(nil) })
	require.NoError(t, store.Migrate(ctx, nil))

	usageRepo := repository.NewUsageRepository(store, nil)
	orgID := uuid.New()
	jobID := uuid.New()
	require.NoError(t, usageRepo.Record(ctx, &entity.UsageRecord{
		JobID:       jobID,
		OrgID:       orgID,
		DocumentID:  uuid.New().String(),
		CreditsUsed: 2,
		Status:      "succeeded",
		QueueSize:   1,
	}))
	require.NoError(t, usageRepo.Record(ctx, &entity.UsageRecord{
		JobID:        uuid.New(),
		OrgID:        orgID,
		Status:       "failed",
		ErrorMessage: "provider extraction failed",
	}))

	svc := NewService(usageRepo, nil)
	data, err := svc.ExportUsageXLSX(ctx, orgID, 100)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows("Usage")
	require.NoError(t, err)
	require.Len(t, rows, 3) // header plus two records
	assert.Equal(t, "Created", rows[0][0])

	var jobIDs []string
	for _, row := range rows[1:] {
		jobIDs = append(jobIDs, row[1])
	}
	assert.Contains(t, jobIDs, jobID.String())
}

func TestExportUsageXLSXEmptyOrg(t *testing.T) {
	ctx := context.Background()

	store, err := repository.Open(ctx, repository.Config{DSN: filepath.Join(t.TempDir(), "test.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(nil) })
	require.NoError(t, store.Migrate(ctx, nil))

	svc := NewService(repository.NewUsageRepository(store, nil), nil)
	data, err := svc.ExportUsageXLSX(ctx, uuid.New(), 100)
	require.NoError(t, err)
	assert.NotEmpty(t, data) // header-only workbook
}
