package repository

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ishimwe-dev/docextract/constants"
	"github.com/ishimwe-dev/docextract/internal/common"
)

func TestCreateWithFieldsRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewTemplateRepository(newTestStore(t), nil)
	orgID := uuid.New()

	fields := []NewTemplateField{
		{Name: "full_name", Label: "Full Name", FieldType: constants.FieldTypeString, Required: true},
		{Name: "birth_date", Label: "Birth Date", FieldType: constants.FieldTypeDate},
		{Name: "page_count", Label: "Page Count", FieldType: constants.FieldTypeNumber},
	}
	tpl, err := repo.CreateWithFields(ctx, orgID, "Birth Certificate", "civil registry", fields)
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, orgID, got.OrgID)
	assert.Equal(t, "Birth Certificate", got.Name)

	listed, err := repo.ListFields(ctx, tpl.ID)
	require.NoError(t, err)
	require.Len(t, listed, 3)
	// Definition order survives.
	assert.Equal(t, "full_name", listed[0].Name)
	assert.Equal(t, "birth_date", listed[1].Name)
	assert.Equal(t, "page_count", listed[2].Name)
	assert.True(t, listed[0].Required)
	assert.Equal(t, constants.FieldTypeDate, listed[1].FieldType)
}

func TestNameExistsPerOrg(t *testing.T) {
	ctx := context.Background()
	repo := NewTemplateRepository(newTestStore(t), nil)
	orgA, orgB := uuid.New(), uuid.New()

	_, err := repo.CreateWithFields(ctx, orgA, "Invoice", "", nil)
	require.NoError(t, err)

	exists, err := repo.NameExists(ctx, orgA, "Invoice")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.NameExists(ctx, orgB, "Invoice")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestGetByIDUnknownTemplate(t *testing.T) {
	repo := NewTemplateRepository(newTestStore(t), nil)
	_, err := repo.GetByID(context.Background(), uuid.New())
	require.ErrorIs(t, err, common.ErrNotFound)
}
