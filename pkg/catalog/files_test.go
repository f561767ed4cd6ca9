package catalog

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakconstructions/storefront/pkg/blob"
)

func TestPlanFiles(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	p := f.createPlan(t, CreatePlanRequest{Title: "Files"})

	premium, err := f.svc.AddPlanFile(ctx, p.ID, TierPremium, "structural.dwg", "", stringsReader("dwg-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", premium.ContentType)
	assert.Equal(t, int64(9), premium.SizeBytes)
	assert.True(t, strings.HasPrefix(premium.ObjectKey, "plans/"))
	assert.Contains(t, premium.ObjectKey, "/premium/")

	basic, err := f.svc.AddPlanFile(ctx, p.ID, TierBasic, "floor plan.pdf", "application/pdf", stringsReader("pdf"))
	require.NoError(t, err)

	files, err := f.svc.ListPlanFiles(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, basic.ID, files[0].ID)
	assert.Equal(t, premium.ID, files[1].ID)

	rc, err := f.store.Get(ctx, premium.ObjectKey)
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "dwg-bytes", string(data))

	assert.ErrorIs(t, f.svc.DeletePlanFile(ctx, p.ID+1, premium.ID), ErrFileNotFound)
	require.NoError(t, f.svc.DeletePlanFile(ctx, p.ID, premium.ID))
	_, err = f.svc.GetPlanFile(ctx, premium.ID)
	assert.ErrorIs(t, err, ErrFileNotFound)
	_, err = f.store.Get(ctx, premium.ObjectKey)
	assert.ErrorIs(t, err, blob.ErrNotFound)
}

func TestAddPlanFile_Validation(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	_, err := f.svc.AddPlanFile(ctx, 42, TierBasic, "a.pdf", "", stringsReader("x"))
	assert.ErrorIs(t, err, ErrPlanNotFound)

	p := f.createPlan(t, CreatePlanRequest{Title: "P"})
	_, err = f.svc.AddPlanFile(ctx, p.ID, "gold", "a.pdf", "", stringsReader("x"))
	assert.ErrorIs(t, err, ErrInvalidTier)
}
