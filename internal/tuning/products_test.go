package tuning

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tryon/internal/astria"
	"github.com/kiranshivaraju/tryon/internal/astria/mock"
	"github.com/kiranshivaraju/tryon/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) product(t *testing.T, category string) *models.Product {
	t.Helper()
	p, err := f.svc.CreateProduct(context.Background(), ProductInput{
		OwnerID:      f.owner,
		Name:         "Linen Shirt",
		Brand:        "Acme",
		Category:     category,
		Sizes:        []string{"S", "M"},
		MainImageURL: "https://img.example.com/shirt.jpg",
	})
	require.NoError(t, err)
	return p
}

func TestCreateProduct(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, " Shirts ")

	assert.Equal(t, models.CategoryShirts, p.Category)
	assert.Equal(t, []string{}, p.Colors)
	assert.Nil(t, p.ModelImageURL)
	assert.False(t, p.RequiresTune())

	got, err := f.svc.GetProduct(context.Background(), f.owner, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
}

func TestCreateProduct_Validation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		in   ProductInput
	}{
		{"missing name", ProductInput{Category: "shirts", MainImageURL: "https://x/y.jpg"}},
		{"missing image", ProductInput{Name: "a", Category: "shirts"}},
		{"unknown category", ProductInput{Name: "a", Category: "gadgets", MainImageURL: "https://x/y.jpg"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.in.OwnerID = f.owner
			_, err := f.svc.CreateProduct(context.Background(), tt.in)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestGetProduct_OtherOwner(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "shirts")

	_, err := f.svc.GetProduct(context.Background(), uuid.New(), p.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.GetProduct(context.Background(), f.owner, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubmitProductTune(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "shirts")

	rec, err := f.svc.SubmitProductTune(ctx, f.owner, p.ID, dataImages(3))
	require.NoError(t, err)
	assert.Equal(t, models.KindProduct, rec.Kind)
	assert.Equal(t, models.StatusTraining, rec.Status)
	require.NotNil(t, rec.ProductID)
	assert.Equal(t, p.ID, *rec.ProductID)
	assert.Equal(t, Title(models.KindProduct, rec.ID), rec.Title)

	submits := f.client.Submits()
	require.Len(t, submits, 1)
	assert.Equal(t, "1504944", submits[0].BaseTuneID)
	assert.Equal(t, "Linen Shirt", submits[0].Name)

	images, err := f.store.ListImages(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, images, 3)
	assert.Equal(t, models.ImageRoleMain, *images[0].Role)
	assert.Equal(t, models.ImageRoleAdditional, *images[1].Role)
	assert.Equal(t, models.ImageRoleAdditional, *images[2].Role)

	linked, err := f.svc.GetProduct(ctx, f.owner, p.ID)
	require.NoError(t, err)
	require.NotNil(t, linked.TuneRecordID)
	assert.Equal(t, rec.ID, *linked.TuneRecordID)
	assert.True(t, linked.RequiresTune())
}

func TestSubmitProductTune_LinkedEvenWhenSubmissionFails(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.client = mock.NewFailingClient(astria.ErrServiceUnavailable)
	})
	ctx := context.Background()
	p := f.product(t, "dresses")

	rec, err := f.svc.SubmitProductTune(ctx, f.owner, p.ID, urlImages(1))
	require.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Equal(t, models.StatusPending, rec.Status)

	linked, err := f.svc.GetProduct(ctx, f.owner, p.ID)
	require.NoError(t, err)
	require.NotNil(t, linked.TuneRecordID)
	assert.Equal(t, rec.ID, *linked.TuneRecordID)
}

func TestSubmitProductTune_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	hat := f.product(t, "hats")
	_, err := f.svc.SubmitProductTune(ctx, f.owner, hat.ID, urlImages(1))
	assert.ErrorIs(t, err, ErrValidation)

	shirt := f.product(t, "shirts")
	_, err = f.svc.SubmitProductTune(ctx, f.owner, shirt.ID, nil)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.SubmitProductTune(ctx, uuid.New(), shirt.ID, urlImages(1))
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, 0, f.recordCount(t))
	assert.Empty(t, f.client.Submits())
}
