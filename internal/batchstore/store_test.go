package batchstore

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/cutimage-pipeline/pkg/pipeline"
	"gitlab.com/tozd/go/errors"
)

func newBatch() *pipeline.Batch {
	title := 0
	return &pipeline.Batch{
		ID:               uuid.NewString(),
		Status:           pipeline.StatusUploaded,
		OriginalFileName: "products.xlsx",
		UploadPath:       "uploads/x-products.xlsx",
		Columns:          []string{"Title", "Image"},
		TotalRows:        3,
		URLColumnIndexes: []int{1},
		TitleColumnIndex: &title,
		Errors:           []pipeline.CellError{},
	}
}

func testStore(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("create_get", func(t *testing.T) {
		b := newBatch()
		require.NoError(t, store.Create(ctx, b))
		assert.False(t, b.CreatedAt.IsZero())

		got, err := store.Get(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, b.Columns, got.Columns)
		assert.Equal(t, b.URLColumnIndexes, got.URLColumnIndexes)
		require.NotNil(t, got.TitleColumnIndex)
		assert.Equal(t, 0, *got.TitleColumnIndex)
		assert.Nil(t, got.IdentifierColumnIndex)
		assert.True(t, b.CreatedAt.Equal(got.CreatedAt))

		err = store.Create(ctx, b)
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("empty_and_nil_previews_round_trip", func(t *testing.T) {
		empty := newBatch()
		empty.PreviewRows = [][]string{}
		require.NoError(t, store.Create(ctx, empty))
		got, err := store.Get(ctx, empty.ID)
		require.NoError(t, err)
		require.NotNil(t, got.PreviewRows)
		assert.Empty(t, got.PreviewRows)

		none := newBatch()
		require.NoError(t, store.Create(ctx, none))
		got, err = store.Get(ctx, none.ID)
		require.NoError(t, err)
		assert.Nil(t, got.PreviewRows)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := store.Get(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = store.Update(ctx, uuid.NewString(), func(*pipeline.Batch) error { return nil })
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("update", func(t *testing.T) {
		b := newBatch()
		require.NoError(t, store.Create(ctx, b))

		updated, err := store.Update(ctx, b.ID, func(cur *pipeline.Batch) error {
			cur.Status = pipeline.StatusProcessing
			cur.ProcessedRows = 2
			cur.Errors = append(cur.Errors, pipeline.NewCellError(0, 1, "HTTP 404"))
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, pipeline.StatusProcessing, updated.Status)
		assert.False(t, updated.UpdatedAt.Before(b.UpdatedAt))

		got, err := store.Get(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.ProcessedRows)
		require.Len(t, got.Errors, 1)
		assert.Equal(t, 2, got.Errors[0].Row)
		require.NotNil(t, got.Errors[0].Column)
		assert.Equal(t, 2, *got.Errors[0].Column)
	})

	t.Run("mutator_error_leaves_record", func(t *testing.T) {
		b := newBatch()
		require.NoError(t, store.Create(ctx, b))

		boom := errors.New("boom")
		_, err := store.Update(ctx, b.ID, func(cur *pipeline.Batch) error {
			cur.Status = pipeline.StatusFailed
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := store.Get(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, pipeline.StatusUploaded, got.Status)
	})

	t.Run("list", func(t *testing.T) {
		all, err := store.List(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(all), 3)
		for i := 1; i < len(all); i++ {
			assert.False(t, all[i].CreatedAt.Before(all[i-1].CreatedAt))
		}
	})
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())

	t.Run("returns_copies", func(t *testing.T) {
		ctx := context.Background()
		store := NewMemoryStore()
		b := newBatch()
		require.NoError(t, store.Create(ctx, b))

		got, err := store.Get(ctx, b.ID)
		require.NoError(t, err)
		got.Columns[0] = "changed"

		again, err := store.Get(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, "Title", again.Columns[0])
	})
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	testStore(t, store)

	t.Run("survives_reopen", func(t *testing.T) {
		ctx := context.Background()
		b := newBatch()
		require.NoError(t, store.Create(ctx, b))

		reopened, err := NewFileStore(dir)
		require.NoError(t, err)
		got, err := reopened.Get(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, b.OriginalFileName, got.OriginalFileName)
	})

	t.Run("rejects_path_ids", func(t *testing.T) {
		_, err := store.Get(context.Background(), "../secret")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("BATCH_DATABASE_URL_TEST")
	if url == "" {
		t.Skip("BATCH_DATABASE_URL_TEST not set")
	}

	db, err := sql.Open("postgres", url)
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	store, err := NewPostgresStore(ctx, db)
	require.NoError(t, err)
	testStore(t, store)
}
