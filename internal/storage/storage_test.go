package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-content/pkg/simplecontent/presets"
)

func TestFilesystemStorage(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFilesystemStorage(t.TempDir())
	require.NoError(t, err)

	t.Run("put_get_exists_delete", func(t *testing.T) {
		key := AssetKey("b1", "1-2-x.jpg")
		require.NoError(t, fs.Put(ctx, key, strings.NewReader("jpeg"), "image/jpeg"))

		ok, err := fs.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok)

		data, err := ReadAll(ctx, fs, key)
		require.NoError(t, err)
		assert.Equal(t, "jpeg", string(data))

		require.NoError(t, fs.Put(ctx, key, strings.NewReader("again"), "image/jpeg"))
		data, err = ReadAll(ctx, fs, key)
		require.NoError(t, err)
		assert.Equal(t, "again", string(data))

		require.NoError(t, fs.Delete(ctx, key))
		require.NoError(t, fs.Delete(ctx, key))
		ok, err = fs.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = fs.GetReader(ctx, key)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("rejects_traversal", func(t *testing.T) {
		_, err := fs.GetReader(ctx, "../etc/passwd")
		assert.ErrorIs(t, err, ErrInvalidKey)
		err = fs.Put(ctx, "../../x", strings.NewReader(""), "")
		assert.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("walk", func(t *testing.T) {
		require.NoError(t, fs.Put(ctx, "cropped/b2/a.jpg", strings.NewReader("a"), ""))
		require.NoError(t, fs.Put(ctx, "cropped/b3/b.jpg", strings.NewReader("bb"), ""))
		require.NoError(t, fs.Put(ctx, "results/b2-x_cutimage.xlsx", strings.NewReader("c"), ""))

		var keys []string
		require.NoError(t, fs.Walk(ctx, AssetsPrefix, func(o ObjectInfo) error {
			keys = append(keys, o.Key)
			assert.False(t, o.ModTime.IsZero())
			return nil
		}))
		sort.Strings(keys)
		assert.Equal(t, []string{"cropped/b2/a.jpg", "cropped/b3/b.jpg"}, keys)

		require.NoError(t, fs.Walk(ctx, "missing/", func(ObjectInfo) error {
			t.Fatal("unexpected object")
			return nil
		}))
	})
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "my_file__1_.xlsx", SafeName("my file (1).xlsx"))
	assert.Equal(t, "x.xlsx", SafeName("../../x.xlsx"))
	assert.Equal(t, "cropped/b1/f.jpg", AssetKey("b1", "f.jpg"))
	assert.Equal(t, "results/b1-p_cutimage.xlsx", ResultKey("b1", "p_cutimage.xlsx"))

	key := UploadKey("catálogo.xlsx")
	assert.True(t, strings.HasPrefix(key, UploadsPrefix))
	assert.True(t, strings.HasSuffix(key, "-cat_logo.xlsx"))

	assert.Equal(t, "/processed/b1/f.jpg", PublicAssetURL("", "b1", "f.jpg"))
	assert.Equal(t, "https://cdn.example.com/processed/b1/f.jpg", PublicAssetURL("https://cdn.example.com/", "b1", "f.jpg"))
}

func TestKeyedUploads(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFilesystemStorage(t.TempDir())
	require.NoError(t, err)
	uploads := NewKeyedUploads(fs)

	ref, err := uploads.SaveUpload(ctx, "products.xlsx", []byte("xlsx"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, UploadsPrefix))

	ok, err := uploads.Exists(ctx, ref)
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := ReadAll(ctx, uploads, ref)
	require.NoError(t, err)
	assert.Equal(t, "xlsx", string(data))
}

func TestContentStore(t *testing.T) {
	ctx := context.Background()
	svc, cleanup, err := presets.NewDevelopment(presets.WithDevStorage(t.TempDir()))
	require.NoError(t, err)
	defer cleanup()

	cs := NewContentStore(svc)
	ref, err := cs.SaveUpload(ctx, "products.xlsx", []byte("PK\x03\x04 not really a workbook"))
	require.NoError(t, err)

	ok, err := cs.Exists(ctx, ref)
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := ReadAll(ctx, cs, ref)
	require.NoError(t, err)
	assert.Equal(t, "PK\x03\x04 not really a workbook", string(data))

	_, err = cs.GetReader(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.jpg" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, "image-bytes")
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client())

	data, err := f.Fetch(context.Background(), srv.URL+"/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "image-bytes", string(data))

	_, err = f.Fetch(context.Background(), srv.URL+"/missing.jpg")
	var status *StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusNotFound, status.Code)
	assert.Contains(t, err.Error(), "404")
}
