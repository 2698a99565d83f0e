package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"expense-intake/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPutAndDelete(t *testing.T) {
	root := t.TempDir()
	d, err := NewDisk(&config.StorageConfig{UploadDir: root, PublicBaseURL: "/uploads/"}, zaptest.NewLogger(t))
	require.NoError(t, err)

	key, url, err := d.Put(context.Background(), "8d7c1c9e-0000-4000-8000-000000000001", "Receipt.JPG", []byte("img"))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(key, "8d7c1c9e-0000-4000-8000-000000000001/"))
	assert.True(t, strings.HasSuffix(key, ".jpg"))
	assert.Equal(t, "/uploads/"+key, url)

	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(key)))
	require.NoError(t, err)
	assert.Equal(t, "img", string(data))

	require.NoError(t, d.Delete(key))
	_, err = os.Stat(filepath.Join(root, filepath.FromSlash(key)))
	assert.True(t, os.IsNotExist(err))
}

func TestPutNamesNeverCollide(t *testing.T) {
	d, err := NewDisk(&config.StorageConfig{UploadDir: t.TempDir()}, zaptest.NewLogger(t))
	require.NoError(t, err)

	k1, _, err := d.Put(context.Background(), "u", "a.pdf", []byte("1"))
	require.NoError(t, err)
	k2, _, err := d.Put(context.Background(), "u", "a.pdf", []byte("2"))
	require.NoError(t, err)

	assert.NotEqual(t, k1, k2)
}

func TestOwnerIsSanitized(t *testing.T) {
	d, err := NewDisk(&config.StorageConfig{UploadDir: t.TempDir()}, zaptest.NewLogger(t))
	require.NoError(t, err)

	key, _, err := d.Put(context.Background(), "../../etc", "x.png", []byte("1"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "etc/"))

	key, _, err = d.Put(context.Background(), "", "x.png", []byte("1"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "anonymous/"))

	assert.ErrorIs(t, d.Delete("../secret"), ErrInvalidKey)
}
