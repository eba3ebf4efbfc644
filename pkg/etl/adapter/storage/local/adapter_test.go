package local_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/statickg/pkg/etl/adapter/storage/local"
)

func TestLocalAdapter(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "out")

	p := local.NewLocalProvider()
	conn, err := p.GetConnection(dir)
	require.NoError(t, err)
	assert.DirExists(t, dir)
	assert.Equal(t, local.ProviderType, conn.Type())

	same, err := p.GetConnection(dir + "/")
	require.NoError(t, err)
	assert.Same(t, conn, same)

	require.NoError(t, conn.Upload(ctx, "a.ttl", strings.NewReader("a")))
	require.NoError(t, conn.Upload(ctx, "nested/b.ttl", strings.NewReader("b")))

	rc, err := conn.Download(ctx, "nested/b.ttl")
	require.NoError(t, err)
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "b", string(content))

	var names []string
	require.NoError(t, conn.ListObjects(ctx, "", func(name string) error {
		names = append(names, name)
		return nil
	}))
	sort.Strings(names)
	assert.Equal(t, []string{"a.ttl", "nested/b.ttl"}, names)

	names = nil
	require.NoError(t, conn.ListObjects(ctx, "nested/", func(name string) error {
		names = append(names, name)
		return nil
	}))
	assert.Equal(t, []string{"nested/b.ttl"}, names)

	require.NoError(t, conn.DeleteObject(ctx, "a.ttl"))
	assert.NoFileExists(t, filepath.Join(dir, "a.ttl"))
	require.NoError(t, conn.DeleteObject(ctx, "a.ttl"))

	require.NoError(t, p.CloseAll())
}

func TestLocalAdapterRejectsEscapes(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	outside := filepath.Join(filepath.Dir(dir), "outside.txt")

	conn, err := local.NewLocalProvider().GetConnection(dir)
	require.NoError(t, err)

	assert.Error(t, conn.Upload(ctx, "../outside.txt", strings.NewReader("x")))
	assert.Error(t, conn.DeleteObject(ctx, "../../etc/passwd"))
	_, statErr := os.Stat(outside)
	assert.True(t, os.IsNotExist(statErr))
}

func TestLocalAdapterRejectsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err := local.NewLocalProvider().GetConnection(file)
	assert.Error(t, err)
}
