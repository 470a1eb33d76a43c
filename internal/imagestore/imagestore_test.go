package imagestore

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngDataURI(data []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
}

func TestDecodeDataURI(t *testing.T) {
	t.Parallel()

	data, ext, err := DecodeDataURI(pngDataURI([]byte("fake png bytes")))
	require.NoError(t, err)
	assert.Equal(t, ".png", ext)
	assert.Equal(t, []byte("fake png bytes"), data)
}

func TestDecodeDataURIMalformed(t *testing.T) {
	t.Parallel()

	cases := []string{
		"",
		"not a data uri",
		"data:image/png,missing-base64-marker",
		"data:image/png;base64,%%%invalid%%%",
	}
	for _, uri := range cases {
		_, _, err := DecodeDataURI(uri)
		assert.Error(t, err, "uri %q should be rejected", uri)
	}
}

func TestDecodeDataURIUnsupportedType(t *testing.T) {
	t.Parallel()

	uri := "data:application/pdf;base64," + base64.StdEncoding.EncodeToString([]byte("pdf"))
	_, _, err := DecodeDataURI(uri)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported image type")
}

func TestIsEphemeral(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m, err := New(dir)
	require.NoError(t, err)

	assert.False(t, m.IsEphemeral(""), "empty reference has nothing to materialize")
	assert.True(t, m.IsEphemeral("data:image/jpeg;base64,abcd"))
	assert.True(t, m.IsEphemeral(filepath.Join(t.TempDir(), "cache.jpg")), "file outside the durable dir")
	assert.False(t, m.IsEphemeral(filepath.Join(dir, "abc.jpg")), "file inside the durable dir")
}

func TestMaterializeDataURI(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m, err := New(dir)
	require.NoError(t, err)

	ref, err := m.Materialize(pngDataURI([]byte("image-bytes")))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(ref, dir), "materialized file must live in the durable dir")
	assert.True(t, strings.HasSuffix(ref, ".png"))

	got, err := os.ReadFile(ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("image-bytes"), got)

	// Durable references pass through untouched
	again, err := m.Materialize(ref)
	require.NoError(t, err)
	assert.Equal(t, ref, again)
}

func TestMaterializeIsContentAddressed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m, err := New(dir)
	require.NoError(t, err)

	first, err := m.Materialize(pngDataURI([]byte("same bytes")))
	require.NoError(t, err)
	second, err := m.Materialize(pngDataURI([]byte("same bytes")))
	require.NoError(t, err)

	assert.Equal(t, first, second, "identical content maps to one file")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestMaterializeTempFile(t *testing.T) {
	t.Parallel()

	m, err := New(t.TempDir())
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "capture.JPG")
	require.NoError(t, os.WriteFile(src, []byte("camera bytes"), 0o644))

	ref, err := m.Materialize(src)
	require.NoError(t, err)
	assert.NotEqual(t, src, ref)
	assert.True(t, strings.HasSuffix(ref, ".jpg"), "extension is normalized to lower case")

	// Source deletion no longer affects the durable copy
	require.NoError(t, os.Remove(src))
	got, err := os.ReadFile(ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("camera bytes"), got)
}

func TestMaterializeFailureKeepsOriginalReference(t *testing.T) {
	t.Parallel()

	m, err := New(t.TempDir())
	require.NoError(t, err)

	missing := filepath.Join(t.TempDir(), "gone.jpg")
	ref, err := m.Materialize(missing)
	assert.Error(t, err)
	assert.Equal(t, missing, ref, "failed materialization keeps the original reference")
}
