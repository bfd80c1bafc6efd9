package cloud

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inTempDir runs the test in a new working directory holding an
// empty "bucket" directory for file:// URLs.
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
	require.NoError(t, os.Mkdir("bucket", 0755))
	return dir
}

func TestIsBlob(t *testing.T) {
	assert.True(t, IsBlob("gs://b/x.nc"))
	assert.True(t, IsBlob("s3://b/x.nc"))
	assert.True(t, IsBlob("file://b/x.nc"))
	assert.False(t, IsBlob("/data/x.nc"))
	assert.False(t, IsBlob("https://example.com/x.nc"))
}

func TestSplitURL(t *testing.T) {
	b, k, err := SplitURL("gs://obs/he5/2020/x.he5")
	require.NoError(t, err)
	assert.Equal(t, "gs://obs", b)
	assert.Equal(t, "he5/2020/x.he5", k)

	b, k, err = SplitURL("file://bucket/nc/%Y/omiscal_%Y%m%d.nc")
	require.NoError(t, err)
	assert.Equal(t, "file://bucket", b)
	assert.Equal(t, "nc/%Y/omiscal_%Y%m%d.nc", k)

	_, _, err = SplitURL("gs:///x.nc")
	assert.Error(t, err)
	_, _, err = SplitURL("x.nc")
	assert.Error(t, err)
}

func TestTemplatePrefix(t *testing.T) {
	for _, test := range []struct {
		key, prefix string
		templated   bool
	}{
		{"a/b.nc", "a/b.nc", false},
		{"he5/%Y/%Y%m%d/*.he5", "he5/", true},
		{"nc/2020/omiscal_%Y%m%d.nc", "nc/2020/", true},
		{"*.nc", "", true},
	} {
		p, ok := templatePrefix(test.key)
		assert.Equal(t, test.prefix, p, test.key)
		assert.Equal(t, test.templated, ok, test.key)
	}
}

func TestUploadDownload(t *testing.T) {
	dir := inTempDir(t)
	ctx := context.Background()
	local := filepath.Join(dir, "out.nc")
	require.NoError(t, os.WriteFile(local, []byte("scale factors"), 0644))

	require.NoError(t, Upload(ctx, local, "file://bucket/nc/2020/out.nc"))
	b, err := os.ReadFile(filepath.Join("bucket", "nc", "2020", "out.nc"))
	require.NoError(t, err)
	assert.Equal(t, "scale factors", string(b))

	dl := filepath.Join(dir, "dl")
	path, err := Download(ctx, "file://bucket/nc/2020/out.nc", dl)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dl, "nc", "2020", "out.nc"), path)
	b, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "scale factors", string(b))
}

func TestDownloadTemplate(t *testing.T) {
	dir := inTempDir(t)
	ctx := context.Background()
	for _, key := range []string{"nc/2019/a.nc", "nc/2020/b.nc", "other/c.nc"} {
		local := filepath.Join(dir, "src.nc")
		require.NoError(t, os.WriteFile(local, []byte(key), 0644))
		require.NoError(t, Upload(ctx, local, "file://bucket/"+key))
	}
	dl := filepath.Join(dir, "dl")
	path, err := Download(ctx, "file://bucket/nc/%Y/x_%Y%m%d.nc", dl)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dl, "nc", "%Y", "x_%Y%m%d.nc"), path)
	assert.FileExists(t, filepath.Join(dl, "nc", "2019", "a.nc"))
	assert.FileExists(t, filepath.Join(dl, "nc", "2020", "b.nc"))
	assert.NoFileExists(t, filepath.Join(dl, "other", "c.nc"))
}

func TestDownloadMissing(t *testing.T) {
	dir := inTempDir(t)
	_, err := Download(context.Background(), "file://bucket/missing.nc", dir)
	assert.Error(t, err)
}

func TestOpenBucketInvalid(t *testing.T) {
	_, err := OpenBucket(context.Background(), "ftp://x")
	assert.Error(t, err)
	_, err = OpenBucket(context.Background(), "x.nc")
	assert.Error(t, err)
}

func TestOpenBucketFile(t *testing.T) {
	inTempDir(t)
	ctx := context.Background()
	b, err := OpenBucket(ctx, "file://bucket/nc/%Y/x.nc")
	require.NoError(t, err)
	defer b.Close()
	require.NoError(t, b.WriteAll(ctx, "x.nc", []byte("x"), nil))
	assert.FileExists(t, filepath.Join("bucket", "x.nc"))
}
