package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapshare/client/internal/store"
	"github.com/snapshare/client/internal/store/memory"
	"github.com/snapshare/client/pkg/logger"
)

func fixedUploader(blobs store.BlobStore, read Reader) *Uploader {
	u := NewUploader(blobs, read, logger.NewDiscard("media"))
	u.now = func() time.Time { return time.UnixMilli(1700000000123) }
	u.newID = func() string { return "id1" }
	return u
}

func TestIsLocal(t *testing.T) {
	for uri, want := range map[string]bool{
		"file:///data/user/0/cache/img.jpg": true,
		"content://media/external/images/1": true,
		"ph://ABC-123":                      true,
		"/tmp/img.png":                      true,
		"https://cdn.example.com/a.jpg":     false,
		"http://example.com/a.jpg":          false,
		"":                                  false,
		"img.jpg":                           false,
	} {
		assert.Equal(t, want, IsLocal(uri), uri)
	}
}

func TestUploadImagePathAndURL(t *testing.T) {
	blobs := memory.NewBlobs("https://cdn.test")
	u := fixedUploader(blobs, func(string) ([]byte, error) { return []byte("jpegdata"), nil })

	local := "file:///var/mobile/tmp/IMG_0001.JPG"
	got, err := u.UploadImage(context.Background(), "user-42", local)
	require.NoError(t, err)

	assert.NotEqual(t, local, got)
	assert.Equal(t, "https://cdn.test/post-images/user-42/1700000000123_id1.jpg", got)
	assert.Contains(t, strings.Split(got, "/"), "user-42")

	data, ct, ok := blobs.Object(store.BucketPostImages, "user-42/1700000000123_id1.jpg")
	require.True(t, ok)
	assert.Equal(t, []byte("jpegdata"), data)
	assert.Equal(t, "image/jpeg", ct)
}

func TestUploadImageNeverOverwrites(t *testing.T) {
	blobs := memory.NewBlobs("")
	u := fixedUploader(blobs, func(string) ([]byte, error) { return []byte("x"), nil })

	_, err := u.UploadImage(context.Background(), "u1", "file:///a.png")
	require.NoError(t, err)
	_, err = u.UploadImage(context.Background(), "u1", "file:///b.png")
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestUploadImageSameMillisecondGetsDistinctPaths(t *testing.T) {
	blobs := memory.NewBlobs("https://cdn.test")
	u := NewUploader(blobs, func(string) ([]byte, error) { return []byte("x"), nil }, logger.NewDiscard("media"))
	u.now = func() time.Time { return time.UnixMilli(1700000000123) }

	first, err := u.UploadImage(context.Background(), "u1", "file:///a.jpg")
	require.NoError(t, err)
	second, err := u.UploadImage(context.Background(), "u1", "file:///b.jpg")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	for _, got := range []string{first, second} {
		assert.True(t, strings.HasPrefix(got, "https://cdn.test/post-images/u1/1700000000123_"), got)
		assert.True(t, strings.HasSuffix(got, ".jpg"), got)
	}
}

func TestUploadAvatarOverwrites(t *testing.T) {
	blobs := memory.NewBlobs("https://cdn.test")
	calls := 0
	u := fixedUploader(blobs, func(string) ([]byte, error) { calls++; return []byte{byte(calls)}, nil })

	first, err := u.UploadAvatar(context.Background(), "u1", "file:///me.png")
	require.NoError(t, err)
	second, err := u.UploadAvatar(context.Background(), "u1", "file:///me2.png")
	require.NoError(t, err)

	assert.Equal(t, "https://cdn.test/profile-images/avatars/u1/profile.png", first)
	assert.Equal(t, first, second)
	data, ct, _ := blobs.Object(store.BucketProfileImages, "avatars/u1/profile.png")
	assert.Equal(t, []byte{2}, data)
	assert.Equal(t, "image/png", ct)
}

func TestUploadReadFailure(t *testing.T) {
	u := fixedUploader(memory.NewBlobs(""), func(string) ([]byte, error) { return nil, errors.New("no such asset") })
	_, err := u.UploadImage(context.Background(), "u1", "ph://x")
	assert.EqualError(t, err, "no such asset")
}

func TestReadLocalFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "photo.jpg")
	require.NoError(t, os.WriteFile(p, []byte("abc"), 0o600))

	data, err := ReadLocalFile("file://" + p)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), data)

	data, err = ReadLocalFile(p)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), data)

	_, err = ReadLocalFile("content://media/1")
	assert.Error(t, err)
}

func TestExtension(t *testing.T) {
	assert.Equal(t, "jpg", extension("file:///a/b"))
	assert.Equal(t, "heic", extension("file:///a/IMG.HEIC"))
	assert.Equal(t, "png", extension("/tmp/x.png?v=1"))
	assert.Equal(t, "jpg", extension("ph://ABC-123"))
}

type stubPicker struct {
	handle Handle
	err    error
	got    Options
	source string
}

func (s *stubPicker) Capture(ctx context.Context, opts Options) (Handle, error) {
	s.got, s.source = opts, "camera"
	return s.handle, s.err
}

func (s *stubPicker) Pick(ctx context.Context, opts Options) (Handle, error) {
	s.got, s.source = opts, "library"
	return s.handle, s.err
}

func TestCaptureOrPick(t *testing.T) {
	p := &stubPicker{handle: Handle{URI: "file:///x.jpg"}}

	h, err := CaptureOrPick(context.Background(), p, SourceCamera)
	require.NoError(t, err)
	assert.Equal(t, "file:///x.jpg", h.URI)
	assert.Equal(t, "camera", p.source)
	assert.Equal(t, Quality, p.got.Quality)
	assert.Equal(t, [2]int{1, 1}, p.got.Aspect)
	assert.True(t, p.got.AllowsEditing)

	_, err = CaptureOrPick(context.Background(), p, SourceLibrary)
	require.NoError(t, err)
	assert.Equal(t, "library", p.source)

	p.handle = Handle{}
	_, err = CaptureOrPick(context.Background(), p, SourceLibrary)
	assert.ErrorIs(t, err, ErrCanceled)
}

func TestPlaceholderPicker(t *testing.T) {
	h, err := CaptureOrPick(context.Background(), PlaceholderPicker{}, SourceCamera)
	require.NoError(t, err)
	assert.Equal(t, PlaceholderImageURL, h.URI)
	assert.False(t, IsLocal(h.URI))
}
