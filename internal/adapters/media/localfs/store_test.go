package localfs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hylla/podtrack/internal/app"
	"github.com/hylla/podtrack/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func readAll(t *testing.T, rc io.ReadCloser) string {
	t.Helper()
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestStore_PutAndOpen(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	has, err := s.Has(ctx, "LS-1", domain.EventArrivedSite, "photo.jpg")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, s.Put(ctx, "LS-1", domain.EventArrivedSite, "photo.jpg", strings.NewReader("first")))
	require.NoError(t, s.Put(ctx, "LS-1", domain.EventArrivedSite, "photo.jpg", strings.NewReader("second")))

	has, err = s.Has(ctx, "LS-1", domain.EventArrivedSite, "photo.jpg")
	require.NoError(t, err)
	assert.True(t, has)

	rc, err := s.Open(ctx, "LS-1", domain.EventArrivedSite, "photo.jpg")
	require.NoError(t, err)
	assert.Equal(t, "second", readAll(t, rc))

	_, err = os.Stat(filepath.Join(s.Root(), "LS-1", "arrived_site", "photo.jpg"))
	assert.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(s.Root(), "LS-1", "arrived_site"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestStore_OpenMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Open(context.Background(), "LS-1", domain.EventLeftSite, "nope.png")
	assert.ErrorIs(t, err, app.ErrNotFound)
}

func TestStore_RejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, tc := range []struct {
		loadsheet string
		filename  string
	}{
		{"..", "x.jpg"},
		{"LS-1", "../x.jpg"},
		{"LS/1", "x.jpg"},
		{"LS-1", ""},
	} {
		err := s.Put(ctx, tc.loadsheet, domain.EventArrivedSite, tc.filename, strings.NewReader("x"))
		assert.ErrorIs(t, err, app.ErrInvalidMedia, "%q/%q", tc.loadsheet, tc.filename)

		has, err := s.Has(ctx, tc.loadsheet, domain.EventArrivedSite, tc.filename)
		require.NoError(t, err)
		assert.False(t, has)
	}
}

func TestStore_ReadsLegacyLeavingFolder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	legacyDir := filepath.Join(s.Root(), "LS-9", "leaving_ap")
	require.NoError(t, os.MkdirAll(legacyDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(legacyDir, "ap_signature_old.png"), []byte("sig"), 0o644))

	has, err := s.Has(ctx, "LS-9", domain.EventLeavingDepot, "ap_signature_old.png")
	require.NoError(t, err)
	assert.True(t, has)

	rc, err := s.Open(ctx, "LS-9", domain.EventLeavingDepot, "ap_signature_old.png")
	require.NoError(t, err)
	assert.Equal(t, "sig", readAll(t, rc))

	has, err = s.Has(ctx, "LS-9", domain.EventArrivedSite, "ap_signature_old.png")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Put(ctx, "LS-1", domain.EventLeftSite, "receiver_full_x.png", strings.NewReader("sig")))
	require.NoError(t, s.Delete(ctx, "LS-1", domain.EventLeftSite, "receiver_full_x.png"))

	has, err := s.Has(ctx, "LS-1", domain.EventLeftSite, "receiver_full_x.png")
	require.NoError(t, err)
	assert.False(t, has)

	assert.NoError(t, s.Delete(ctx, "LS-1", domain.EventLeftSite, "receiver_full_x.png"), "missing blobs delete cleanly")
	assert.ErrorIs(t, s.Delete(ctx, "LS-1", domain.EventLeftSite, "../x.png"), app.ErrInvalidMedia)
}
