package mediacache_test

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediacache"
)

// memorySaver captures the saved archive instead of touching disk.
type memorySaver struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemorySaver() *memorySaver {
	return &memorySaver{files: make(map[string][]byte)}
}

func (s *memorySaver) Save(filename string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[filename] = append([]byte(nil), data...)
	return nil
}

func (s *memorySaver) file(filename string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.files[filename]
	return b, ok
}

// concurrencyFetcher fails URLs in fail and tracks the peak number of fetches
// in flight at once.
type concurrencyFetcher struct {
	fail     map[string]bool
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *concurrencyFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if cur <= p || f.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	if f.fail[rawURL] {
		return nil, errors.New("unreachable")
	}
	return []byte("payload-" + rawURL), nil
}

func makeTargets(n int) []mediacache.Target {
	targets := make([]mediacache.Target, n)
	for i := range targets {
		targets[i] = mediacache.Target{
			URL:   fmt.Sprintf("https://img.example.com/%d.jpg", i),
			Title: fmt.Sprintf("Image %d", i),
			ID:    fmt.Sprintf("id-%d", i),
		}
	}
	return targets
}

func zipEntries(t *testing.T, archive []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	require.NoError(t, err)
	entries := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		entries[f.Name] = b
	}
	return entries
}

func TestDownloadZip_AllSucceed(t *testing.T) {
	fetcher := &concurrencyFetcher{}
	notifier := mediacache.NewMemoryNotifier()
	saver := newMemorySaver()
	d := mediacache.NewDownloader(fetcher, notifier, saver, mediacache.DownloaderOptions{})

	targets := makeTargets(10)
	report, err := d.DownloadZip(context.Background(), targets, "vacation")

	require.NoError(t, err)
	assert.Equal(t, 10, report.Succeeded)
	assert.Equal(t, 0, report.Failed)
	assert.Empty(t, report.FailedTitles)
	assert.Equal(t, "vacation.zip", report.Archive)

	archive, ok := saver.file("vacation.zip")
	require.True(t, ok)
	entries := zipEntries(t, archive)
	assert.Len(t, entries, 10)
	assert.Equal(t, []byte("payload-"+targets[0].URL), entries["vacation/Image 0.jpg"])

	ids := notifier.IDs()
	require.Len(t, ids, 1, "one notice updated in place, never a second notice")
	last, ok := notifier.Last(ids[0])
	require.True(t, ok)
	assert.Equal(t, mediacache.VariantSuccess, last.Variant)
	assert.Contains(t, last.Message, "10/10")
}

func TestDownloadZip_MixedOutcome(t *testing.T) {
	fetcher := &concurrencyFetcher{fail: map[string]bool{}}
	targets := makeTargets(10)
	for _, i := range []int{2, 5, 9} {
		fetcher.fail[targets[i].URL] = true
	}
	notifier := mediacache.NewMemoryNotifier()
	saver := newMemorySaver()
	d := mediacache.NewDownloader(fetcher, notifier, saver, mediacache.DownloaderOptions{})

	report, err := d.DownloadZip(context.Background(), targets, "mixed")

	require.NoError(t, err, "individual failures must not abort the batch")
	assert.Equal(t, 7, report.Succeeded)
	assert.Equal(t, 3, report.Failed)
	assert.Equal(t, len(targets), report.Succeeded+report.Failed)
	assert.ElementsMatch(t, []string{"Image 2", "Image 5", "Image 9"}, report.FailedTitles)

	archive, ok := saver.file("mixed.zip")
	require.True(t, ok)
	assert.Len(t, zipEntries(t, archive), 7)

	last, ok := notifier.Last(notifier.IDs()[0])
	require.True(t, ok)
	assert.Equal(t, mediacache.VariantWarning, last.Variant)
	assert.Contains(t, last.Description, "Image 5")
}

func TestDownloadZip_AllFail(t *testing.T) {
	fetcher := &concurrencyFetcher{fail: map[string]bool{}}
	targets := makeTargets(4)
	for _, tgt := range targets {
		fetcher.fail[tgt.URL] = true
	}
	notifier := mediacache.NewMemoryNotifier()
	saver := newMemorySaver()
	d := mediacache.NewDownloader(fetcher, notifier, saver, mediacache.DownloaderOptions{})

	report, err := d.DownloadZip(context.Background(), targets, "doomed")

	assert.ErrorIs(t, err, mediacache.ErrAllTargetsFailed)
	require.NotNil(t, report)
	assert.Equal(t, 0, report.Succeeded)
	assert.Equal(t, 4, report.Failed)
	assert.Empty(t, report.Archive)
	_, saved := saver.file("doomed.zip")
	assert.False(t, saved, "no archive on total failure")

	last, ok := notifier.Last(notifier.IDs()[0])
	require.True(t, ok)
	assert.Equal(t, mediacache.VariantError, last.Variant)
}

func TestDownloadZip_NoTargets(t *testing.T) {
	notifier := mediacache.NewMemoryNotifier()
	d := mediacache.NewDownloader(&concurrencyFetcher{}, notifier, newMemorySaver(), mediacache.DownloaderOptions{})

	report, err := d.DownloadZip(context.Background(), nil, "empty")

	assert.ErrorIs(t, err, mediacache.ErrNoTargets)
	assert.Nil(t, report)
	last, ok := notifier.Last(notifier.IDs()[0])
	require.True(t, ok)
	assert.Equal(t, mediacache.VariantWarning, last.Variant)
}

func TestDownloadZip_ConcurrencyBoundHolds(t *testing.T) {
	fetcher := &concurrencyFetcher{}
	d := mediacache.NewDownloader(fetcher, mediacache.NewMemoryNotifier(), newMemorySaver(), mediacache.DownloaderOptions{
		Concurrency: 5,
		ChunkSize:   10,
	})

	_, err := d.DownloadZip(context.Background(), makeTargets(60), "big")

	require.NoError(t, err)
	assert.LessOrEqual(t, fetcher.peak.Load(), int32(5), "at most 5 fetches in flight across the whole run")
}

func TestDownloadZip_FilenameCollisionsFallBackToID(t *testing.T) {
	fetcher := &concurrencyFetcher{}
	saver := newMemorySaver()
	d := mediacache.NewDownloader(fetcher, mediacache.NewMemoryNotifier(), saver, mediacache.DownloaderOptions{})

	targets := []mediacache.Target{
		{URL: "https://img.example.com/a.jpg", Title: "Sunset", ID: "aaa"},
		{URL: "https://img.example.com/b.jpg", Title: "Sunset", ID: "bbb"},
		{URL: "https://img.example.com/c.jpg", Title: "", ID: "ccc"},
	}
	report, err := d.DownloadZip(context.Background(), targets, "album")

	require.NoError(t, err)
	assert.Equal(t, 3, report.Succeeded)

	archive, ok := saver.file("album.zip")
	require.True(t, ok)
	entries := zipEntries(t, archive)
	assert.Contains(t, entries, "album/Sunset.jpg")
	assert.Contains(t, entries, "album/image-bbb.jpg")
	assert.Contains(t, entries, "album/image-ccc.jpg")
}

func TestDownloadZip_ArchiveNameKeepsExistingExtension(t *testing.T) {
	saver := newMemorySaver()
	d := mediacache.NewDownloader(&concurrencyFetcher{}, mediacache.NewMemoryNotifier(), saver, mediacache.DownloaderOptions{})

	report, err := d.DownloadZip(context.Background(), makeTargets(1), "already.zip")

	require.NoError(t, err)
	assert.Equal(t, "already.zip", report.Archive)
	archive, ok := saver.file("already.zip")
	require.True(t, ok)
	entries := zipEntries(t, archive)
	assert.Contains(t, entries, "already/Image 0.jpg")
}
