package mediacache

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/flate"
	"golang.org/x/sync/semaphore"

	"mediacache/common"
	"mediacache/internal/utils"
)

const (
	// DefaultDownloadConcurrency bounds simultaneous fetches across one whole
	// bulk operation.
	DefaultDownloadConcurrency = 5
	// DefaultDownloadChunkSize is a memory-pressure control only; global
	// concurrency stays bounded by the semaphore across chunk boundaries.
	DefaultDownloadChunkSize = 10
	// defaultImageExt names archive entries whose URL carries no usable
	// extension.
	defaultImageExt = ".jpg"
)

// Target is one image to include in a bulk download.
type Target struct {
	URL   string
	Title string
	ID    string
}

// DownloadReport aggregates the outcomes of one bulk operation.
// Succeeded + Failed always equals the number of requested targets.
type DownloadReport struct {
	Succeeded    int
	Failed       int
	FailedTitles []string
	Archive      string
}

// DownloaderOptions configures a Downloader.
type DownloaderOptions struct {
	// Concurrency overrides DefaultDownloadConcurrency.
	Concurrency int64
	// ChunkSize overrides DefaultDownloadChunkSize.
	ChunkSize int
}

// Downloader fetches batches of images with bounded concurrency and packages
// the successes into a ZIP archive. Individual failures are recorded and
// reported, never abort the batch; only a run with zero successes is a hard
// failure. Progress and outcome reach the user through the Notifier,
// updating a single notice in place.
type Downloader struct {
	fetcher     ImageFetcher
	notifier    Notifier
	saver       Saver
	concurrency int64
	chunkSize   int
}

// NewDownloader creates a Downloader. notifier and saver default to
// LogNotifier and a FileSaver in the working directory when nil.
func NewDownloader(fetcher ImageFetcher, notifier Notifier, saver Saver, opts DownloaderOptions) *Downloader {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if saver == nil {
		saver = FileSaver{Dir: "."}
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultDownloadConcurrency
	}
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultDownloadChunkSize
	}
	return &Downloader{
		fetcher:     fetcher,
		notifier:    notifier,
		saver:       saver,
		concurrency: concurrency,
		chunkSize:   chunkSize,
	}
}

// downloadOutcome is the per-target result: payload on success, the retained
// target identity on failure.
type downloadOutcome struct {
	target Target
	data   []byte
	err    error
}

// DownloadZip fetches every target and saves the successes as a ZIP archive
// named archiveName. The returned report always satisfies
// Succeeded+Failed == len(targets). A run with zero successes produces no
// archive and returns an error wrapping common.ErrAllTargetsFailed.
func (d *Downloader) DownloadZip(ctx context.Context, targets []Target, archiveName string) (*DownloadReport, error) {
	if len(targets) == 0 {
		d.notifier.Notify(Notice{
			Message: "Nothing to download",
			Variant: VariantWarning,
		})
		return nil, common.ErrNoTargets
	}

	noticeID := d.notifier.Notify(Notice{
		Message:  fmt.Sprintf("Preparing %d images…", len(targets)),
		Variant:  VariantInfo,
		Duration: -1,
	})

	outcomes := d.fetchAll(ctx, targets, noticeID)

	var successes, failures []downloadOutcome
	for _, o := range outcomes {
		if o.err != nil {
			failures = append(failures, o)
		} else {
			successes = append(successes, o)
		}
	}

	report := &DownloadReport{
		Succeeded: len(successes),
		Failed:    len(failures),
	}
	for _, o := range failures {
		title := o.target.Title
		if title == "" {
			title = o.target.ID
		}
		report.FailedTitles = append(report.FailedTitles, title)
	}

	if len(successes) == 0 {
		d.notifier.Update(noticeID, Notice{
			Message:     "Download failed",
			Description: fmt.Sprintf("None of the %d images could be retrieved.", len(targets)),
			Variant:     VariantError,
		})
		return report, fmt.Errorf("download %q: %w", archiveName, common.ErrAllTargetsFailed)
	}

	archive, err := buildArchive(successes, archiveName)
	if err != nil {
		d.notifier.Update(noticeID, Notice{
			Message:     "Archive build failed",
			Description: err.Error(),
			Variant:     VariantError,
		})
		return report, fmt.Errorf("build archive %q: %w", archiveName, err)
	}

	filename := ensureZipExt(archiveName)
	if err := d.saver.Save(filename, archive); err != nil {
		d.notifier.Update(noticeID, Notice{
			Message:     "Saving archive failed",
			Description: err.Error(),
			Variant:     VariantError,
		})
		return report, fmt.Errorf("save archive %q: %w", filename, err)
	}
	report.Archive = filename

	if len(failures) == 0 {
		d.notifier.Update(noticeID, Notice{
			Message: fmt.Sprintf("Downloaded %d/%d images", len(successes), len(targets)),
			Variant: VariantSuccess,
		})
	} else {
		d.notifier.Update(noticeID, Notice{
			Message:     fmt.Sprintf("Downloaded %d/%d images", len(successes), len(targets)),
			Description: fmt.Sprintf("Excluded: %s", strings.Join(report.FailedTitles, ", ")),
			Variant:     VariantWarning,
		})
	}
	return report, nil
}

// fetchAll runs every target through the fetcher. Chunking only bounds the
// number of buffered outcomes awaiting progress reporting; the semaphore is
// the single global concurrency limit, and its FIFO wake order prevents
// starvation among waiting fetches.
func (d *Downloader) fetchAll(ctx context.Context, targets []Target, noticeID string) []downloadOutcome {
	sem := semaphore.NewWeighted(d.concurrency)
	outcomes := make([]downloadOutcome, len(targets))
	done := 0

	for start := 0; start < len(targets); start += d.chunkSize {
		end := start + d.chunkSize
		if end > len(targets) {
			end = len(targets)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				target := targets[i]
				if err := sem.Acquire(ctx, 1); err != nil {
					outcomes[i] = downloadOutcome{target: target, err: err}
					return
				}
				defer sem.Release(1)

				data, err := d.fetcher.Fetch(ctx, target.URL)
				if err == nil && len(data) == 0 {
					err = common.ErrEmptyPayload
				}
				if err != nil {
					log.Printf("WARN: bulk download of '%s' (%s) failed: %v", target.URL, target.ID, err)
				}
				outcomes[i] = downloadOutcome{target: target, data: data, err: err}
			}(i)
		}
		wg.Wait()

		done = end
		d.notifier.Update(noticeID, Notice{
			Message:  fmt.Sprintf("Fetched %d/%d images…", done, len(targets)),
			Variant:  VariantInfo,
			Duration: -1,
		})
	}
	return outcomes
}

// buildArchive packs successful payloads into a ZIP with one top-level
// folder. DEFLATE runs at the fastest level to bound CPU time; archives stay
// readable by ordinary tools.
func buildArchive(successes []downloadOutcome, archiveName string) ([]byte, error) {
	folder := utils.SanitizeFilename(strings.TrimSuffix(archiveName, ".zip"))
	if folder == "" {
		folder = "images"
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestSpeed)
	})

	used := make(map[string]struct{}, len(successes))
	for _, o := range successes {
		name := entryName(o.target, used)
		w, err := zw.Create(folder + "/" + name)
		if err != nil {
			return nil, fmt.Errorf("create zip entry %q: %w", name, err)
		}
		if _, err := w.Write(o.data); err != nil {
			return nil, fmt.Errorf("write zip entry %q: %w", name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize zip: %w", err)
	}
	return buf.Bytes(), nil
}

// entryName derives a unique archive entry name from the target's title,
// falling back to an id-based synthetic name on collision or missing title.
func entryName(t Target, used map[string]struct{}) string {
	ext := utils.URLExt(t.URL)
	if ext == "" {
		ext = defaultImageExt
	}

	base := utils.SanitizeFilename(t.Title)
	if base != "" {
		if _, taken := used[base+ext]; !taken {
			used[base+ext] = struct{}{}
			return base + ext
		}
	}

	synthetic := "image-" + utils.SanitizeFilename(t.ID)
	if synthetic == "image-" {
		synthetic = fmt.Sprintf("image-%d", len(used)+1)
	}
	name := synthetic + ext
	for i := 2; ; i++ {
		if _, taken := used[name]; !taken {
			break
		}
		name = fmt.Sprintf("%s-%d%s", synthetic, i, ext)
	}
	used[name] = struct{}{}
	return name
}

func ensureZipExt(name string) string {
	if strings.HasSuffix(strings.ToLower(name), ".zip") {
		return name
	}
	return name + ".zip"
}

// FileSaver is the default save-to-disk primitive: it writes the archive
// into Dir, creating it if needed.
type FileSaver struct {
	Dir string
}

func (s FileSaver) Save(filename string, data []byte) error {
	dir := s.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create download dir %q: %w", dir, err)
	}
	path := filepath.Join(dir, filepath.Base(filename))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write archive %q: %w", path, err)
	}
	return nil
}
