package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"disclosure_pipeline/pkg/core/normalize"
	"disclosure_pipeline/pkg/core/sanitize"
	"disclosure_pipeline/pkg/core/validate"
	"disclosure_pipeline/pkg/models"
	"disclosure_pipeline/pkg/platform/logger"
)

// ErrNoTabularFiles is returned for archives without any delimited file.
var ErrNoTabularFiles = errors.New("ingest: archive has no tabular files")

// ArchiveResult is everything extracted from one quarterly archive.
type ArchiveResult struct {
	URL           string
	Name          string
	PeriodQuarter string
	PeriodYear    string
	Files         []string
	SkippedFiles  []string
	SkippedLines  int
	Batches       []models.SanitizedBatch
	Findings      sanitize.Findings
}

// RowCount returns the number of sanitized rows across all batches.
func (r *ArchiveResult) RowCount() int {
	n := 0
	for _, b := range r.Batches {
		n += len(b.Rows)
	}
	return n
}

// Fetcher downloads archives and turns their files into sanitized batches.
type Fetcher struct {
	client    Getter
	timeout   time.Duration
	sanitizer *sanitize.Sanitizer
	rawDir    string
	log       *zap.Logger
}

// NewFetcher creates a Fetcher. When rawDir is non-empty each downloaded
// archive is also written there unchanged.
func NewFetcher(client Getter, archiveTimeout time.Duration, s *sanitize.Sanitizer, rawDir string, log *zap.Logger) *Fetcher {
	if s == nil {
		s = sanitize.New(sanitize.Options{})
	}
	return &Fetcher{
		client:    client,
		timeout:   archiveTimeout,
		sanitizer: s,
		rawDir:    rawDir,
		log:       logger.OrNop(log).With(zap.String("stage", "fetch")),
	}
}

// FetchAndExtract downloads archiveURL into memory and extracts it.
func (f *Fetcher) FetchAndExtract(ctx context.Context, archiveURL string) (*ArchiveResult, error) {
	name := ArchiveName(archiveURL)
	log := f.log.With(zap.String("archive", name))

	log.Info("downloading archive", zap.String("url", archiveURL))
	data, err := f.client.Get(ctx, archiveURL, f.timeout)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: download %s", name)
	}

	if f.rawDir != "" {
		if err := f.saveRaw(name, data); err != nil {
			log.Warn("could not keep raw archive", zap.Error(err))
		}
	}

	res, err := f.Extract(name, data)
	if err != nil {
		return nil, err
	}
	res.URL = archiveURL
	log.Info("archive extracted",
		zap.Strings("files", res.Files),
		zap.Int("rows", res.RowCount()),
		zap.Int("skipped_lines", res.SkippedLines))
	return res, nil
}

// Extract opens an in-memory zip, reads every tabular file, normalizes and
// sanitizes it, and tags each row with the period embedded in name.
func (f *Fetcher) Extract(name string, data []byte) (*ArchiveResult, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open zip %s", name)
	}

	quarter, year := validate.PeriodFromName(name, models.NotAvailableMarker)
	res := &ArchiveResult{Name: name, PeriodQuarter: quarter, PeriodYear: year}

	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() || !isTabular(zf.Name) {
			continue
		}
		source := name + "/" + zf.Name

		content, err := readZipFile(zf)
		if err != nil {
			f.log.Warn("skipping unreadable file", zap.String("file", source), zap.Error(err))
			res.SkippedFiles = append(res.SkippedFiles, zf.Name)
			continue
		}

		raw, skipped, err := ReadTable(source, content, 0)
		if err != nil {
			f.log.Warn("skipping unparsable file", zap.String("file", source), zap.Error(err))
			res.SkippedFiles = append(res.SkippedFiles, zf.Name)
			continue
		}
		res.SkippedLines += skipped

		batch, findings := f.sanitizer.Sanitize(normalize.Canonicalize(raw))
		tagPeriod(&batch, quarter, year)

		res.Files = append(res.Files, zf.Name)
		res.Batches = append(res.Batches, batch)
		res.Findings.Add(findings)
	}

	if len(res.Files) == 0 {
		return nil, eris.Wrap(ErrNoTabularFiles, name)
	}
	return res, nil
}

func (f *Fetcher) saveRaw(name string, data []byte) error {
	if err := os.MkdirAll(f.rawDir, 0o755); err != nil {
		return eris.Wrap(err, "ingest: create raw dir")
	}
	return eris.Wrap(os.WriteFile(filepath.Join(f.rawDir, name), data, 0o644), "ingest: write raw archive")
}

func tagPeriod(b *models.SanitizedBatch, quarter, year string) {
	if b.Columns == nil {
		b.Columns = make(map[string]bool)
	}
	b.Columns[models.ColPeriodQuarter] = true
	b.Columns[models.ColPeriodYear] = true
	for i := range b.Rows {
		b.Rows[i].PeriodQuarter = quarter
		b.Rows[i].PeriodYear = year
	}
}

func readZipFile(zf *zip.File) ([]byte, error) {
	rc, err := zf.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func isTabular(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".csv", ".txt":
		return true
	}
	return false
}

// ArchiveName returns the unescaped last path segment of an archive URL.
func ArchiveName(archiveURL string) string {
	u, err := url.Parse(archiveURL)
	if err != nil {
		return path.Base(archiveURL)
	}
	name := path.Base(u.Path)
	if unescaped, err := url.PathUnescape(name); err == nil {
		return unescaped
	}
	return name
}
