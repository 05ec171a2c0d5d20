// Package archive packages rendered report files into one zip archive.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"CompetitorScanner/internal/domain"
	"CompetitorScanner/internal/ports"
	"CompetitorScanner/internal/report"
)

// DefaultTTL is the validity of a download reference.
const DefaultTTL = 24 * time.Hour

const nameTimeLayout = "20060102_150405"

// ValidName is the allow-list a download server applies to archive names.
var ValidName = regexp.MustCompile(`^[A-Za-z0-9._-]+\.zip$`)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Archiver writes archives into a single append-only directory.
type Archiver struct {
	dir           string
	ttl           time.Duration
	keepArtifacts bool
	logger        *slog.Logger
	now           func() time.Time
}

var _ ports.Archiver = (*Archiver)(nil)

// NewArchiver configures the output directory and link lifetime.
func NewArchiver(dir string, ttl time.Duration, keepArtifacts bool, logger *slog.Logger) *Archiver {
	if dir == "" {
		dir = os.TempDir()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Archiver{dir: dir, ttl: ttl, keepArtifacts: keepArtifacts, logger: logger, now: time.Now}
}

// Name derives a collision-resistant archive name from the seed account,
// run start time and run id.
func Name(seed string, startedAt time.Time, runID string) string {
	safeSeed := strings.Trim(unsafeChars.ReplaceAllString(seed, "_"), "._")
	if safeSeed == "" {
		safeSeed = "report"
	}
	short := unsafeChars.ReplaceAllString(runID, "")
	if len(short) > 8 {
		short = short[:8]
	}
	name := safeSeed + "_" + startedAt.UTC().Format(nameTimeLayout)
	if short != "" {
		name += "_" + short
	}
	return name + ".zip"
}

// Expired reports whether the archive's download reference is no longer valid.
func Expired(rec domain.ArchiveRecord, now time.Time) bool {
	return !rec.ExpiresAt.IsZero() && !now.Before(rec.ExpiresAt)
}

type manifestFile struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

type manifest struct {
	RunID       string         `json:"run_id"`
	SeedAccount string         `json:"seed_account"`
	ProjectID   int64          `json:"project_id"`
	Language    string         `json:"language"`
	CreatedAt   time.Time      `json:"created_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
	Files       []manifestFile `json:"files"`
}

// Archive zips every rendered file plus a manifest. The archive is written to
// a temporary name and renamed, so a reader never sees a partial file.
func (a *Archiver) Archive(ctx context.Context, meta ports.RunMeta, artifact domain.ReportArtifact) (domain.ArchiveRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.ArchiveRecord{}, err
	}
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return domain.ArchiveRecord{}, fmt.Errorf("%w: create %s: %v", domain.ErrArchiveIO, a.dir, err)
	}

	started := meta.StartedAt
	if started.IsZero() {
		started = a.now()
	}
	created := a.now().UTC()
	name := Name(meta.Request.SeedAccount, started, meta.RunID)
	final := filepath.Join(a.dir, name)

	tmp, err := os.CreateTemp(a.dir, ".partial-*.zip")
	if err != nil {
		return domain.ArchiveRecord{}, fmt.Errorf("%w: create archive: %v", domain.ErrArchiveIO, err)
	}
	defer os.Remove(tmp.Name())

	m := manifest{
		RunID:       meta.RunID,
		SeedAccount: meta.Request.SeedAccount,
		ProjectID:   meta.Request.ProjectID,
		Language:    string(meta.Request.Requester.Language),
		CreatedAt:   created,
		ExpiresAt:   created.Add(a.ttl),
	}

	zw := zip.NewWriter(tmp)
	for _, path := range artifact.Files() {
		entry, err := addFile(zw, path, created)
		if err != nil {
			zw.Close()
			tmp.Close()
			return domain.ArchiveRecord{}, fmt.Errorf("%w: add %s: %v", domain.ErrArchiveIO, filepath.Base(path), err)
		}
		m.Files = append(m.Files, entry)
	}
	if err := addManifest(zw, m); err != nil {
		zw.Close()
		tmp.Close()
		return domain.ArchiveRecord{}, fmt.Errorf("%w: add manifest: %v", domain.ErrArchiveIO, err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return domain.ArchiveRecord{}, fmt.Errorf("%w: finish archive: %v", domain.ErrArchiveIO, err)
	}
	if err := tmp.Close(); err != nil {
		return domain.ArchiveRecord{}, fmt.Errorf("%w: close archive: %v", domain.ErrArchiveIO, err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return domain.ArchiveRecord{}, fmt.Errorf("%w: publish archive: %v", domain.ErrArchiveIO, err)
	}

	info, err := os.Stat(final)
	if err != nil {
		return domain.ArchiveRecord{}, fmt.Errorf("%w: stat archive: %v", domain.ErrArchiveIO, err)
	}
	abs, err := filepath.Abs(final)
	if err != nil {
		abs = final
	}

	if !a.keepArtifacts && artifact.Dir != "" {
		if err := os.RemoveAll(artifact.Dir); err != nil {
			a.logger.Warn("remove rendered artifacts", "dir", artifact.Dir, "err", err)
		}
	}

	rec := domain.ArchiveRecord{
		Name:        name,
		Path:        abs,
		Size:        info.Size(),
		CreatedAt:   created,
		ExpiresAt:   m.ExpiresAt,
		RunID:       meta.RunID,
		SeedAccount: meta.Request.SeedAccount,
	}
	a.logger.Info("archive created", "run_id", meta.RunID, "name", rec.Name, "size", rec.Size, "files", len(m.Files)+1)
	return rec, nil
}

func addFile(zw *zip.Writer, path string, modified time.Time) (manifestFile, error) {
	src, err := os.Open(path)
	if err != nil {
		return manifestFile{}, err
	}
	defer src.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     filepath.Base(path),
		Method:   zip.Deflate,
		Modified: modified,
	})
	if err != nil {
		return manifestFile{}, err
	}
	sum := sha256.New()
	n, err := io.Copy(io.MultiWriter(w, sum), src)
	if err != nil {
		return manifestFile{}, err
	}
	return manifestFile{Name: filepath.Base(path), Size: n, SHA256: hex.EncodeToString(sum.Sum(nil))}, nil
}

func addManifest(zw *zip.Writer, m manifest) error {
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     report.ManifestFile,
		Method:   zip.Deflate,
		Modified: m.CreatedAt,
	})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}
