package archive

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	"CompetitorScanner/internal/analytics"
	"CompetitorScanner/internal/domain"
	"CompetitorScanner/internal/ports"
	"CompetitorScanner/internal/report"
)

var created = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func runMeta() ports.RunMeta {
	return ports.RunMeta{
		RunID:     "4f1c2a9e-0000-4000-8000-000000000000",
		Request:   domain.ScrapeRequest{SeedAccount: "acct_a", ProjectID: 37, Requester: domain.Requester{Language: domain.LanguageEN}},
		StartedAt: time.Date(2026, 10, 19, 11, 30, 5, 0, time.UTC),
	}
}

func renderEmpty(t *testing.T, dir string) domain.ReportArtifact {
	t.Helper()
	artifact, err := report.NewRenderer(dir, time.Hour, nil).Render(context.Background(), runMeta(), analytics.Snapshot{})
	require.NoError(t, err)
	return artifact
}

func readZip(t *testing.T, path string) map[string][]byte {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	files := map[string][]byte{}
	for _, f := range r.File {
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		files[f.Name] = body
	}
	return files
}

func TestName(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 10, 19, 11, 30, 5, 0, time.UTC)
	require.Equal(t, "acct_a_20261019_113005_4f1c2a9e.zip", Name("acct_a", started, "4f1c2a9e-1234"))
	require.Equal(t, "my_brand_20261019_113005.zip", Name("my brand/..", started, ""))
	require.Equal(t, "report_20261019_113005_x.zip", Name("../", started, "x"))
	require.NotEqual(t, Name("acct_a", started, "run-a"), Name("acct_a", started, "run-b"))
	require.True(t, ValidName.MatchString(Name("weird @name!", started, "id")))
}

func TestValidName(t *testing.T) {
	t.Parallel()

	require.True(t, ValidName.MatchString("acct_a_20261019_113005.zip"))
	require.False(t, ValidName.MatchString("../etc/passwd.zip"))
	require.False(t, ValidName.MatchString("report.tar"))
	require.False(t, ValidName.MatchString("a b.zip"))
}

func TestArchiveEmptyRunProducesValidZip(t *testing.T) {
	t.Parallel()

	work := t.TempDir()
	out := t.TempDir()
	artifact := renderEmpty(t, work)

	a := NewArchiver(out, 24*time.Hour, false, nil)
	a.now = func() time.Time { return created }

	rec, err := a.Archive(context.Background(), runMeta(), artifact)
	require.NoError(t, err)
	require.Contains(t, rec.Name, "acct_a")
	require.Contains(t, rec.Name, "20261019_113005")
	require.True(t, ValidName.MatchString(rec.Name))
	require.True(t, filepath.IsAbs(rec.Path))
	require.Equal(t, created.Add(24*time.Hour), rec.ExpiresAt)

	info, err := os.Stat(rec.Path)
	require.NoError(t, err)
	require.Equal(t, info.Size(), rec.Size)

	files := readZip(t, rec.Path)
	require.Len(t, files, 4)
	require.True(t, strings.Contains(string(files[report.HTMLFile]), "no-data"))

	var m manifest
	require.NoError(t, json.Unmarshal(files[report.ManifestFile], &m))
	require.Equal(t, "acct_a", m.SeedAccount)
	require.Len(t, m.Files, 3)
	for _, f := range m.Files {
		require.Len(t, f.SHA256, 64)
		require.Equal(t, int64(len(files[f.Name])), f.Size)
	}

	_, err = os.Stat(artifact.Dir)
	require.ErrorIs(t, err, os.ErrNotExist)

	leftovers, err := filepath.Glob(filepath.Join(out, ".partial-*"))
	require.NoError(t, err)
	require.Empty(t, leftovers)
}

func TestArchiveKeepsArtifacts(t *testing.T) {
	t.Parallel()

	artifact := renderEmpty(t, t.TempDir())
	_, err := NewArchiver(t.TempDir(), 0, true, nil).Archive(context.Background(), runMeta(), artifact)
	require.NoError(t, err)

	_, err = os.Stat(artifact.HTMLPath)
	require.NoError(t, err)
}

func TestArchiveMissingFile(t *testing.T) {
	t.Parallel()

	artifact := domain.ReportArtifact{HTMLPath: filepath.Join(t.TempDir(), "missing.html")}
	_, err := NewArchiver(t.TempDir(), 0, true, nil).Archive(context.Background(), runMeta(), artifact)
	require.ErrorIs(t, err, domain.ErrArchiveIO)
}

func TestExpired(t *testing.T) {
	t.Parallel()

	rec := domain.ArchiveRecord{ExpiresAt: created}
	require.False(t, Expired(rec, created.Add(-time.Second)))
	require.True(t, Expired(rec, created))
	require.False(t, Expired(domain.ArchiveRecord{}, created))
}
