package report

import (
	"context"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"CompetitorScanner/internal/analytics"
	"CompetitorScanner/internal/domain"
	"CompetitorScanner/internal/ports"
)

func meta(lang domain.Language) ports.RunMeta {
	return ports.RunMeta{
		RunID: "run-1",
		Request: domain.ScrapeRequest{
			SeedAccount: "acct_a",
			ProjectID:   37,
			Requester:   domain.Requester{Language: lang},
		},
		StartedAt: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC),
	}
}

func sampleSnapshot() analytics.Snapshot {
	published := time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)
	accounts := []domain.DiscoveredAccount{
		{ExternalID: "1", Username: "alpha", FullName: "Alpha", ProfileURL: "https://www.instagram.com/alpha/"},
		{ExternalID: "2", Username: "beta", IsPrivate: true, ProfileURL: "https://www.instagram.com/beta/"},
	}
	items := []domain.ContentItem{
		{ExternalID: "r1", AccountID: "1", AccountUsername: "alpha", Caption: "<b>bold</b>", Views: 1000, Likes: 90, Comments: 10, PublishedAt: published},
		{ExternalID: "r2", AccountID: "1", AccountUsername: "alpha", Views: 5000, Likes: 10, PublishedAt: published},
	}
	return analytics.Compute(accounts, items, 10)
}

func newRenderer(t *testing.T) *Renderer {
	t.Helper()
	r := NewRenderer(t.TempDir(), 24*time.Hour, nil)
	r.now = func() time.Time { return time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC) }
	return r
}

func openHTML(t *testing.T, path string) *goquery.Document {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	doc, err := goquery.NewDocumentFromReader(f)
	require.NoError(t, err)
	return doc
}

func TestRenderWritesAllFiles(t *testing.T) {
	t.Parallel()

	r := newRenderer(t)
	artifact, err := r.Render(context.Background(), meta(domain.LanguageEN), sampleSnapshot())
	require.NoError(t, err)
	require.Len(t, artifact.Files(), 3)
	for _, path := range artifact.Files() {
		info, err := os.Stat(path)
		require.NoError(t, err)
		require.Positive(t, info.Size())
		require.Equal(t, artifact.Dir, filepath.Dir(path))
	}

	doc := openHTML(t, artifact.HTMLPath)
	require.Equal(t, "Competitor report for @acct_a", doc.Find("h1").Text())
	require.Zero(t, doc.Find(".no-data").Length())

	rows := doc.Find("table.top tr.item")
	require.Equal(t, 2, rows.Length())
	first, _ := rows.First().Attr("data-id")
	require.Equal(t, "r2", first)
	require.Contains(t, rows.First().Text(), "5,000")
	require.Equal(t, "<b>bold</b>", rows.Eq(1).Find("td").Eq(2).Text())
	require.Equal(t, 2, doc.Find("table.accounts tr.account").Length())
}

func TestRenderEmptySnapshotShowsNoData(t *testing.T) {
	t.Parallel()

	r := newRenderer(t)
	artifact, err := r.Render(context.Background(), meta(domain.LanguageEN), analytics.Compute(nil, nil, 10))
	require.NoError(t, err)

	doc := openHTML(t, artifact.HTMLPath)
	require.Equal(t, "No data for this period.", strings.TrimSpace(doc.Find("p.no-data").Text()))
	require.Zero(t, doc.Find("tr.item").Length())
	require.NotEmpty(t, doc.Find("html").AttrOr("lang", ""))

	f, err := excelize.OpenFile(artifact.SpreadsheetPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Reels")
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestRenderSpreadsheetSheets(t *testing.T) {
	t.Parallel()

	r := newRenderer(t)
	artifact, err := r.Render(context.Background(), meta(domain.LanguageEN), sampleSnapshot())
	require.NoError(t, err)

	f, err := excelize.OpenFile(artifact.SpreadsheetPath)
	require.NoError(t, err)
	defer f.Close()

	require.Equal(t, []string{"Accounts", "Reels", "Analytics"}, f.GetSheetList())

	accounts, err := f.GetRows("Accounts")
	require.NoError(t, err)
	require.Len(t, accounts, 3)
	require.Equal(t, "alpha", accounts[1][0])

	items, err := f.GetRows("Reels")
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, "r2", items[1][2])
	require.Equal(t, "5000", items[1][4])

	summary, err := f.GetRows("Analytics")
	require.NoError(t, err)
	require.Equal(t, "Reels found", summary[2][0])
	require.Equal(t, "2", summary[2][1])
}

func TestRenderRussian(t *testing.T) {
	t.Parallel()

	r := newRenderer(t)
	artifact, err := r.Render(context.Background(), meta(domain.LanguageRU), analytics.Snapshot{})
	require.NoError(t, err)

	doc := openHTML(t, artifact.HTMLPath)
	require.Equal(t, "ru", doc.Find("html").AttrOr("lang", ""))
	require.Equal(t, "Нет данных за этот период.", strings.TrimSpace(doc.Find("p.no-data").Text()))

	readme, err := os.ReadFile(artifact.ReadmePath)
	require.NoError(t, err)
	require.Contains(t, string(readme), "Исходный аккаунт: @acct_a")
	require.Contains(t, string(readme), ManifestFile)

	f, err := excelize.OpenFile(artifact.SpreadsheetPath)
	require.NoError(t, err)
	defer f.Close()
	names := SheetNames(domain.LanguageRU)
	require.Equal(t, names[:], f.GetSheetList())
}

func TestRenderIOError(t *testing.T) {
	t.Parallel()

	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	r := NewRenderer(blocker, 0, nil)
	_, err := r.Render(context.Background(), meta(domain.LanguageEN), analytics.Snapshot{})
	require.ErrorIs(t, err, domain.ErrRenderIO)
}

func TestRenderTemplateFailureIsRenderIO(t *testing.T) {
	t.Parallel()

	r := NewRenderer(t.TempDir(), 0, nil)
	r.page = template.Must(template.New("broken").Parse(`{{.NoSuchField}}`))

	_, err := r.Render(context.Background(), meta(domain.LanguageEN), sampleSnapshot())
	require.ErrorIs(t, err, domain.ErrRenderIO)
	require.Contains(t, err.Error(), "render html")
}
