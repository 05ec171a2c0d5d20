// Package report renders the HTML report, the spreadsheet export and the
// README of one run.
package report

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/message"

	"CompetitorScanner/internal/analytics"
	"CompetitorScanner/internal/domain"
	"CompetitorScanner/internal/i18n"
	"CompetitorScanner/internal/ports"
)

const (
	HTMLFile        = "report.html"
	SpreadsheetFile = "report.xlsx"
	ReadmeFile      = "README.txt"
	ManifestFile    = "manifest.json"

	captionLimit = 120
	dateLayout   = "2006-01-02 15:04"
)

// Renderer writes report files into <workDir>/<run id>.
type Renderer struct {
	workDir string
	linkTTL time.Duration
	page    *template.Template
	logger  *slog.Logger
	now     func() time.Time
}

var _ ports.ReportRenderer = (*Renderer)(nil)

// NewRenderer prepares a renderer; linkTTL is only mentioned in the README.
func NewRenderer(workDir string, linkTTL time.Duration, logger *slog.Logger) *Renderer {
	if workDir == "" {
		workDir = os.TempDir()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Renderer{workDir: workDir, linkTTL: linkTTL, page: pageTemplate, logger: logger, now: time.Now}
}

// Render writes all three files. Every failure except cancellation is an
// ErrRenderIO.
func (r *Renderer) Render(ctx context.Context, meta ports.RunMeta, snapshot analytics.Snapshot) (domain.ReportArtifact, error) {
	if err := ctx.Err(); err != nil {
		return domain.ReportArtifact{}, err
	}

	dir := filepath.Join(r.workDir, meta.RunID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.ReportArtifact{}, fmt.Errorf("%w: create %s: %v", domain.ErrRenderIO, dir, err)
	}

	lang := meta.Request.Requester.Language
	if !lang.Valid() {
		lang = domain.LanguageEN
	}
	generated := r.now().UTC()

	artifact := domain.ReportArtifact{
		Dir:             dir,
		HTMLPath:        filepath.Join(dir, HTMLFile),
		SpreadsheetPath: filepath.Join(dir, SpreadsheetFile),
		ReadmePath:      filepath.Join(dir, ReadmeFile),
	}

	page, err := renderHTML(r.page, meta, snapshot, lang, generated)
	if err != nil {
		return domain.ReportArtifact{}, fmt.Errorf("%w: render html: %v", domain.ErrRenderIO, err)
	}
	if err := os.WriteFile(artifact.HTMLPath, page, 0o644); err != nil {
		return domain.ReportArtifact{}, fmt.Errorf("%w: write html: %v", domain.ErrRenderIO, err)
	}
	if err := writeSpreadsheet(artifact.SpreadsheetPath, snapshot, lang); err != nil {
		return domain.ReportArtifact{}, fmt.Errorf("%w: write spreadsheet: %v", domain.ErrRenderIO, err)
	}
	readme := renderReadme(meta, lang, generated, r.linkTTL)
	if err := os.WriteFile(artifact.ReadmePath, []byte(readme), 0o644); err != nil {
		return domain.ReportArtifact{}, fmt.Errorf("%w: write readme: %v", domain.ErrRenderIO, err)
	}

	r.logger.Info("report rendered",
		"run_id", meta.RunID,
		"dir", dir,
		"accounts", len(snapshot.Accounts),
		"items", len(snapshot.Items),
		"empty", snapshot.Empty(),
	)
	return artifact, nil
}

type labels struct {
	Summary, Top, Accounts, Window                                       string
	AccountsFound, ItemsFound, AvgEngagement, TopViews                   string
	Rank, Account, FullName, Caption, Views, Likes, Comments, Engagement string
	Published, Items                                                     string
}

type summaryView struct {
	Accounts, Items, Engagement, TopViews, Window string
}

type itemView struct {
	Rank                                          int
	ID, Account, Caption, URL                     string
	Views, Likes, Comments, Engagement, Published string
}

type accountView struct {
	Username, FullName, URL, Items, Views, Engagement string
}

type pageView struct {
	Lang      string
	Title     string
	Generated string
	NoData    string
	Empty     bool
	Labels    labels
	Summary   summaryView
	Top       []itemView
	Accounts  []accountView
}

func renderHTML(page *template.Template, meta ports.RunMeta, snap analytics.Snapshot, lang domain.Language, generated time.Time) ([]byte, error) {
	p := i18n.Printer(lang)
	t := func(key string, args ...any) string { return p.Sprintf(key, args...) }

	view := pageView{
		Lang:      string(lang),
		Title:     t("report.title", meta.Request.SeedAccount),
		Generated: t("report.generated", generated.Format(dateLayout)+" UTC"),
		NoData:    t("report.no_data"),
		Empty:     snap.Empty(),
		Labels: labels{
			Summary:       t("report.summary"),
			Top:           t("report.top"),
			Accounts:      t("report.accounts"),
			Window:        t("report.window"),
			AccountsFound: t("label.accounts_found"),
			ItemsFound:    t("label.items_found"),
			AvgEngagement: t("label.avg_engagement"),
			TopViews:      t("label.top_views"),
			Rank:          t("col.rank"),
			Account:       t("col.account"),
			FullName:      t("col.full_name"),
			Caption:       t("col.caption"),
			Views:         t("col.views"),
			Likes:         t("col.likes"),
			Comments:      t("col.comments"),
			Engagement:    t("col.engagement"),
			Published:     t("col.published"),
			Items:         t("col.items"),
		},
		Summary: summaryView{
			Accounts:   p.Sprintf("%d", snap.Summary.AccountsFound),
			Items:      p.Sprintf("%d", snap.Summary.ItemsFound),
			Engagement: percent(p, snap.Summary.AverageEngagement),
			TopViews:   p.Sprintf("%d", snap.Summary.TopViewCount),
		},
	}
	if !snap.Summary.WindowStart.IsZero() {
		view.Summary.Window = snap.Summary.WindowStart.Format(dateLayout) + " - " + snap.Summary.WindowEnd.Format(dateLayout)
	}
	for i, m := range snap.Top {
		view.Top = append(view.Top, itemView{
			Rank:       i + 1,
			ID:         m.Item.ExternalID,
			Account:    m.Item.AccountUsername,
			Caption:    truncate(m.Item.Caption, captionLimit),
			URL:        m.Item.URL,
			Views:      p.Sprintf("%d", m.Item.Views),
			Likes:      p.Sprintf("%d", m.Item.Likes),
			Comments:   p.Sprintf("%d", m.Item.Comments),
			Engagement: percent(p, m.EngagementRate),
			Published:  m.Item.PublishedAt.Format(dateLayout),
		})
	}
	for _, a := range snap.Accounts {
		view.Accounts = append(view.Accounts, accountView{
			Username:   a.Account.Username,
			FullName:   a.Account.FullName,
			URL:        a.Account.ProfileURL,
			Items:      p.Sprintf("%d", a.Items),
			Views:      p.Sprintf("%d", a.TotalViews),
			Engagement: percent(p, a.AverageEngagement),
		})
	}

	var buf bytes.Buffer
	if err := page.Execute(&buf, view); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderReadme(meta ports.RunMeta, lang domain.Language, generated time.Time, ttl time.Duration) string {
	p := i18n.Printer(lang)
	var b strings.Builder
	line := func(key string, args ...any) {
		b.WriteString(p.Sprintf(key, args...))
		b.WriteByte('\n')
	}
	line("readme.title")
	b.WriteByte('\n')
	line("readme.seed", meta.Request.SeedAccount)
	line("readme.project", meta.Request.ProjectID)
	line("readme.generated", generated.Format(dateLayout)+" UTC")
	b.WriteByte('\n')
	line("readme.contents")
	b.WriteString("  ")
	line("readme.html", HTMLFile)
	b.WriteString("  ")
	line("readme.xlsx", SpreadsheetFile)
	b.WriteString("  ")
	line("readme.manifest", ManifestFile)
	if ttl > 0 {
		b.WriteByte('\n')
		line("readme.expiry", ttl.String())
	}
	return b.String()
}

func percent(p *message.Printer, rate float64) string {
	return p.Sprintf("%.2f%%", rate*100)
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
