package report

import (
	"github.com/xuri/excelize/v2"

	"CompetitorScanner/internal/analytics"
	"CompetitorScanner/internal/domain"
	"CompetitorScanner/internal/i18n"
)

// SheetNames returns the localized sheet names in order: accounts, content
// items, aggregate analytics.
func SheetNames(lang domain.Language) [3]string {
	return [3]string{
		i18n.T(lang, "sheet.accounts"),
		i18n.T(lang, "sheet.items"),
		i18n.T(lang, "sheet.analytics"),
	}
}

func writeSpreadsheet(path string, snap analytics.Snapshot, lang domain.Language) error {
	f := excelize.NewFile()
	defer f.Close()

	names := SheetNames(lang)
	if err := f.SetSheetName("Sheet1", names[0]); err != nil {
		return err
	}
	for _, name := range names[1:] {
		if _, err := f.NewSheet(name); err != nil {
			return err
		}
	}

	if err := writeRows(f, names[0], accountRows(snap, lang)); err != nil {
		return err
	}
	if err := writeRows(f, names[1], itemRows(snap, lang)); err != nil {
		return err
	}
	if err := writeRows(f, names[2], analyticsRows(snap, lang)); err != nil {
		return err
	}
	f.SetActiveSheet(0)
	return f.SaveAs(path)
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

func accountRows(snap analytics.Snapshot, lang domain.Language) [][]any {
	t := func(key string) string { return i18n.T(lang, key) }
	rows := [][]any{{
		t("col.account"), t("col.full_name"), t("col.external_id"), t("col.private"), t("col.verified"),
		t("col.profile"), t("col.items"), t("col.views"), t("col.likes"), t("col.comments"), t("col.engagement"),
	}}
	for _, a := range snap.Accounts {
		rows = append(rows, []any{
			a.Account.Username,
			a.Account.FullName,
			a.Account.ExternalID,
			i18n.YesNo(lang, a.Account.IsPrivate),
			i18n.YesNo(lang, a.Account.IsVerified),
			a.Account.ProfileURL,
			a.Items,
			a.TotalViews,
			a.TotalLikes,
			a.TotalComments,
			a.AverageEngagement,
		})
	}
	return rows
}

func itemRows(snap analytics.Snapshot, lang domain.Language) [][]any {
	t := func(key string) string { return i18n.T(lang, key) }
	rows := [][]any{{
		t("col.rank"), t("col.account"), t("col.external_id"), t("col.caption"), t("col.views"),
		t("col.likes"), t("col.comments"), t("col.engagement"), t("col.published"), t("col.link"),
	}}
	for i, m := range snap.Items {
		rows = append(rows, []any{
			i + 1,
			m.Item.AccountUsername,
			m.Item.ExternalID,
			m.Item.Caption,
			m.Item.Views,
			m.Item.Likes,
			m.Item.Comments,
			m.EngagementRate,
			m.Item.PublishedAt.UTC().Format(dateLayout),
			m.Item.URL,
		})
	}
	return rows
}

func analyticsRows(snap analytics.Snapshot, lang domain.Language) [][]any {
	t := func(key string) string { return i18n.T(lang, key) }
	s := snap.Summary
	rows := [][]any{
		{t("col.metric"), t("col.value")},
		{t("label.accounts_found"), s.AccountsFound},
		{t("label.items_found"), s.ItemsFound},
		{t("label.avg_engagement"), s.AverageEngagement},
		{t("label.top_views"), s.TopViewCount},
	}
	if !s.WindowStart.IsZero() {
		rows = append(rows, []any{t("report.window"), s.WindowStart.Format(dateLayout) + " - " + s.WindowEnd.Format(dateLayout)})
	}
	return rows
}
