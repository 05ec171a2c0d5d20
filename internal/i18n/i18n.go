// Package i18n holds requester-facing strings in English and Russian.
package i18n

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	"CompetitorScanner/internal/domain"
)

type entry struct {
	en string
	ru string
}

var messages = map[string]entry{
	"report.title":            {"Competitor report for @%s", "Отчёт по конкурентам для @%s"},
	"report.generated":        {"Generated %s", "Сформирован %s"},
	"report.no_data":          {"No data for this period.", "Нет данных за этот период."},
	"report.summary":          {"Summary", "Сводка"},
	"report.top":              {"Top reels by views", "Топ рилсов по просмотрам"},
	"report.accounts":         {"Accounts", "Аккаунты"},
	"report.window":           {"Period", "Период"},
	"label.accounts_found":    {"Accounts found", "Найдено аккаунтов"},
	"label.items_found":       {"Reels found", "Найдено рилсов"},
	"label.avg_engagement":    {"Average engagement", "Средняя вовлечённость"},
	"label.top_views":         {"Top views", "Макс. просмотров"},
	"col.rank":                {"#", "№"},
	"col.account":             {"Account", "Аккаунт"},
	"col.full_name":           {"Name", "Имя"},
	"col.external_id":         {"ID", "ID"},
	"col.private":             {"Private", "Закрытый"},
	"col.verified":            {"Verified", "Подтверждён"},
	"col.profile":             {"Profile", "Профиль"},
	"col.caption":             {"Caption", "Подпись"},
	"col.views":               {"Views", "Просмотры"},
	"col.likes":               {"Likes", "Лайки"},
	"col.comments":            {"Comments", "Комментарии"},
	"col.engagement":          {"Engagement", "Вовлечённость"},
	"col.published":           {"Published", "Опубликован"},
	"col.link":                {"Link", "Ссылка"},
	"col.items":               {"Reels", "Рилсы"},
	"col.metric":              {"Metric", "Показатель"},
	"col.value":               {"Value", "Значение"},
	"sheet.accounts":          {"Accounts", "Аккаунты"},
	"sheet.items":             {"Reels", "Рилсы"},
	"sheet.analytics":         {"Analytics", "Аналитика"},
	"readme.title":            {"Competitor report archive", "Архив отчёта по конкурентам"},
	"readme.seed":             {"Seed account: @%s", "Исходный аккаунт: @%s"},
	"readme.project":          {"Project: %d", "Проект: %d"},
	"readme.generated":        {"Generated: %s", "Сформирован: %s"},
	"readme.contents":         {"Contents:", "Содержимое:"},
	"readme.html":             {"%s - report to open in a browser", "%s - отчёт для просмотра в браузере"},
	"readme.xlsx":             {"%s - spreadsheet with accounts, reels and analytics sheets", "%s - таблица с листами аккаунтов, рилсов и аналитики"},
	"readme.manifest":         {"%s - machine-readable file list", "%s - машиночитаемый список файлов"},
	"readme.expiry":           {"The download link expires after %s.", "Ссылка на скачивание действует %s."},
	"delivery.ready":          {"Competitor report for @%s is ready.", "Отчёт по конкурентам для @%s готов."},
	"delivery.counts":         {"Accounts: %d\nReels: %d", "Аккаунтов: %d\nРилсов: %d"},
	"delivery.engagement":     {"Average engagement: %.2f%%\nTop views: %d", "Средняя вовлечённость: %.2f%%\nМакс. просмотров: %d"},
	"delivery.download":       {"Download (link valid until %s UTC):\n%s", "Скачать (ссылка действует до %s UTC):\n%s"},
	"delivery.failed":         {"Competitor report for @%s could not be built: %s", "Не удалось сформировать отчёт по конкурентам для @%s: %s"},
	"failure.invalid_request": {"the request is invalid", "некорректный запрос"},
	"failure.unknown_project": {"the project does not exist", "проект не найден"},
	"failure.discovery":       {"the discovery service did not respond correctly", "сервис поиска аккаунтов не ответил корректно"},
	"failure.persistence":     {"the database is unavailable", "база данных недоступна"},
	"failure.timeout":         {"the run took too long", "запуск занял слишком много времени"},
	"failure.internal":        {"an internal error occurred", "произошла внутренняя ошибка"},
	"yes":                     {"yes", "да"},
	"no":                      {"no", "нет"},
}

var builder = newBuilder()

func newBuilder() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for key, e := range messages {
		_ = b.SetString(language.English, key, e.en)
		_ = b.SetString(language.Russian, key, e.ru)
	}
	return b
}

// Tag maps a requester language to a BCP 47 tag.
func Tag(lang domain.Language) language.Tag {
	if lang == domain.LanguageRU {
		return language.Russian
	}
	return language.English
}

// Printer returns a localized printer; numbers are grouped per locale.
func Printer(lang domain.Language) *message.Printer {
	return message.NewPrinter(Tag(lang), message.Catalog(builder))
}

// T formats the message registered under key.
func T(lang domain.Language, key string, args ...any) string {
	return Printer(lang).Sprintf(key, args...)
}

// YesNo localizes a boolean.
func YesNo(lang domain.Language, v bool) string {
	if v {
		return T(lang, "yes")
	}
	return T(lang, "no")
}
