package report

import "html/template"

var pageTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="{{.Lang}}">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body{font-family:sans-serif;margin:2em;color:#222}
table{border-collapse:collapse;margin-bottom:2em}
th,td{border:1px solid #ccc;padding:4px 8px;text-align:left}
td.num{text-align:right}
.no-data{font-size:1.2em;color:#888}
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p class="generated">{{.Generated}}</p>
<h2>{{.Labels.Summary}}</h2>
<table class="summary">
<tr><th>{{.Labels.AccountsFound}}</th><td class="num">{{.Summary.Accounts}}</td></tr>
<tr><th>{{.Labels.ItemsFound}}</th><td class="num">{{.Summary.Items}}</td></tr>
<tr><th>{{.Labels.AvgEngagement}}</th><td class="num">{{.Summary.Engagement}}</td></tr>
<tr><th>{{.Labels.TopViews}}</th><td class="num">{{.Summary.TopViews}}</td></tr>
{{- if .Summary.Window}}
<tr><th>{{.Labels.Window}}</th><td>{{.Summary.Window}}</td></tr>
{{- end}}
</table>
{{- if .Empty}}
<p class="no-data">{{.NoData}}</p>
{{- else}}
<h2>{{.Labels.Top}}</h2>
{{- if .Top}}
<table class="top">
<tr><th>{{.Labels.Rank}}</th><th>{{.Labels.Account}}</th><th>{{.Labels.Caption}}</th><th>{{.Labels.Views}}</th><th>{{.Labels.Likes}}</th><th>{{.Labels.Comments}}</th><th>{{.Labels.Engagement}}</th><th>{{.Labels.Published}}</th></tr>
{{- range .Top}}
<tr class="item" data-id="{{.ID}}"><td class="num">{{.Rank}}</td><td>@{{.Account}}</td><td>{{if .URL}}<a href="{{.URL}}">{{.Caption}}</a>{{else}}{{.Caption}}{{end}}</td><td class="num">{{.Views}}</td><td class="num">{{.Likes}}</td><td class="num">{{.Comments}}</td><td class="num">{{.Engagement}}</td><td>{{.Published}}</td></tr>
{{- end}}
</table>
{{- else}}
<p class="no-data">{{.NoData}}</p>
{{- end}}
<h2>{{.Labels.Accounts}}</h2>
<table class="accounts">
<tr><th>{{.Labels.Account}}</th><th>{{.Labels.FullName}}</th><th>{{.Labels.Items}}</th><th>{{.Labels.Views}}</th><th>{{.Labels.Engagement}}</th></tr>
{{- range .Accounts}}
<tr class="account"><td><a href="{{.URL}}">@{{.Username}}</a></td><td>{{.FullName}}</td><td class="num">{{.Items}}</td><td class="num">{{.Views}}</td><td class="num">{{.Engagement}}</td></tr>
{{- end}}
</table>
{{- end}}
</body>
</html>
`))
