package view

import (
	"html/template"
	"io"
)

var templates = template.Must(template.New("panel").Parse(`
{{- if .Compact -}}
<div class="connection-status compact {{.Class}}" data-state="{{.State}}" title="{{.Tooltip}}">
  <span class="icon icon-{{.Icon}}"></span><span class="dot dot-{{.Color}}"></span>
  {{- if .ShowReconnect}}<button type="button" data-action="reconnect" title="Retry">&#x21bb;</button>{{end}}
</div>
{{- else -}}
<div class="connection-status {{.Class}}" data-state="{{.State}}">
  <span class="icon icon-{{.Icon}}"></span>
  <span class="text text-{{.Color}}">{{.Text}}</span>
  {{- if .LatencyBadge}}<span class="badge latency">{{.LatencyBadge}}</span>{{end}}
  {{- range .Details}}
  <div class="detail">{{.}}</div>
  {{- end}}
  {{- if .ShowReconnect}}
  <button type="button" data-action="reconnect">Reconnect</button>
  {{- end}}
</div>
{{- end}}
`))

func init() {
	template.Must(templates.New("indicator").Parse(`
{{- if .Visible -}}
<div class="connection-indicator corner-{{.Corner}}" role="status">
  <span class="icon icon-{{.Icon}}"></span>
  <span class="text text-{{.Color}}">{{.Text}}</span>
</div>
{{- end}}
`))
}

func renderPanel(w io.Writer, m PanelModel) error {
	return templates.ExecuteTemplate(w, "panel", m)
}

func renderIndicator(w io.Writer, m IndicatorModel) error {
	return templates.ExecuteTemplate(w, "indicator", m)
}
