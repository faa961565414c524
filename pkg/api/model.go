package api

import (
	"bytes"
	"html/template"
	"net/http"

	"datamakelaar/pkg/dataset"
)

type indexPage struct {
	Datasets     []*dataset.Config
	Environments []string
	Error        string
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="nl">
<head><meta charset="utf-8"><title>VIP DataMakelaar</title></head>
<body>
<h1>VIP DataMakelaar</h1>
{{if .Error}}<p>{{.Error}}</p>{{end}}
{{range .Datasets}}
<h2>{{.Dataset}}</h2>
<p>Object type {{.ObjectType}}, {{len .Attributes}} column(s)</p>
<form method="get" action="/api/datasets/{{.Key}}/template">
  <select name="env">{{range $.Environments}}<option>{{.}}</option>{{end}}</select>
  <button type="submit">Download template</button>
</form>
<form method="post" action="/api/datasets/{{.Key}}/uploads" enctype="multipart/form-data">
  <select name="env">{{range $.Environments}}<option>{{.}}</option>{{end}}</select>
  <input type="file" name="file" accept=".xlsx">
  <button type="submit">Upload and validate</button>
</form>
{{else}}
<p>No datasets configured.</p>
{{end}}
</body>
</html>
`))

func (h *handler) getIndex(w http.ResponseWriter, r *http.Request) {
	page := indexPage{Environments: h.svc.Environments()}
	configs, err := h.svc.Datasets()
	if err != nil {
		page.Error = err.Error()
	}
	page.Datasets = configs

	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, page); err != nil {
		sendError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
