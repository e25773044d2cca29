package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var transcriptTemplate = template.Must(
	template.New("transcript.html").
		Funcs(template.FuncMap{
			"formatTime": func(t time.Time) string { return t.UTC().Format(LineTimeLayout) },
		}).
		ParseFS(templateFS, "templates/transcript.html"),
)

// RenderHTML renders the transcript page used for PDF output.
func RenderHTML(t Transcript) (string, error) {
	var buf bytes.Buffer
	if err := transcriptTemplate.Execute(&buf, t); err != nil {
		return "", err
	}
	return buf.String(), nil
}
