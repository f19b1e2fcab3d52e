package notifications

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Message formats with a template under templates/.
const (
	FormatMarkdown = "markdown"
	FormatSlack    = "slack"
)

// Renderer renders human-readable message bodies from templates.
type Renderer struct {
	templates map[string]*template.Template
}

// NewRenderer creates a new renderer and loads all templates.
func NewRenderer() (*Renderer, error) {
	funcMap := template.FuncMap{
		"title":         titleCase,
		"formatTime":    formatTime,
		"severityEmoji": severityEmoji,
	}

	r := &Renderer{templates: make(map[string]*template.Template)}
	for _, name := range []string{FormatMarkdown, FormatSlack} {
		filename := fmt.Sprintf("templates/%s.tmpl", name)

		content, err := templatesFS.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", filename, err)
		}

		tmpl, err := template.New(name).Funcs(funcMap).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		r.templates[name] = tmpl
	}

	return r, nil
}

// Render renders msg in the given format.
func (r *Renderer) Render(format string, msg IncidentCreated) (string, error) {
	tmpl, ok := r.templates[format]
	if !ok {
		return "", fmt.Errorf("template not found: %s", format)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, msg); err != nil {
		return "", fmt.Errorf("execute template %s: %w", format, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

var titleCaser = cases.Title(language.English)

func titleCase(s string) string {
	return titleCaser.String(strings.ReplaceAll(s, "_", " "))
}

func formatTime(t time.Time) string {
	return t.UTC().Format("Jan 2, 2006 15:04 UTC")
}

// SeverityColor returns the attachment colour used for severity.
func SeverityColor(severity string) string {
	switch strings.ToLower(severity) {
	case "low":
		return "#2eb886"
	case "medium":
		return "#daa038"
	case "high":
		return "#e8710a"
	case "critical":
		return "#a30200"
	default:
		return "#cccccc"
	}
}

func severityEmoji(severity string) string {
	switch strings.ToLower(severity) {
	case "low":
		return "🟢"
	case "medium":
		return "🟡"
	case "high":
		return "🟠"
	case "critical":
		return "🔴"
	default:
		return "⚪"
	}
}
