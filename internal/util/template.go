package util

import (
	"strings"
	"sync"
	"text/template"
)

var templates sync.Map // source text -> *template.Template

var promptFuncs = template.FuncMap{
	"trim":  strings.TrimSpace,
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"join":  strings.Join,
}

// RenderTemplate executes text as a text/template against data. Parsed
// templates are cached by their source, since prompt formats are rendered
// once per generation. Text without actions is returned unchanged.
func RenderTemplate(text string, data any) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	var tmpl *template.Template
	if cached, ok := templates.Load(text); ok {
		tmpl = cached.(*template.Template)
	} else {
		parsed, err := template.New("prompt").Funcs(promptFuncs).Parse(text)
		if err != nil {
			return "", err
		}
		cached, _ := templates.LoadOrStore(text, parsed)
		tmpl = cached.(*template.Template)
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}
