package notify

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"text/template"

	"gopkg.in/yaml.v3"
)

const DefaultTemplate = `[Buzzer {{.EventLabel}}]
Signal: {{.Signal}}
Command: {{.Command}}
State: {{.State}}
Time: {{.Time}}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	Signal     string
	State      string
	Command    string
	Time       string
	Event      string
	EventLabel string
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("buzzer-notification").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

type templateFile struct {
	Template string `yaml:"template"`
}

// LoadTemplateFile reads a YAML document with a top-level "template" key.
func LoadTemplateFile(path string) (*Template, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file templateFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("notification template %s: %w", path, err)
	}
	return NewTemplate(file.Template)
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("notification template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
