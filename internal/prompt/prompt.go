// Package prompt holds the immutable set of instruction templates and tool
// descriptions used by the agent. A Set is built once at start-up and is
// safe for concurrent use because nothing mutates it afterwards.
package prompt

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"path"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Template names.
const (
	Router         = "router"
	WordLookup     = "word_lookup"
	CategoryList   = "category_list"
	Quiz           = "quiz"
	DirectResponse = "direct_response"
)

var requiredTemplates = []string{Router, WordLookup, CategoryList, Quiz, DirectResponse}

//go:embed prompts.yaml
var defaultDocument []byte

// Data is the value every template is executed against.
type Data struct {
	Query    string
	Topic    string
	Context  string
	History  string
	Question string
}

type document struct {
	Templates map[string]string `yaml:"templates"`
	Tools     map[string]string `yaml:"tools"`
}

// Set is a parsed, read-only collection of templates and tool descriptions.
type Set struct {
	templates map[string]*template.Template
	tools     map[string]string
}

// Lister returns every parameter under an SSM path as a name -> value map.
type Lister interface {
	GetParametersByPath(ctx context.Context, path string) (map[string]string, error)
}

// Default parses the embedded prompt document.
func Default() (*Set, error) {
	return Parse(defaultDocument, nil)
}

// Parse builds a Set from a YAML document. Entries in overrides replace
// templates or tool descriptions of the same name.
func Parse(doc []byte, overrides map[string]string) (*Set, error) {
	var d document
	if err := yaml.Unmarshal(doc, &d); err != nil {
		return nil, fmt.Errorf("prompt: parse document: %w", err)
	}
	for name, text := range overrides {
		if _, ok := d.Tools[name]; ok {
			d.Tools[name] = text
			continue
		}
		if d.Templates == nil {
			d.Templates = map[string]string{}
		}
		d.Templates[name] = text
	}

	s := &Set{
		templates: make(map[string]*template.Template, len(d.Templates)),
		tools:     make(map[string]string, len(d.Tools)),
	}
	for _, name := range requiredTemplates {
		if strings.TrimSpace(d.Templates[name]) == "" {
			return nil, fmt.Errorf("prompt: template %q is missing", name)
		}
	}
	for name, text := range d.Templates {
		tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("prompt: parse template %q: %w", name, err)
		}
		s.templates[name] = tmpl
	}
	for name, text := range d.Tools {
		s.tools[name] = strings.TrimSpace(text)
	}
	return s, nil
}

// Load parses the embedded document and applies overrides stored under
// <prefix>/prompts/ when a lister is given. Parameter base names select the
// template or tool to replace.
func Load(ctx context.Context, lister Lister, prefix string) (*Set, error) {
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if lister == nil || prefix == "" {
		return Default()
	}
	params, err := lister.GetParametersByPath(ctx, prefix+"/prompts")
	if err != nil {
		return nil, fmt.Errorf("prompt: load overrides: %w", err)
	}
	overrides := make(map[string]string, len(params))
	for name, value := range params {
		overrides[path.Base(name)] = value
	}
	return Parse(defaultDocument, overrides)
}

// Render executes the named template.
func (s *Set) Render(name string, data Data) (string, error) {
	tmpl, ok := s.templates[name]
	if !ok {
		return "", fmt.Errorf("prompt: unknown template %q", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("prompt: render %q: %w", name, err)
	}
	return buf.String(), nil
}

// MustRender is Render for templates without placeholders.
func (s *Set) MustRender(name string) string {
	out, err := s.Render(name, Data{})
	if err != nil {
		panic(err)
	}
	return out
}

// ToolDescription returns the model-facing description for a tool name.
func (s *Set) ToolDescription(name string) (string, error) {
	desc, ok := s.tools[name]
	if !ok || desc == "" {
		return "", errors.New("prompt: no description for tool " + name)
	}
	return desc, nil
}
