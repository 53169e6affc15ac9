// Package prompts holds the versioned prompt templates for routing, SQL
// generation, validation, analytical planning, synthesis and verification.
// Templates live in YAML files embedded at build time; parameters bind by
// name and rendering is strict: unknown and unbound placeholders are errors.
package prompts

import (
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed templates/*.yaml
var templateFS embed.FS

// Template is one versioned prompt with a system message and a user body.
type Template struct {
	Name        string `yaml:"name"`
	Version     int    `yaml:"version"`
	Description string `yaml:"description"`
	System      string `yaml:"system"`
	User        string `yaml:"user"`
}

// Library is the loaded template set, keyed by name.
type Library struct {
	templates map[string]*Template
}

// Template names used by the engine.
const (
	TemplateRouter              = "router"
	TemplateSQLGeneration       = "sql_generation"
	TemplateResponseSynthesis   = "response_synthesis"
	TemplateConversational      = "conversational"
	TemplateAnalyticalPlanner   = "analytical_planner"
	TemplateAnalyticalSynthesis = "analytical_synthesis"
	TemplateVerification        = "verification"
)

var placeholderPattern = regexp.MustCompile(`\{\{([a-z_]+)\}\}`)

// Load parses every embedded template file into a Library.
func Load() (*Library, error) {
	lib := &Library{templates: make(map[string]*Template)}

	err := fs.WalkDir(templateFS, "templates", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".yaml") {
			return nil
		}
		data, err := templateFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read template %s: %w", path, err)
		}
		var tmpl Template
		if err := yaml.Unmarshal(data, &tmpl); err != nil {
			return fmt.Errorf("parse template %s: %w", path, err)
		}
		if tmpl.Name == "" {
			return fmt.Errorf("template %s has no name", path)
		}
		if _, exists := lib.templates[tmpl.Name]; exists {
			return fmt.Errorf("duplicate template name %q", tmpl.Name)
		}
		lib.templates[tmpl.Name] = &tmpl
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lib, nil
}

// MustLoad loads the library or panics. For wiring in main where a broken
// embedded template set is unrecoverable.
func MustLoad() *Library {
	lib, err := Load()
	if err != nil {
		panic(err)
	}
	return lib
}

// Get returns a template by name.
func (l *Library) Get(name string) (*Template, error) {
	tmpl, ok := l.templates[name]
	if !ok {
		return nil, fmt.Errorf("unknown template %q", name)
	}
	return tmpl, nil
}

// Names returns the sorted template names.
func (l *Library) Names() []string {
	names := make([]string, 0, len(l.templates))
	for name := range l.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render binds params into a template's system and user strings.
// Every placeholder must be bound and every param must be a placeholder.
func (l *Library) Render(name string, params map[string]string) (system, user string, err error) {
	tmpl, err := l.Get(name)
	if err != nil {
		return "", "", err
	}

	wanted := tmpl.placeholders()
	for param := range params {
		if _, ok := wanted[param]; !ok {
			return "", "", fmt.Errorf("template %q does not take parameter %q", name, param)
		}
	}
	for placeholder := range wanted {
		if _, ok := params[placeholder]; !ok {
			return "", "", fmt.Errorf("template %q parameter %q not bound", name, placeholder)
		}
	}

	return substitute(tmpl.System, params), substitute(tmpl.User, params), nil
}

// placeholders collects the parameter names referenced by the template.
func (t *Template) placeholders() map[string]struct{} {
	found := make(map[string]struct{})
	for _, body := range []string{t.System, t.User} {
		for _, m := range placeholderPattern.FindAllStringSubmatch(body, -1) {
			found[m[1]] = struct{}{}
		}
	}
	return found
}

func substitute(body string, params map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(body, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		return params[key]
	})
}
