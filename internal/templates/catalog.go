// Package templates holds the meeting-type prompt catalog, picks a template
// for a transcript and renders it into a prompt.
package templates

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"minutes/internal/services"
)

//go:embed catalog.yaml
var builtinCatalog []byte

// Template is one meeting type with its prompt body.
type Template struct {
	Name              string   `yaml:"name"`
	DisplayName       string   `yaml:"display_name"`
	Description       string   `yaml:"description"`
	Keywords          []string `yaml:"keywords"`
	MinKeywordMatches int      `yaml:"min_keyword_matches"`
	Body              string   `yaml:"body"`
}

type catalogFile struct {
	Templates []Template `yaml:"templates"`
}

// Catalog is an immutable set of templates keyed by name.
type Catalog struct {
	byName map[string]Template
}

// Builtin returns the embedded catalog.
func Builtin() (*Catalog, error) {
	catalog := &Catalog{byName: make(map[string]Template)}
	if err := catalog.merge(builtinCatalog, "builtin catalog"); err != nil {
		return nil, err
	}
	return catalog, nil
}

// LoadCatalog returns the embedded catalog with the templates of path (when
// non-empty) layered on top. A file template replaces a builtin one of the
// same name.
func LoadCatalog(path string) (*Catalog, error) {
	catalog, err := Builtin()
	if err != nil {
		return nil, err
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return catalog, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "templates", "read catalog", path, err)
	}
	if err := catalog.merge(data, path); err != nil {
		return nil, err
	}
	return catalog, nil
}

func (c *Catalog) merge(data []byte, source string) error {
	var doc catalogFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return services.Wrap(services.ErrConfiguration, "templates", "parse catalog", source, err)
	}
	for i, tpl := range doc.Templates {
		tpl.Name = strings.ToLower(strings.TrimSpace(tpl.Name))
		if tpl.Name == "" {
			return services.Wrap(services.ErrConfiguration, "templates", "parse catalog",
				fmt.Sprintf("%s: template %d has no name", source, i), nil)
		}
		if strings.TrimSpace(tpl.Body) == "" {
			return services.Wrap(services.ErrConfiguration, "templates", "parse catalog",
				fmt.Sprintf("%s: template %q has an empty body", source, tpl.Name), nil)
		}
		if strings.TrimSpace(tpl.DisplayName) == "" {
			tpl.DisplayName = cases.Title(language.Und).String(tpl.Name)
		}
		var keywords []string
		for _, kw := range tpl.Keywords {
			if kw = strings.TrimSpace(kw); kw != "" {
				keywords = append(keywords, kw)
			}
		}
		tpl.Keywords = keywords
		c.byName[tpl.Name] = tpl
	}
	return nil
}

// Get looks up a template by case-insensitive name.
func (c *Catalog) Get(name string) (Template, bool) {
	tpl, ok := c.byName[strings.ToLower(strings.TrimSpace(name))]
	return tpl, ok
}

// Names lists template names in lexical order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.byName))
	for name := range c.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns every template ordered by name.
func (c *Catalog) List() []Template {
	names := c.Names()
	out := make([]Template, 0, len(names))
	for _, name := range names {
		out = append(out, c.byName[name])
	}
	return out
}
