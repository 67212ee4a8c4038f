package templates

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"minutes/internal/config"
	"minutes/internal/services"
)

// AutoTemplate requests keyword-based detection.
const AutoTemplate = "auto"

// Selection records how a template was chosen.
type Selection struct {
	Requested string
	Chosen    string
	Scores    map[string]int
	Auto      bool
	Fallback  bool
}

// Metadata flattens the selection into job metadata entries.
func (s Selection) Metadata() map[string]string {
	out := map[string]string{
		"template_requested": s.Requested,
		"template_chosen":    s.Chosen,
		"template_auto":      strconv.FormatBool(s.Auto),
		"template_fallback":  strconv.FormatBool(s.Fallback),
	}
	if len(s.Scores) > 0 {
		names := make([]string, 0, len(s.Scores))
		for name := range s.Scores {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%d", name, s.Scores[name]))
		}
		out["template_scores"] = strings.Join(parts, ",")
	}
	return out
}

// Selector picks a template for a transcript.
type Selector struct {
	catalog    *Catalog
	fallback   string
	minMatches int
	priority   map[string]int
}

// NewSelector builds a selector over catalog. The fallback template must
// exist.
func NewSelector(catalog *Catalog, cfg config.Templates) (*Selector, error) {
	fallback := strings.ToLower(strings.TrimSpace(cfg.Fallback))
	if _, ok := catalog.Get(fallback); !ok {
		return nil, services.Wrap(services.ErrConfiguration, "templates", "fallback",
			fmt.Sprintf("fallback template %q is not in the catalog", cfg.Fallback), nil)
	}
	priority := make(map[string]int, len(cfg.Priority))
	for i, name := range cfg.Priority {
		name = strings.ToLower(strings.TrimSpace(name))
		if _, seen := priority[name]; !seen {
			priority[name] = i
		}
	}
	minMatches := cfg.MinKeywordMatches
	if minMatches <= 0 {
		minMatches = 1
	}
	return &Selector{
		catalog:    catalog,
		fallback:   fallback,
		minMatches: minMatches,
		priority:   priority,
	}, nil
}

// Catalog exposes the catalog the selector chooses from.
func (s *Selector) Catalog() *Catalog {
	return s.catalog
}

// Validate checks that requested is "auto", empty, or a catalog template.
func (s *Selector) Validate(requested string) error {
	requested = strings.TrimSpace(requested)
	if requested == "" || strings.EqualFold(requested, AutoTemplate) {
		return nil
	}
	if _, ok := s.catalog.Get(requested); !ok {
		return unknownTemplate(requested)
	}
	return nil
}

// Select resolves requested against the catalog. An explicit name must
// exist; "auto" or an empty name scores every template with keywords
// against transcript and falls back when none qualifies.
func (s *Selector) Select(requested, transcript string) (Template, Selection, error) {
	requested = strings.TrimSpace(requested)
	sel := Selection{Requested: requested}
	if requested != "" && !strings.EqualFold(requested, AutoTemplate) {
		tpl, ok := s.catalog.Get(requested)
		if !ok {
			return Template{}, sel, unknownTemplate(requested)
		}
		sel.Chosen = tpl.Name
		return tpl, sel, nil
	}

	sel.Auto = true
	if sel.Requested == "" {
		sel.Requested = AutoTemplate
	}
	sel.Scores = s.Score(transcript)

	best := ""
	for name, score := range sel.Scores {
		tpl, _ := s.catalog.Get(name)
		threshold := tpl.MinKeywordMatches
		if threshold <= 0 {
			threshold = s.minMatches
		}
		if score < threshold || score == 0 {
			continue
		}
		if best == "" || s.better(name, score, best, sel.Scores[best]) {
			best = name
		}
	}
	if best == "" {
		best = s.fallback
		sel.Fallback = true
	}
	tpl, _ := s.catalog.Get(best)
	sel.Chosen = tpl.Name
	return tpl, sel, nil
}

// Score counts keyword occurrences per template. Matching folds case and
// counts every non-overlapping occurrence of each keyword. A Caser is not
// safe for concurrent use, so each call folds with its own.
func (s *Selector) Score(transcript string) map[string]int {
	fold := cases.Fold()
	text := fold.String(transcript)
	scores := make(map[string]int)
	for _, tpl := range s.catalog.List() {
		if len(tpl.Keywords) == 0 {
			continue
		}
		total := 0
		for _, kw := range tpl.Keywords {
			total += strings.Count(text, fold.String(kw))
		}
		scores[tpl.Name] = total
	}
	return scores
}

func (s *Selector) better(name string, score int, current string, currentScore int) bool {
	if score != currentScore {
		return score > currentScore
	}
	p, hasP := s.priority[name]
	q, hasQ := s.priority[current]
	switch {
	case hasP && hasQ && p != q:
		return p < q
	case hasP != hasQ:
		return hasP
	default:
		return name < current
	}
}

func unknownTemplate(name string) error {
	return services.Wrap(services.ErrValidation, "templates", "select",
		fmt.Sprintf("unknown template %q", name), nil)
}
