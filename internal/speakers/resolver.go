// Package speakers maps diarized speaker labels to participant names.
package speakers

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"minutes/internal/config"
	"minutes/internal/transcription"
)

// Mapping is an exact speaker label to display name table.
type Mapping map[string]string

// Resolver rewrites transcript speaker labels according to a mapping.
type Resolver struct {
	mapping Mapping
}

// NewResolver returns a resolver over mapping. Blank keys and names are
// ignored.
func NewResolver(mapping Mapping) *Resolver {
	clean := make(Mapping, len(mapping))
	for label, name := range mapping {
		label = strings.TrimSpace(label)
		name = strings.TrimSpace(name)
		if label == "" || name == "" {
			continue
		}
		clean[label] = name
	}
	return &Resolver{mapping: clean}
}

// NewResolverFromConfig merges the mapping file (when configured) with the
// inline names table. Inline entries win.
func NewResolverFromConfig(cfg *config.Config) (*Resolver, error) {
	merged := Mapping{}
	if path := strings.TrimSpace(cfg.Speakers.MappingFile); path != "" {
		fromFile, err := LoadMapping(path)
		if err != nil {
			return nil, err
		}
		for label, name := range fromFile {
			merged[label] = name
		}
	}
	for label, name := range cfg.Speakers.Names {
		merged[label] = name
	}
	return NewResolver(merged), nil
}

// Len returns the number of usable mapping entries.
func (r *Resolver) Len() int {
	if r == nil {
		return 0
	}
	return len(r.mapping)
}

// Resolve returns a copy of t with mapped labels replaced. Unknown labels
// are kept.
func (r *Resolver) Resolve(t transcription.Transcript) transcription.Transcript {
	out := transcription.Transcript{
		Duration:   t.Duration,
		Utterances: make([]transcription.Utterance, len(t.Utterances)),
	}
	copy(out.Utterances, t.Utterances)
	if r.Len() == 0 {
		return out
	}
	for i := range out.Utterances {
		if name, ok := r.mapping[out.Utterances[i].Speaker]; ok {
			out.Utterances[i].Speaker = name
		}
	}
	return out
}

type mappingFile struct {
	Speakers Mapping `yaml:"speakers"`
}

// LoadMapping reads a YAML document of the form
//
//	speakers:
//	  "Speaker 0": Анна
//
// A missing file is an error; an empty one yields an empty mapping.
func LoadMapping(path string) (Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("speaker mapping %q not found: %w", path, err)
		}
		return nil, fmt.Errorf("read speaker mapping: %w", err)
	}
	var doc mappingFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse speaker mapping %q: %w", path, err)
	}
	if doc.Speakers == nil {
		return Mapping{}, nil
	}
	return doc.Speakers, nil
}

var minutesNamePattern = regexp.MustCompile(`((?:Спикер|Speaker) \d+) \(([^)]+)\)`)

// String renders the mapping as "label=name" pairs sorted by label.
func (m Mapping) String() string {
	labels := make([]string, 0, len(m))
	for label := range m {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	pairs := make([]string, len(labels))
	for i, label := range labels {
		pairs[i] = label + "=" + m[label]
	}
	return strings.Join(pairs, "; ")
}

// ExtractFromMinutes collects "Speaker N (Name)" annotations that the
// minutes writer left in its output. The first name seen for a label wins.
func ExtractFromMinutes(minutes string) Mapping {
	found := Mapping{}
	for _, match := range minutesNamePattern.FindAllStringSubmatch(minutes, -1) {
		label := match[1]
		name := strings.Trim(strings.TrimSpace(match[2]), "*_")
		if name == "" {
			continue
		}
		if _, seen := found[label]; !seen {
			found[label] = name
		}
	}
	return found
}
