// Package language describes the programming languages a submission may use
// and how the judge builds and runs each one.
package language

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/shlex"
)

// Spec is one accepted language. Command templates may reference {src} and
// {bin}, which expand to SourceFile and BinaryFile inside the judge work dir.
type Spec struct {
	ID         string `yaml:"id" json:"id"`
	Name       string `yaml:"name" json:"name"`
	Extension  string `yaml:"extension" json:"extension"`
	SourceFile string `yaml:"sourceFile" json:"source_file"`
	BinaryFile string `yaml:"binaryFile" json:"binary_file"`
	BuildCmd   string `yaml:"buildCmd" json:"build_cmd,omitempty"`
	RunCmd     string `yaml:"runCmd" json:"run_cmd"`
}

// Interpreted reports whether the language has no build step.
func (s Spec) Interpreted() bool {
	return strings.TrimSpace(s.BuildCmd) == ""
}

// MatchesFilename checks the upload's extension against the language.
func (s Spec) MatchesFilename(name string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	return ext == s.Extension
}

// Commands is the argv pair shipped to the judge.
type Commands struct {
	Build []string `json:"build,omitempty"`
	Run   []string `json:"run"`
}

// Registry is an immutable set of language specs keyed by ID.
type Registry struct {
	specs map[string]Spec
}

// NewRegistry validates specs and indexes them. Every template must split
// into a non-empty argv.
func NewRegistry(specs []Spec) (*Registry, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("at least one language is required")
	}
	r := &Registry{specs: make(map[string]Spec, len(specs))}
	for _, s := range specs {
		if s.ID == "" || s.Extension == "" || s.SourceFile == "" {
			return nil, fmt.Errorf("language %q: id, extension and sourceFile are required", s.ID)
		}
		if _, dup := r.specs[s.ID]; dup {
			return nil, fmt.Errorf("language %q declared twice", s.ID)
		}
		s.Extension = strings.TrimPrefix(strings.ToLower(s.Extension), ".")
		if _, err := r.commands(s); err != nil {
			return nil, fmt.Errorf("language %q: %w", s.ID, err)
		}
		r.specs[s.ID] = s
	}
	return r, nil
}

// Lookup returns the spec for id.
func (r *Registry) Lookup(id string) (Spec, bool) {
	s, ok := r.specs[id]
	return s, ok
}

// IDs lists registered language ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.specs))
	for id := range r.specs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Commands expands the build and run templates of id.
func (r *Registry) Commands(id string) (Commands, error) {
	s, ok := r.specs[id]
	if !ok {
		return Commands{}, fmt.Errorf("unknown language %q", id)
	}
	return r.commands(s)
}

func (r *Registry) commands(s Spec) (Commands, error) {
	var out Commands
	if !s.Interpreted() {
		build, err := expand(s.BuildCmd, s)
		if err != nil {
			return Commands{}, fmt.Errorf("build command: %w", err)
		}
		out.Build = build
	}
	run, err := expand(s.RunCmd, s)
	if err != nil {
		return Commands{}, fmt.Errorf("run command: %w", err)
	}
	out.Run = run
	return out, nil
}

func expand(tpl string, s Spec) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, fmt.Errorf("command template is required")
	}
	expanded := strings.ReplaceAll(tpl, "{src}", s.SourceFile)
	expanded = strings.ReplaceAll(expanded, "{bin}", s.BinaryFile)
	fields, err := shlex.Split(expanded)
	if err != nil {
		return nil, fmt.Errorf("parse command template failed: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("command is empty after expansion")
	}
	return fields, nil
}
