// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

// Package recipe models conda recipes: the meta.yaml manifest, the
// jinja-subset templating and line selectors that turn the manifest's
// template text in to a static document, and validation of the result.
package recipe

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"k8s.io/apimachinery/pkg/util/intstr"
	"sigs.k8s.io/yaml"

	"github.com/nsls2forge/condabuild/pkg/conda/matchspec"
	"github.com/nsls2forge/condabuild/pkg/conda/version"
)

// A Recipe is a parsed, already-rendered meta.yaml.  Requirement and import
// lists keep their authored order; nothing here sorts or deduplicates.
type Recipe struct {
	Package      Package      `json:"package"`
	Source       Source       `json:"source,omitempty"`
	Build        Build        `json:"build,omitempty"`
	Requirements Requirements `json:"requirements,omitempty"`
	Test         Test         `json:"test,omitempty"`
	About        About        `json:"about,omitempty"`
}

type Package struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

type Source struct {
	// Path is a relative path from the recipe directory to the source tree.
	Path   string `json:"path,omitempty"`
	GitURL string `json:"git_url,omitempty"`
	GitRev string `json:"git_rev,omitempty"`
	URL    string `json:"url,omitempty"`
	MD5    string `json:"md5,omitempty"`
	SHA256 string `json:"sha256,omitempty"`
}

type Build struct {
	Number      intstr.IntOrString `json:"number,omitempty"`
	String      string             `json:"string,omitempty"`
	Noarch      string             `json:"noarch,omitempty"`
	Script      string             `json:"script,omitempty"`
	EntryPoints []string           `json:"entry_points,omitempty"`
}

type Requirements struct {
	Build []string `json:"build,omitempty"`
	Run   []string `json:"run,omitempty"`
}

type Test struct {
	Requires []string `json:"requires,omitempty"`
	Imports  []string `json:"imports,omitempty"`
	Commands []string `json:"commands,omitempty"`
}

type About struct {
	Home    string `json:"home,omitempty"`
	License string `json:"license,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// Parse parses rendered (template-free) meta.yaml text.  Unknown fields and
// duplicate keys are errors.
func Parse(data []byte) (*Recipe, error) {
	var ret Recipe
	if err := yaml.UnmarshalStrict(data, &ret); err != nil {
		return nil, fmt.Errorf("recipe.Parse: %w", err)
	}
	return &ret, nil
}

// Load reads meta.yaml from a recipe directory.  The returned bytes are
// template text; feed them to Render before Parse.
func Load(dir string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(dir, "meta.yaml"))
	if err != nil {
		return nil, err
	}
	return data, nil
}

var (
	reRecipeName = regexp.MustCompile(`^[a-z0-9_.-]+$`)
	reModuleName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)
)

// Validate checks the semantic invariants that strict YAML parsing can't:
// package identity, parseable versions and requirement specs, and well-formed
// import names.
func (r *Recipe) Validate() error {
	if r.Package.Name == "" {
		return fmt.Errorf("recipe: package: name is required")
	}
	if !reRecipeName.MatchString(r.Package.Name) {
		return fmt.Errorf("recipe: package: name %q must be lowercase [a-z0-9_.-]", r.Package.Name)
	}
	if r.Package.Version == "" {
		return fmt.Errorf("recipe: package: version is required")
	}
	if _, err := version.Parse(r.Package.Version); err != nil {
		return fmt.Errorf("recipe: package: version: %w", err)
	}
	for _, listing := range []struct {
		section string
		specs   []string
	}{
		{"requirements: build", r.Requirements.Build},
		{"requirements: run", r.Requirements.Run},
		{"test: requires", r.Test.Requires},
	} {
		for _, spec := range listing.specs {
			if _, err := matchspec.Parse(spec); err != nil {
				return fmt.Errorf("recipe: %s: %w", listing.section, err)
			}
		}
	}
	for _, mod := range r.Test.Imports {
		if !reModuleName.MatchString(mod) {
			return fmt.Errorf("recipe: test: imports: invalid module name %q", mod)
		}
	}
	return nil
}
