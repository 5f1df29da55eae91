package facts

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/hpungsan/brief/internal/errors"
)

// document is the on-disk layout of a facts file:
//
//	rules:
//	  - name: tests
//	    text: Run the test suite before handing off.
//	    priority: 10
//	tech_stack:
//	  - name: language
//	    text: Go 1.25
type document struct {
	Rules     []Fact `yaml:"rules"`
	TechStack []Fact `yaml:"tech_stack"`
}

// FileProvider reads facts from YAML files. Files are re-read on every call
// so edits show up without a restart. Missing files contribute nothing.
type FileProvider struct {
	fs    afero.Fs
	paths []string
}

// NewFileProvider creates a provider over paths on fs.
func NewFileProvider(fs afero.Fs, paths ...string) *FileProvider {
	return &FileProvider{fs: fs, paths: paths}
}

func (p *FileProvider) Name() string {
	return "file:" + strings.Join(p.paths, ",")
}

func (p *FileProvider) Facts(ctx context.Context, scope Scope) ([]Fact, error) {
	var out []Fact
	for _, path := range p.paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		list, err := p.load(path)
		if err != nil {
			return nil, err
		}
		for _, f := range list {
			if f.AppliesTo(scope.Role) {
				out = append(out, f)
			}
		}
	}
	return out, nil
}

func (p *FileProvider) load(path string) ([]Fact, error) {
	data, err := afero.ReadFile(p.fs, path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(data, path)
}

// Parse decodes a facts document. source names the input in errors.
func Parse(data []byte, source string) ([]Fact, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.NewMalformed(fmt.Sprintf("invalid facts file %s", source), map[string]any{
			"source": source,
			"error":  err.Error(),
		})
	}

	out := make([]Fact, 0, len(doc.Rules)+len(doc.TechStack))
	for _, group := range []struct {
		kind Kind
		list []Fact
	}{{KindRule, doc.Rules}, {KindTechStack, doc.TechStack}} {
		for i, f := range group.list {
			f.Name = strings.TrimSpace(f.Name)
			f.Text = strings.TrimSpace(f.Text)
			if f.Name == "" || f.Text == "" {
				return nil, errors.NewMalformed(fmt.Sprintf("%s[%d] in %s needs a name and text", group.kind, i, source), map[string]any{
					"source": source,
					"index":  i,
				})
			}
			f.Kind = group.kind
			out = append(out, f)
		}
	}
	return out, nil
}
