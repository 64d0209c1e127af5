// Package catalog describes the programs the registry knows about: how they
// are displayed and whether their artifacts can be downloaded.
package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/animus-labs/release-registry/internal/domain"
)

const DefaultArtifactName = "{{.DisplayName}}.{{.Version}}.zip"

type Program struct {
	Name          string `yaml:"name"`
	DisplayName   string `yaml:"display_name,omitempty"`
	Distributable bool   `yaml:"distributable"`
	ArtifactName  string `yaml:"artifact_name,omitempty"`

	artifactTmpl *template.Template
}

type Catalog struct {
	programs map[string]Program
}

type file struct {
	Programs []Program `yaml:"programs"`
}

// Default knows one distributable program, "server".
func Default() *Catalog {
	c, err := New([]Program{{Name: "server", DisplayName: "Server", Distributable: true}})
	if err != nil {
		panic(err)
	}
	return c
}

func New(programs []Program) (*Catalog, error) {
	c := &Catalog{programs: make(map[string]Program, len(programs))}
	for i, p := range programs {
		p.Name = domain.NormalizeProgram(p.Name)
		if p.Name == "" {
			return nil, fmt.Errorf("programs[%d].name is required", i)
		}
		if _, dup := c.programs[p.Name]; dup {
			return nil, fmt.Errorf("programs[%d].name %q is duplicated", i, p.Name)
		}
		if strings.TrimSpace(p.DisplayName) == "" {
			p.DisplayName = displayName(p.Name)
		}
		if strings.TrimSpace(p.ArtifactName) == "" {
			p.ArtifactName = DefaultArtifactName
		}
		tmpl, err := template.New(p.Name).Option("missingkey=error").Parse(p.ArtifactName)
		if err != nil {
			return nil, fmt.Errorf("programs[%d].artifact_name: %w", i, err)
		}
		p.artifactTmpl = tmpl
		c.programs[p.Name] = p
	}
	return c, nil
}

func Parse(input []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(input, &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(f.Programs) == 0 {
		return nil, errors.New("catalog.programs must be non-empty")
	}
	return New(f.Programs)
}

// Load reads a YAML catalog from path. An empty path yields Default.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(raw)
}

func (c *Catalog) Lookup(program string) (Program, bool) {
	if c == nil {
		return Program{}, false
	}
	p, ok := c.programs[domain.NormalizeProgram(program)]
	return p, ok
}

// ObjectName renders the artifact object key for version.
func (p Program) ObjectName(version string) (string, error) {
	if p.artifactTmpl == nil {
		return "", fmt.Errorf("program %q has no artifact template", p.Name)
	}
	var buf bytes.Buffer
	err := p.artifactTmpl.Execute(&buf, struct {
		Name        string
		DisplayName string
		Version     string
	}{Name: p.Name, DisplayName: p.DisplayName, Version: version})
	if err != nil {
		return "", fmt.Errorf("render artifact name for %q: %w", p.Name, err)
	}
	return buf.String(), nil
}

func displayName(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError {
		return name
	}
	return string(unicode.ToUpper(r)) + name[size:]
}
