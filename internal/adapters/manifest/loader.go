// Package manifest reads plugin manifests from YAML files.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bnema/jupyter-engine-manager/internal/domain"
	"gopkg.in/yaml.v3"
)

// stringList accepts either a single scalar or a sequence of scalars.
type stringList []string

func (l *stringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if strings.TrimSpace(value.Value) == "" {
			*l = nil
			return nil
		}
		*l = stringList{value.Value}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := value.Decode(&items); err != nil {
			return err
		}
		*l = items
		return nil
	default:
		return fmt.Errorf("line %d: expected a string or a list of strings", value.Line)
	}
}

type envEntry struct {
	Type   string `yaml:"type"`
	Spec   string `yaml:"spec"`
	Kernel string `yaml:"kernel"`
}

// envList accepts one env mapping or a sequence of them.
type envList []envEntry

func (l *envList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.MappingNode:
		var entry envEntry
		if err := value.Decode(&entry); err != nil {
			return err
		}
		*l = envList{entry}
		return nil
	case yaml.SequenceNode:
		var entries []envEntry
		if err := value.Decode(&entries); err != nil {
			return err
		}
		*l = entries
		return nil
	default:
		return fmt.Errorf("line %d: env must be a mapping or a list of mappings", value.Line)
	}
}

type scriptEntry struct {
	Lang    string            `yaml:"lang"`
	Content string            `yaml:"content"`
	Src     string            `yaml:"src"`
	Attrs   map[string]string `yaml:"attrs"`
}

type file struct {
	ID           string        `yaml:"id"`
	Name         string        `yaml:"name"`
	Tags         stringList    `yaml:"tags"`
	Requirements stringList    `yaml:"requirements"`
	Env          envList       `yaml:"env"`
	Scripts      []scriptEntry `yaml:"scripts"`
}

// Load reads a manifest file. Script sources are resolved relative to the
// manifest's directory.
func Load(path string) (domain.PluginManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.PluginManifest{}, fmt.Errorf("read manifest: %w", err)
	}
	manifest, err := Parse(data, filepath.Dir(path))
	if err != nil {
		return domain.PluginManifest{}, fmt.Errorf("load manifest %s: %w", path, err)
	}
	return manifest, nil
}

// Parse decodes a manifest document. dir is where relative script sources
// are looked up; empty disables src loading.
func Parse(data []byte, dir string) (domain.PluginManifest, error) {
	var raw file
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return domain.PluginManifest{}, fmt.Errorf("parse manifest: %w", err)
	}

	name := strings.TrimSpace(raw.Name)
	if name == "" {
		return domain.PluginManifest{}, errors.New("manifest name is required")
	}
	id := strings.TrimSpace(raw.ID)
	if id == "" {
		id = name
	}

	manifest := domain.PluginManifest{
		ID:           id,
		Name:         name,
		Requirements: []string(raw.Requirements),
		Tags:         []string(raw.Tags),
	}
	for _, env := range raw.Env {
		manifest.Env = append(manifest.Env, domain.PluginEnv{Type: env.Type, Spec: env.Spec, Kernel: env.Kernel})
	}
	for i, script := range raw.Scripts {
		content, err := scriptContent(script, dir)
		if err != nil {
			return domain.PluginManifest{}, fmt.Errorf("script %d: %w", i, err)
		}
		manifest.Scripts = append(manifest.Scripts, domain.PluginScript{
			Content: content,
			Lang:    script.Lang,
			Attrs:   script.Attrs,
			Src:     script.Src,
		})
	}
	return manifest, nil
}

func scriptContent(script scriptEntry, dir string) (string, error) {
	if script.Content != "" || script.Src == "" {
		return script.Content, nil
	}
	if dir == "" {
		return "", fmt.Errorf("cannot resolve src %q without a manifest directory", script.Src)
	}
	src := script.Src
	if !filepath.IsAbs(src) {
		src = filepath.Join(dir, src)
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return "", fmt.Errorf("read script source: %w", err)
	}
	return string(data), nil
}
