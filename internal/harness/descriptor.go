package harness

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/znsio/pubsub-relay-go/internal/emulator"
)

// Descriptor is the subset of a compose file the harness relies on.
type Descriptor struct {
	Version  string                 `yaml:"version"`
	Services map[string]Service     `yaml:"services"`
	Volumes  map[string]interface{} `yaml:"volumes"`
}

type Service struct {
	Image       string        `yaml:"image"`
	Build       *Build        `yaml:"build"`
	Environment MappingOrList `yaml:"environment"`
	Volumes     []VolumeMount `yaml:"volumes"`
	DependsOn   DependsOn     `yaml:"depends_on"`
	Command     StringOrList  `yaml:"command"`
	WorkingDir  string        `yaml:"working_dir"`
	Ports       []string      `yaml:"ports"`
}

type Build struct {
	Context    string        `yaml:"context"`
	Dockerfile string        `yaml:"dockerfile"`
	Args       MappingOrList `yaml:"args"`
}

// UnmarshalYAML accepts the short form "build: ./dir".
func (b *Build) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		b.Context = value.Value
		return nil
	}
	type plain Build
	return value.Decode((*plain)(b))
}

// MappingOrList accepts both "KEY: value" maps and "KEY=value" lists.
type MappingOrList map[string]string

func (m *MappingOrList) UnmarshalYAML(value *yaml.Node) error {
	out := make(map[string]string)
	switch value.Kind {
	case yaml.MappingNode:
		var raw map[string]string
		if err := value.Decode(&raw); err != nil {
			return err
		}
		for k, v := range raw {
			out[k] = v
		}
	case yaml.SequenceNode:
		var raw []string
		if err := value.Decode(&raw); err != nil {
			return err
		}
		for _, item := range raw {
			k, v, _ := strings.Cut(item, "=")
			out[k] = v
		}
	default:
		return fmt.Errorf("line %d: expected a mapping or a list", value.Line)
	}
	*m = out
	return nil
}

// Environ renders the mapping in KEY=value form, sorted by key.
func (m MappingOrList) Environ() []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// StringOrList accepts a command as a string or a list of arguments.
type StringOrList []string

func (s *StringOrList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*s = strings.Fields(value.Value)
		return nil
	}
	var raw []string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*s = raw
	return nil
}

// DependsOn accepts the list form and the long map form.
type DependsOn []string

func (d *DependsOn) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		var raw []string
		if err := value.Decode(&raw); err != nil {
			return err
		}
		*d = raw
	case yaml.MappingNode:
		var names []string
		for i := 0; i < len(value.Content); i += 2 {
			names = append(names, value.Content[i].Value)
		}
		sort.Strings(names)
		*d = names
	default:
		return fmt.Errorf("line %d: depends_on must be a list or a mapping", value.Line)
	}
	return nil
}

type VolumeMount struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
	Type   string `yaml:"type"`
}

func (v *VolumeMount) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		parts := strings.Split(value.Value, ":")
		switch len(parts) {
		case 1:
			v.Target = parts[0]
		default:
			v.Source, v.Target = parts[0], parts[1]
		}
		v.Type = "bind"
		if v.Source != "" && isNamedVolume(v.Source) {
			v.Type = "volume"
		}
		return nil
	}
	type plain VolumeMount
	return value.Decode((*plain)(v))
}

func isNamedVolume(source string) bool {
	return !strings.ContainsAny(source, "/\\") && !strings.HasPrefix(source, ".") &&
		!strings.HasPrefix(source, "~") && !strings.HasPrefix(source, "$")
}

func LoadDescriptor(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading descriptor: %w", err)
	}
	return ParseDescriptor(data)
}

func ParseDescriptor(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("error parsing descriptor: %w", err)
	}
	return &d, nil
}

func (d *Descriptor) ServiceNames() []string {
	names := make([]string, 0, len(d.Services))
	for name := range d.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TestRunner returns the first service, by name, that is built locally.
func (d *Descriptor) TestRunner() (string, Service, bool) {
	for _, name := range d.ServiceNames() {
		if svc := d.Services[name]; svc.Build != nil {
			return name, svc, true
		}
	}
	return "", Service{}, false
}

// Validate checks that the descriptor is internally consistent and that
// the build inputs it references exist below baseDir. Every problem is
// reported.
func (d *Descriptor) Validate(baseDir string) error {
	var errs []error
	if len(d.Services) == 0 {
		return errors.New("descriptor declares no services")
	}

	used := make(map[string]bool)
	for _, name := range d.ServiceNames() {
		svc := d.Services[name]

		if svc.Image == "" && svc.Build == nil {
			errs = append(errs, fmt.Errorf("service %s: needs an image or a build", name))
		}
		for _, dep := range svc.DependsOn {
			if _, ok := d.Services[dep]; !ok {
				errs = append(errs, fmt.Errorf("service %s: depends on unknown service %s", name, dep))
			}
			if dep == name {
				errs = append(errs, fmt.Errorf("service %s: depends on itself", name))
			}
		}
		for _, mount := range svc.Volumes {
			if mount.Type != "volume" {
				continue
			}
			used[mount.Source] = true
			if _, ok := d.Volumes[mount.Source]; !ok {
				errs = append(errs, fmt.Errorf("service %s: volume %s is not declared", name, mount.Source))
			}
		}
		if svc.Build != nil {
			errs = append(errs, validateBuild(name, svc.Build, baseDir)...)
		}
		if _, err := emulator.ProjectsFromEnv(svc.Environment.Environ()); err != nil {
			errs = append(errs, fmt.Errorf("service %s: %w", name, err))
		}
	}

	declared := make([]string, 0, len(d.Volumes))
	for name := range d.Volumes {
		declared = append(declared, name)
	}
	sort.Strings(declared)
	for _, name := range declared {
		if !used[name] {
			errs = append(errs, fmt.Errorf("volume %s is declared but never mounted", name))
		}
	}

	return errors.Join(errs...)
}

func validateBuild(service string, b *Build, baseDir string) []error {
	var errs []error
	context := b.Context
	if context == "" {
		context = "."
	}
	contextDir := filepath.Join(baseDir, context)
	if info, err := os.Stat(contextDir); err != nil || !info.IsDir() {
		errs = append(errs, fmt.Errorf("service %s: build context %s does not exist", service, context))
		return errs
	}

	dockerfile := b.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}
	if _, err := os.Stat(filepath.Join(contextDir, dockerfile)); err != nil {
		errs = append(errs, fmt.Errorf("service %s: build file %s does not exist", service, dockerfile))
	}
	return errs
}
