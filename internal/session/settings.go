package session

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/afero"
	"sigs.k8s.io/yaml"

	"github.com/wycleffsean/linthost/pkg/lint"
)

// ProjectConfigName is the per-root settings file, watched for changes.
const ProjectConfigName = ".linthost.yaml"

// Settings is the resolved configuration for one document.
type Settings struct {
	LineLength    int
	TabWidth      int
	MaxBlankLines int
	Select        []lint.Code
	Exclude       []string
}

func DefaultSettings() Settings {
	d := lint.DefaultConfig()
	return Settings{LineLength: d.LineLength, TabWidth: d.TabWidth, MaxBlankLines: d.MaxBlankLines}
}

// Lint converts settings to the analysis configuration.
func (s Settings) Lint() lint.Config {
	return lint.Config{
		LineLength:    s.LineLength,
		TabWidth:      s.TabWidth,
		MaxBlankLines: s.MaxBlankLines,
		Select:        s.Select,
	}
}

// Overrides is a partial Settings layer. Nil fields leave the lower layer
// untouched. The same shape is read from editor settings and from
// .linthost.yaml.
type Overrides struct {
	LineLength    *int     `json:"lineLength,omitempty" mapstructure:"lineLength"`
	TabWidth      *int     `json:"tabWidth,omitempty" mapstructure:"tabWidth"`
	MaxBlankLines *int     `json:"maxBlankLines,omitempty" mapstructure:"maxBlankLines"`
	Select        []string `json:"select,omitempty" mapstructure:"select"`
	Exclude       []string `json:"exclude,omitempty" mapstructure:"exclude"`
}

func (s Settings) Apply(o Overrides) Settings {
	if o.LineLength != nil {
		s.LineLength = *o.LineLength
	}
	if o.TabWidth != nil {
		s.TabWidth = *o.TabWidth
	}
	if o.MaxBlankLines != nil {
		s.MaxBlankLines = *o.MaxBlankLines
	}
	if o.Select != nil {
		s.Select = make([]lint.Code, 0, len(o.Select))
		for _, c := range o.Select {
			s.Select = append(s.Select, lint.Code(c))
		}
	}
	if o.Exclude != nil {
		s.Exclude = append([]string(nil), o.Exclude...)
	}
	return s
}

func (o Overrides) validate() error {
	for name, v := range map[string]*int{"lineLength": o.LineLength, "tabWidth": o.TabWidth, "maxBlankLines": o.MaxBlankLines} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must not be negative, got %d", name, *v)
		}
	}
	return nil
}

// DecodeClientSettings decodes the payload of workspace/didChangeConfiguration
// or initializationOptions. Settings may be nested under a "linthost" key.
func DecodeClientSettings(raw any) (Overrides, error) {
	var o Overrides
	if raw == nil {
		return o, nil
	}
	if m, ok := raw.(map[string]any); ok {
		if nested, ok := m["linthost"]; ok {
			raw = nested
		}
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &o,
		WeaklyTypedInput: true,
		ErrorUnused:      false,
	})
	if err != nil {
		return o, err
	}
	if err := dec.Decode(raw); err != nil {
		return o, fmt.Errorf("decoding client settings: %w", err)
	}
	return o, o.validate()
}

// LoadProjectSettings reads root/.linthost.yaml. A missing file yields empty
// overrides and no error.
func LoadProjectSettings(fsys afero.Fs, root string) (Overrides, error) {
	var o Overrides
	path := filepath.Join(root, ProjectConfigName)
	data, err := afero.ReadFile(fsys, path)
	if errors.Is(err, fs.ErrNotExist) {
		return o, nil
	}
	if err != nil {
		return o, err
	}
	if err := yaml.Unmarshal(data, &o); err != nil {
		return o, fmt.Errorf("parsing %s: %w", path, err)
	}
	return o, o.validate()
}
