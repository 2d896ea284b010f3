package definitions

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/Kocoro-lab/Shannon/go/settings/internal/requirements"
	"github.com/Kocoro-lab/Shannon/go/settings/internal/settings"
)

// Format is a supported definition file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// detectFormat maps a file name to its encoding; ok is false for unrelated files.
func detectFormat(name string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return FormatJSON, true
	case ".yaml", ".yml":
		return FormatYAML, true
	case ".toml":
		return FormatTOML, true
	default:
		return "", false
	}
}

type document struct {
	Settings []rawDefinition `json:"settings" yaml:"settings" toml:"settings"`
}

// rawDefinition is the on-disk shape of one setting definition.
type rawDefinition struct {
	ID           string   `json:"id" yaml:"id" toml:"id"`
	Name         string   `json:"name" yaml:"name" toml:"name"`
	Description  string   `json:"description" yaml:"description" toml:"description"`
	Type         string   `json:"type" yaml:"type" toml:"type"`
	Default      any      `json:"default" yaml:"default" toml:"default"`
	Scope        string   `json:"scope" yaml:"scope" toml:"scope"`
	Min          *float64 `json:"min" yaml:"min" toml:"min"`
	Max          *float64 `json:"max" yaml:"max" toml:"max"`
	Delta        float64  `json:"delta" yaml:"delta" toml:"delta"`
	Logarithmic  bool     `json:"logarithmic" yaml:"logarithmic" toml:"logarithmic"`
	Slider       bool     `json:"slider" yaml:"slider" toml:"slider"`
	Options      []any    `json:"options" yaml:"options" toml:"options"`
	Requirements []string `json:"requirements" yaml:"requirements" toml:"requirements"`
}

// fingerprint identifies the definition content for change detection on reload.
func (r rawDefinition) fingerprint() string {
	b, _ := json.Marshal(r)
	return string(b)
}

func (r rawDefinition) build() (*settings.Definition, error) {
	typ, err := settings.ParseValueType(r.Type)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.ID, err)
	}
	scope, err := settings.ParseScope(r.Scope)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.ID, err)
	}
	def, err := settings.ParseValue(typ, r.Default)
	if err != nil {
		return nil, fmt.Errorf("%s: default: %w", r.ID, err)
	}
	d := &settings.Definition{
		ID:          settings.Identity(r.ID),
		Name:        r.Name,
		Description: r.Description,
		Type:        typ,
		Default:     def,
		Scope:       scope,
		Delta:       r.Delta,
		Logarithmic: r.Logarithmic,
		UseSlider:   r.Slider,
	}
	if d.Name == "" {
		d.Name = r.ID
	}
	if r.Min != nil {
		d.HasMin, d.Min = true, *r.Min
	}
	if r.Max != nil {
		d.HasMax, d.Max = true, *r.Max
	}
	for i, raw := range r.Options {
		opt, err := settings.ParseValue(typ, raw)
		if err != nil {
			return nil, fmt.Errorf("%s: option %d: %w", r.ID, i, err)
		}
		d.Options = append(d.Options, opt)
	}
	d.Requirements, err = requirements.ParseAll(r.Requirements)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.ID, err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	d.Normalize()
	return d, nil
}

func parseDocument(format Format, data []byte) (*document, error) {
	var doc document
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &doc)
	case FormatYAML:
		err = yaml.Unmarshal(data, &doc)
	case FormatTOML:
		err = toml.Unmarshal(data, &doc)
	default:
		return nil, fmt.Errorf("unsupported definition format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s definitions: %w", format, err)
	}
	return &doc, nil
}
