package synth

import (
	"bytes"
	"encoding/json"
	"sort"

	"sigs.k8s.io/yaml"

	appErr "github.com/iac-studio/dbstack/pkg/errors"
	"github.com/iac-studio/dbstack/pkg/utils"
)

// FormatVersion is the template format version emitted on every template.
const FormatVersion = "2010-09-09"

// Template is a rendered provider template.
type Template struct {
	AWSTemplateFormatVersion string               `json:"AWSTemplateFormatVersion"`
	Description              string               `json:"Description,omitempty"`
	Parameters               map[string]Parameter `json:"Parameters,omitempty"`
	Resources                map[string]Resource  `json:"Resources"`
	Outputs                  map[string]Output    `json:"Outputs,omitempty"`
}

// Parameter is a rendered template parameter.
type Parameter struct {
	Type        string `json:"Type"`
	Default     string `json:"Default,omitempty"`
	Description string `json:"Description,omitempty"`
}

// Resource is a rendered template resource.
type Resource struct {
	Type                string         `json:"Type"`
	Properties          map[string]any `json:"Properties,omitempty"`
	DependsOn           []string       `json:"DependsOn,omitempty"`
	DeletionPolicy      string         `json:"DeletionPolicy,omitempty"`
	UpdateReplacePolicy string         `json:"UpdateReplacePolicy,omitempty"`
	Metadata            map[string]any `json:"Metadata,omitempty"`
}

// Output is a rendered stack output.
type Output struct {
	Value       any     `json:"Value"`
	Description string  `json:"Description,omitempty"`
	Export      *Export `json:"Export,omitempty"`
}

// Export publishes an output for cross-stack references.
type Export struct {
	Name string `json:"Name"`
}

// JSON renders the template with two-space indentation and a trailing
// newline. Map keys are sorted, so equal templates render identically.
func (t *Template) JSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(t); err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "encode template")
	}
	return buf.Bytes(), nil
}

// YAML renders the template as YAML.
func (t *Template) YAML() ([]byte, error) {
	js, err := t.JSON()
	if err != nil {
		return nil, err
	}
	out, err := yaml.JSONToYAML(js)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "convert template to yaml")
	}
	return out, nil
}

// Digest is the lowercase hex SHA-256 of the JSON rendering.
func (t *Template) Digest() (string, error) {
	js, err := t.JSON()
	if err != nil {
		return "", err
	}
	return utils.HexSHA256(js), nil
}

// ResourcesOfType returns the logical ids of resources with the given type.
func (t *Template) ResourcesOfType(typ string) []string {
	var ids []string
	for id, r := range t.Resources {
		if r.Type == typ {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ParseTemplate reads a JSON or YAML template body, e.g. one returned by the
// provider for a deployed stack. Short-form YAML tags such as !Ref are not
// supported.
func ParseTemplate(body []byte) (*Template, error) {
	var t Template
	if err := yaml.Unmarshal(body, &t); err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInvalid, "parse template")
	}
	if t.Resources == nil {
		t.Resources = map[string]Resource{}
	}
	return &t, nil
}
