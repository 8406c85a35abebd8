// Package workflow parses workflow configuration documents into validated
// domain.Workflow values. JSON, YAML, TOML and HCL documents share one shape:
// a list of tasks under "workflows" and a list of edges under "dependencies".
package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/wfsync/internal/domain"
)

// Format names a document encoding
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatHCL  Format = "hcl"
)

// document is the serialized shape shared by JSON, YAML and TOML
type document struct {
	Name         string        `json:"name" yaml:"name" toml:"name"`
	Method       string        `json:"method" yaml:"method" toml:"method"`
	MaxParallel  int           `json:"max_parallel" yaml:"max_parallel" toml:"max_parallel"`
	Workflows    []domain.Task `json:"workflows" yaml:"workflows" toml:"workflows"`
	Dependencies []domain.Edge `json:"dependencies" yaml:"dependencies" toml:"dependencies"`
}

// ParseFormat resolves a format name, accepting "yml" for YAML
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(name, ".")) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "toml":
		return FormatTOML, nil
	case "hcl":
		return FormatHCL, nil
	default:
		return "", &domain.ConfigError{Field: "format", Message: fmt.Sprintf("unsupported workflow format %q", name)}
	}
}

// FormatFromPath picks the format from a file extension
func FormatFromPath(path string) (Format, error) {
	return ParseFormat(filepath.Ext(path))
}

// Load reads and parses a workflow document from disk
func Load(path string) (*domain.Workflow, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow %s: %w", path, err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	wf, err := Parse(data, format, path)
	if err != nil {
		return nil, err
	}
	if wf.Name == "" {
		wf.Name = name
	}
	return wf, nil
}

// Parse decodes, normalizes and validates a workflow document.
// source is only used in HCL diagnostics.
func Parse(data []byte, format Format, source string) (*domain.Workflow, error) {
	var doc document
	var err error

	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &doc)
	case FormatYAML:
		err = yaml.Unmarshal(data, &doc)
	case FormatTOML:
		err = toml.Unmarshal(data, &doc)
	case FormatHCL:
		doc, err = decodeHCL(data, source)
	default:
		return nil, &domain.ConfigError{Field: "format", Message: fmt.Sprintf("unsupported workflow format %q", format)}
	}
	if err != nil {
		return nil, &domain.ConfigError{Field: "document", Message: fmt.Sprintf("malformed %s: %v", format, err)}
	}

	wf := &domain.Workflow{
		Name:        doc.Name,
		Tasks:       doc.Workflows,
		Edges:       doc.Dependencies,
		Method:      doc.Method,
		MaxParallel: doc.MaxParallel,
	}
	wf.Normalize()
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return wf, nil
}

// Marshal encodes a workflow as a JSON document Parse accepts
func Marshal(wf *domain.Workflow) ([]byte, error) {
	return json.MarshalIndent(document{
		Name:         wf.Name,
		Method:       wf.Method,
		MaxParallel:  wf.MaxParallel,
		Workflows:    wf.Tasks,
		Dependencies: wf.Edges,
	}, "", "  ")
}

// Sample returns the five-stage ML pipeline used as the default workflow
func Sample() *domain.Workflow {
	return &domain.Workflow{
		Name: "ml-pipeline",
		Tasks: []domain.Task{
			{ID: "ingest", Name: "Data Ingestion", Duration: 5, ResourceCost: 2},
			{ID: "process", Name: "Data Processing", Duration: 10, ResourceCost: 3},
			{ID: "validate", Name: "Data Validation", Duration: 7, ResourceCost: 2},
			{ID: "train", Name: "Model Training", Duration: 15, ResourceCost: 4},
			{ID: "deploy", Name: "Deployment", Duration: 3, ResourceCost: 1},
		},
		Edges: []domain.Edge{
			{From: "ingest", To: "process"},
			{From: "ingest", To: "validate"},
			{From: "process", To: "train"},
			{From: "validate", To: "train"},
			{From: "train", To: "deploy"},
		},
		Method:      "dependency-aware",
		MaxParallel: 2,
	}
}
