package workflow

import (
	"errors"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/hochfrequenz/wfsync/internal/domain"
)

// hclDocument mirrors document with HCL blocks:
//
//	task "ingest" {
//	  name      = "Data Ingestion"
//	  duration  = 5
//	  resources = 2
//	}
//
//	dependency {
//	  from = "ingest"
//	  to   = "process"
//	}
type hclDocument struct {
	Name         string          `hcl:"name,optional"`
	Method       string          `hcl:"method,optional"`
	MaxParallel  int             `hcl:"max_parallel,optional"`
	Tasks        []hclTask       `hcl:"task,block"`
	Dependencies []hclDependency `hcl:"dependency,block"`
}

type hclTask struct {
	ID        string  `hcl:"id,label"`
	Name      string  `hcl:"name,optional"`
	Duration  float64 `hcl:"duration"`
	Resources float64 `hcl:"resources,optional"`
}

type hclDependency struct {
	From string `hcl:"from"`
	To   string `hcl:"to"`
}

func decodeHCL(data []byte, source string) (document, error) {
	if source == "" {
		source = "workflow.hcl"
	}

	file, diags := hclparse.NewParser().ParseHCL(data, source)
	if diags.HasErrors() {
		return document{}, errors.New(diags.Error())
	}

	var raw hclDocument
	if diags := gohcl.DecodeBody(file.Body, nil, &raw); diags.HasErrors() {
		return document{}, errors.New(diags.Error())
	}

	doc := document{
		Name:        raw.Name,
		Method:      raw.Method,
		MaxParallel: raw.MaxParallel,
	}
	for _, t := range raw.Tasks {
		doc.Workflows = append(doc.Workflows, domain.Task{
			ID:           t.ID,
			Name:         t.Name,
			Duration:     t.Duration,
			ResourceCost: t.Resources,
		})
	}
	for _, d := range raw.Dependencies {
		doc.Dependencies = append(doc.Dependencies, domain.Edge{From: d.From, To: d.To})
	}
	return doc, nil
}
