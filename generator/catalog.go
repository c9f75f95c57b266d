package generator

import (
	"embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed catalog/*.yaml
var catalogFS embed.FS

// ValidationRule is a generic value constraint described to the oracle.
type ValidationRule struct {
	Name string `yaml:"name"`
	Rule string `yaml:"rule"`
}

// AnomalyScenario is condition -> outcome -> corrective action.
type AnomalyScenario struct {
	Condition string `yaml:"condition"`
	Outcome   string `yaml:"outcome"`
	Action    string `yaml:"action"`
}

// Library holds the rule and anomaly references embedded in every system prompt.
type Library struct {
	ValidationRules  []ValidationRule  `yaml:"validation_rules"`
	AnomalyScenarios []AnomalyScenario `yaml:"anomaly_scenarios"`
}

var (
	catalogOnce      sync.Once
	catalogTemplates []TableTemplate
	catalogLibrary   Library
	catalogErr       error
)

func loadCatalog() {
	data, err := catalogFS.ReadFile("catalog/templates.yaml")
	if err != nil {
		catalogErr = fmt.Errorf("read templates: %w", err)
		return
	}
	if err := yaml.Unmarshal(data, &catalogTemplates); err != nil {
		catalogErr = fmt.Errorf("parse templates: %w", err)
		return
	}
	data, err = catalogFS.ReadFile("catalog/library.yaml")
	if err != nil {
		catalogErr = fmt.Errorf("read library: %w", err)
		return
	}
	if err := yaml.Unmarshal(data, &catalogLibrary); err != nil {
		catalogErr = fmt.Errorf("parse library: %w", err)
	}
}

// BuiltinTemplates returns the templates shipped with the binary.
func BuiltinTemplates() ([]TableTemplate, error) {
	catalogOnce.Do(loadCatalog)
	if catalogErr != nil {
		return nil, catalogErr
	}
	out := make([]TableTemplate, len(catalogTemplates))
	copy(out, catalogTemplates)
	return out, nil
}

// BuiltinTemplate looks a shipped template up by ID.
func BuiltinTemplate(id string) (TableTemplate, error) {
	templates, err := BuiltinTemplates()
	if err != nil {
		return TableTemplate{}, err
	}
	for _, t := range templates {
		if t.ID == id {
			return t, nil
		}
	}
	return TableTemplate{}, fmt.Errorf("template %q not found", id)
}

// DefaultLibrary returns the embedded validation-rule and anomaly libraries.
func DefaultLibrary() Library {
	catalogOnce.Do(loadCatalog)
	return catalogLibrary
}
