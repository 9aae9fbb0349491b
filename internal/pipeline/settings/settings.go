// Package settings loads the stage catalog and scoring tables from YAML.
package settings

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/scoring"
)

// Settings is the immutable pipeline configuration shared by every engine.
type Settings struct {
	Catalog *domain.Catalog
	Scoring scoring.Tables
}

// Default returns the production catalog and scoring tables.
func Default() *Settings {
	return &Settings{
		Catalog: domain.DefaultCatalog(),
		Scoring: scoring.DefaultTables(),
	}
}

type fileStage struct {
	Stage          domain.Stage `yaml:"stage"`
	Order          int          `yaml:"order"`
	WipLimit       *int         `yaml:"wipLimit"`
	WarningDays    *int         `yaml:"warningDays"`
	CriticalDays   *int         `yaml:"criticalDays"`
	RequiredFields []string     `yaml:"requiredFields"`
	AutoTasks      []taskRef    `yaml:"autoTasks"`
	HardWipLimit   bool         `yaml:"hardWipLimit"`
	NotifyOnEntry  bool         `yaml:"notifyOnEntry"`
	Terminal       bool         `yaml:"terminal"`
}

type file struct {
	MaxSkip *int        `yaml:"maxSkip"`
	Stages  []fileStage `yaml:"stages"`
	Scoring *yaml.Node  `yaml:"scoring"`
}

// taskRef accepts either a template key or a full task definition. Missing
// fields of a full definition come from the built-in template for its key.
type taskRef struct {
	domain.TaskTemplate
}

func (t *taskRef) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var key string
		if err := node.Decode(&key); err != nil {
			return err
		}
		t.TaskTemplate = domain.ResolveTaskTemplate(strings.TrimSpace(key))
		return nil
	}

	var raw domain.TaskTemplate
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if strings.TrimSpace(raw.Key) == "" {
		return fmt.Errorf("line %d: task template needs a key", node.Line)
	}
	base := domain.ResolveTaskTemplate(raw.Key)
	if raw.Name != "" {
		base.Name = raw.Name
	}
	if raw.Description != "" {
		base.Description = raw.Description
	}
	if raw.Priority != "" {
		base.Priority = raw.Priority
	}
	if raw.DueDays > 0 {
		base.DueDays = raw.DueDays
	}
	t.TaskTemplate = base
	return nil
}

// Load reads settings from path. An empty path yields Default.
func Load(path string) (*Settings, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline settings: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("pipeline settings %s: %w", path, err)
	}
	return s, nil
}

// Parse decodes YAML settings. Omitted sections keep their defaults; scoring
// entries override the default tables key by key.
func Parse(data []byte) (*Settings, error) {
	var f file
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: %w", err)
	}

	maxSkip := domain.DefaultMaxSkip
	if f.MaxSkip != nil {
		maxSkip = *f.MaxSkip
	}

	defs := domain.DefaultStageDefinitions()
	if len(f.Stages) > 0 {
		defs = make([]domain.StageDefinition, 0, len(f.Stages))
		for _, fs := range f.Stages {
			def := domain.StageDefinition{
				Stage:          domain.Stage(strings.TrimSpace(string(fs.Stage))),
				Order:          fs.Order,
				WipLimit:       fs.WipLimit,
				WarningDays:    fs.WarningDays,
				CriticalDays:   fs.CriticalDays,
				RequiredFields: fs.RequiredFields,
				HardWipLimit:   fs.HardWipLimit,
				NotifyOnEntry:  fs.NotifyOnEntry,
				Terminal:       fs.Terminal,
			}
			for _, t := range fs.AutoTasks {
				def.AutoTasks = append(def.AutoTasks, t.TaskTemplate)
			}
			defs = append(defs, def)
		}
	}

	catalog, err := domain.NewCatalog(defs, maxSkip)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}

	tables := scoring.DefaultTables()
	if f.Scoring != nil {
		if err := f.Scoring.Decode(&tables); err != nil {
			return nil, fmt.Errorf("scoring: %w", err)
		}
	}
	if err := tables.Validate(); err != nil {
		return nil, err
	}

	return &Settings{Catalog: catalog, Scoring: tables.Normalize()}, nil
}
