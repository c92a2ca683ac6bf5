package traps

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/logtrap/internal/models"
)

// DefinitionFile is the YAML layout of a trap definition file.
type DefinitionFile struct {
	Traps []*Definition `yaml:"traps"`
}

// LoadDefinitionsFromFile loads trap definitions from a YAML file.
func LoadDefinitionsFromFile(path string) ([]*Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open traps file: %w", err)
	}
	defer f.Close()

	return LoadDefinitions(f)
}

// LoadDefinitions loads trap definitions from a reader and validates each
// one with the default condition limit.
func LoadDefinitions(r io.Reader) ([]*Definition, error) {
	var file DefinitionFile
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse traps YAML: %w", err)
	}

	for i, def := range file.Traps {
		if _, err := def.Build("", DefaultMaxConditionsPerTrap); err != nil {
			return nil, fmt.Errorf("invalid trap at index %d: %w", i, err)
		}
	}
	return file.Traps, nil
}

// BuildAll converts loaded definitions into traps owned by teamID.
func BuildAll(teamID string, defs []*Definition) ([]*models.Trap, error) {
	out := make([]*models.Trap, 0, len(defs))
	for i, def := range defs {
		trap, err := def.Build(teamID, DefaultMaxConditionsPerTrap)
		if err != nil {
			return nil, fmt.Errorf("invalid trap at index %d: %w", i, err)
		}
		trap.ID = fmt.Sprintf("local-%d", i+1)
		out = append(out, trap)
	}
	return out, nil
}

// Seed creates every definition whose name the team does not already use.
// It returns the number of traps created.
func (m *Manager) Seed(ctx context.Context, teamID string, defs []*Definition) (int, error) {
	existing, err := m.List(ctx, teamID)
	if err != nil {
		return 0, err
	}
	names := make(map[string]bool, len(existing))
	for _, t := range existing {
		names[t.Name] = true
	}

	created := 0
	for _, def := range defs {
		name := strings.TrimSpace(def.Name)
		if names[name] {
			continue
		}
		if _, err := m.Create(ctx, teamID, def); err != nil {
			return created, fmt.Errorf("seed trap %q: %w", def.Name, err)
		}
		names[name] = true
		created++
	}
	return created, nil
}
