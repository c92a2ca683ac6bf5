package traps

import (
	"testing"

	"github.com/good-yellow-bee/logtrap/internal/models"
)

func TestTrapRequest_Definition(t *testing.T) {
	active := false
	req := &TrapRequest{Name: "n", Type: "PATTERN", Active: &active}
	if def := req.definition(); def.Conditions != nil {
		t.Errorf("absent conditions became %v, want nil", def.Conditions)
	}

	req.Conditions = []ConditionRequest{}
	if def := req.definition(); def.Conditions == nil {
		t.Error("empty condition list became nil")
	}

	req.Conditions = []ConditionRequest{{Type: "ABSENCE", WindowSeconds: 300, ServiceNameFilter: "checkout"}}
	def := req.definition()
	if len(def.Conditions) != 1 || def.Conditions[0].ServiceNameFilter != "checkout" || def.Conditions[0].WindowSeconds != 300 {
		t.Errorf("conditions = %+v", def.Conditions)
	}
	if def.Active == nil || *def.Active {
		t.Error("active flag lost")
	}
}

func TestToResponse(t *testing.T) {
	trap := models.NewTrap("team-1", "slow", models.TrapTypePattern)
	trap.Conditions = []*models.Condition{
		{Position: 0, Type: models.ConditionKeyword, Field: models.FieldMessage, Pattern: "slow"},
		{Position: 1, Type: models.ConditionRegex, Field: models.FieldHostName, Pattern: "^db", MinLevel: models.LevelWarn},
	}

	resp := toResponse(trap)
	if len(resp.Conditions) != 2 {
		t.Fatalf("got %d conditions", len(resp.Conditions))
	}
	if resp.Conditions[0].SeverityFilter != "" {
		t.Errorf("unset filter rendered as %q", resp.Conditions[0].SeverityFilter)
	}
	if resp.Conditions[1].SeverityFilter != "WARN" || resp.Conditions[1].Field != "host_name" {
		t.Errorf("condition = %+v", resp.Conditions[1])
	}

	trap.Conditions = nil
	if resp := toResponse(trap); resp.Conditions == nil {
		t.Error("conditions should render as an empty list")
	}
}
