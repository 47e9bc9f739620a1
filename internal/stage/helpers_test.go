package stage

import (
	"errors"
	"testing"

	"aftermath/internal/services"
)

func TestParseLabelMap_Valid(t *testing.T) {
	raw := `{"no_damage":0,"minor_damage":1,"major_damage":1,"destroyed":1}`
	labels, err := ParseLabelMap(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if labels["destroyed"] != 1 {
		t.Fatalf("unexpected class for destroyed: %v", labels["destroyed"])
	}
	if labels["no_damage"] != 0 {
		t.Fatalf("unexpected class for no_damage: %v", labels["no_damage"])
	}
}

func TestParseLabelMap_Empty(t *testing.T) {
	labels, err := ParseLabelMap("")
	if err != nil {
		t.Fatalf("unexpected error for empty input: %v", err)
	}
	if len(labels) != 0 {
		t.Fatalf("expected empty map for empty input, got %v", labels)
	}
}

func TestParseLabelMap_Invalid(t *testing.T) {
	_, err := ParseLabelMap("{invalid json")
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
