package stage

import (
	"encoding/json"
	"strings"

	"aftermath/internal/services"
)

// ParseLabelMap parses the stored label-to-class mapping for a run. An empty
// input yields an empty map. On failure it returns a services.ErrValidation
// suitable for stage Execute methods.
func ParseLabelMap(raw string) (map[string]float64, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]float64{}, nil
	}
	labels := make(map[string]float64)
	if err := json.Unmarshal([]byte(raw), &labels); err != nil {
		return nil, services.Wrap(
			services.ErrValidation, "stage", "parse label map",
			"Label mapping missing or invalid; pass --label-map again", err)
	}
	return labels, nil
}
