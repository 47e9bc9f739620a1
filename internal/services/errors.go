package services

import (
	"errors"
	"fmt"
	"strings"

	"aftermath/internal/runs"
)

var (
	ErrExternalService     = errors.New("external service error")
	ErrValidation          = errors.New("validation error")
	ErrConfiguration       = errors.New("configuration error")
	ErrMissingPrerequisite = errors.New("missing prerequisite")
	ErrNotFound            = errors.New("not found")
	ErrTimeout             = errors.New("timeout")
	ErrTransient           = errors.New("transient failure")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later status classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// MissingPrerequisite reports that a stage cannot start because a saved
// identifier is absent from the run record. The hint tells the operator which
// command or flag supplies it.
func MissingPrerequisite(stage, what, hint string) error {
	message := what
	if hint != "" {
		message = fmt.Sprintf("%s (%s)", what, hint)
	}
	return Wrap(ErrMissingPrerequisite, stage, "prepare", message, nil)
}

// FailureStatus maps a stage error to the run status the pipeline should
// persist after the stage fails. Missing prerequisites and bad input land in
// review so the operator can supply what is missing; everything else fails.
func FailureStatus(err error) runs.Status {
	switch {
	case errors.Is(err, ErrMissingPrerequisite),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrNotFound):
		return runs.StatusReview
	default:
		return runs.StatusFailed
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
