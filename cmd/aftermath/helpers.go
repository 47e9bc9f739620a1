package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"aftermath/internal/runs"
	"aftermath/internal/services"
)

// loadRun resolves a run reference that is either a numeric id or a slug.
func loadRun(ctx context.Context, store *runs.Store, ref string) (*runs.Run, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("run reference must not be empty")
	}
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return store.GetByID(ctx, id)
	}
	return store.GetBySlug(ctx, ref)
}

// persistStageFailure records a stage error on the run the same way the
// pipeline manager does for commands that call stage methods directly.
func persistStageFailure(ctx context.Context, store *runs.Store, run *runs.Run, err error) {
	if services.FailureStatus(err) == runs.StatusReview {
		run.SetReview(err.Error())
	} else {
		run.SetFailed(err.Error())
	}
	_ = store.Update(ctx, run)
}

func dash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

func formatPercent(value float64) string {
	return strconv.FormatFloat(value, 'f', 0, 64) + "%"
}
