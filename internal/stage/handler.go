package stage

import (
	"context"

	"aftermath/internal/runs"
)

// Handler describes the contract the pipeline manager needs from each stage.
type Handler interface {
	Prepare(context.Context, *runs.Run) error
	Execute(context.Context, *runs.Run) error
	HealthCheck(context.Context) Health
}
