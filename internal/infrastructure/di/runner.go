package di

import (
	"context"

	"github.com/rail-service/payroll_relay/internal/domain/entities"
)

// RunPlanFile loads a plan and runs it on the pipeline it names
func (c *Container) RunPlanFile(ctx context.Context, path string) (*entities.Outcome, error) {
	p, err := c.PlanLoader.Load(path)
	if err != nil {
		return nil, err
	}
	orch, err := c.NewRelayBuilder(PipelineFor(p)).Build(ctx)
	if err != nil {
		return nil, err
	}
	return orch.Run(ctx, p)
}
