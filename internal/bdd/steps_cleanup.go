package bdd

import (
	"context"

	"github.com/chirino/threadflow/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
			Provider.Reply(nil)
			Provider.SetAvailable(true)
			return ctx, nil
		})
		if s.Suite.DB == nil {
			return
		}
		ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
			return ctx, s.Suite.DB.ClearAll(ctx)
		})
	})
}
