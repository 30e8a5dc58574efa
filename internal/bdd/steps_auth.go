package bdd

import (
	"github.com/chirino/threadflow/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		a := &authSteps{s: s}
		ctx.Step(`^I am authenticated as user "([^"]*)"$`, a.iAmAuthenticatedAsUser)
		ctx.Step(`^I authenticate as user "([^"]*)"$`, a.iAmAuthenticatedAsUser)
	})
}

type authSteps struct {
	s *cucumber.TestScenario
}

// In testing mode the server takes a non-JWT bearer token as the user ID.
func (a *authSteps) iAmAuthenticatedAsUser(userID string) error {
	a.s.SwitchUser(userID)
	return nil
}
