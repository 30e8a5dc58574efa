package bdd

import (
	"fmt"
	"strings"

	"github.com/chirino/threadflow/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		a := &assertionSteps{s: s}
		ctx.Step(`^the response body should contain "([^"]*)"$`, a.bodyShouldContain)
		ctx.Step(`^the response body should not contain "([^"]*)"$`, a.bodyShouldNotContain)
		ctx.Step(`^the response body field "([^"]*)" should be "([^"]*)"$`, a.fieldShouldBe)
		ctx.Step(`^the response body field "([^"]*)" should be null$`, a.fieldShouldBeNull)
		ctx.Step(`^the response should contain (\d+) conversations?$`, a.shouldContainConversations)
		ctx.Step(`^the response should contain error code "([^"]*)"$`, a.shouldContainErrorCode)
	})
}

// assertionSteps check ThreadFlow response shapes. Field paths are plain
// dotted names like "messages.0.role".
type assertionSteps struct {
	s *cucumber.TestScenario
}

func (a *assertionSteps) body() string {
	return string(a.s.Session().RespBytes)
}

func (a *assertionSteps) bodyShouldContain(text string) error {
	expanded, err := a.s.Expand(text)
	if err != nil {
		return err
	}
	if !strings.Contains(a.body(), expanded) {
		return fmt.Errorf("response does not contain %q: %s", expanded, a.body())
	}
	return nil
}

func (a *assertionSteps) bodyShouldNotContain(text string) error {
	expanded, err := a.s.Expand(text)
	if err != nil {
		return err
	}
	if strings.Contains(a.body(), expanded) {
		return fmt.Errorf("response unexpectedly contains %q: %s", expanded, a.body())
	}
	return nil
}

func (a *assertionSteps) field(path string) (any, error) {
	doc, err := a.s.Session().RespJSON()
	if err != nil {
		return nil, err
	}
	var selector strings.Builder
	for _, part := range strings.Split(path, ".") {
		if part != "" && strings.Trim(part, "0123456789") == "" {
			if selector.Len() == 0 {
				selector.WriteString(".")
			}
			fmt.Fprintf(&selector, "[%s]", part)
		} else {
			fmt.Fprintf(&selector, ".%q", part)
		}
	}
	value, _, err := cucumber.Select(doc, selector.String())
	return value, err
}

func (a *assertionSteps) fieldShouldBe(path, expected string) error {
	expanded, err := a.s.Expand(expected)
	if err != nil {
		return err
	}
	value, err := a.field(path)
	if err != nil {
		return err
	}
	actual := "null"
	if value != nil {
		actual = fmt.Sprintf("%v", value)
	}
	if actual != expanded {
		return fmt.Errorf("field %s: expected %q, got %q: %s", path, expanded, actual, a.body())
	}
	return nil
}

func (a *assertionSteps) fieldShouldBeNull(path string) error {
	return a.fieldShouldBe(path, "null")
}

// shouldContainConversations checks the length of a conversation list, which
// the API returns as a bare JSON array.
func (a *assertionSteps) shouldContainConversations(count int) error {
	doc, err := a.s.Session().RespJSON()
	if err != nil {
		return err
	}
	list, ok := doc.([]any)
	if !ok {
		return fmt.Errorf("response is not a list: %s", a.body())
	}
	if len(list) != count {
		return fmt.Errorf("expected %d conversations, got %d: %s", count, len(list), a.body())
	}
	return nil
}

func (a *assertionSteps) shouldContainErrorCode(code string) error {
	return a.fieldShouldBe("code", code)
}
