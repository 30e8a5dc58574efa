package cucumber

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cucumber/godog"
	"github.com/pmezard/go-difflib/difflib"
)

func init() {
	StepModules = append(StepModules, func(ctx *godog.ScenarioContext, s *TestScenario) {
		ctx.Step(`^the response code should be (\d+)$`, s.theResponseCodeShouldBe)
		ctx.Step(`^the response should match json:$`, s.theResponseShouldMatchJSON)
		ctx.Step(`^the response should contain json:$`, s.theResponseShouldContainJSON)
		ctx.Step(`^the response should contain "([^"]*)"$`, s.theResponseShouldContain)
		ctx.Step(`^the response header "([^"]*)" should match "([^"]*)"$`, s.theResponseHeaderShouldMatch)
		ctx.Step(`^the response header "([^"]*)" should not be empty$`, s.theResponseHeaderShouldNotBeEmpty)
		ctx.Step(`^the "(.*)" selection from the response should match "([^"]*)"$`, s.theSelectionShouldMatch)
		ctx.Step(`^the "([^"]*)" selection from the response should match json:$`, s.theSelectionShouldMatchJSON)
		ctx.Step(`^I store the "([^"]*)" selection from the response as \${([^}]*)}$`, s.iStoreTheSelectionAs)
		ctx.Step(`^I store the \${([^}]*)} as \${([^}]*)}$`, s.iStoreVariableAs)
		ctx.Step(`^\${([^}]*)} is not empty$`, s.variableIsNotEmpty)
		ctx.Step(`^"([^"]*)" should match "([^"]*)"$`, s.textShouldMatch)
		ctx.Step(`^"([^"]*)" should not match "([^"]*)"$`, s.textShouldNotMatch)
	})
}

// lastResponse returns the current session after checking a response exists.
func (s *TestScenario) lastResponse() (*TestSession, error) {
	session := s.Session()
	if session.Resp == nil {
		return nil, fmt.Errorf("no HTTP request has been sent")
	}
	return session, nil
}

func (s *TestScenario) theResponseCodeShouldBe(expected int) error {
	session, err := s.lastResponse()
	if err != nil {
		return err
	}
	if session.Resp.StatusCode != expected {
		return fmt.Errorf("expected response code %d, got %d, body: %s", expected, session.Resp.StatusCode, session.RespBytes)
	}
	return nil
}

func (s *TestScenario) theResponseShouldMatchJSON(expected *godog.DocString) error {
	session, err := s.lastResponse()
	if err != nil {
		return err
	}
	return s.JSONMustMatch(string(session.RespBytes), expected.Content, true)
}

func (s *TestScenario) theResponseShouldContainJSON(expected *godog.DocString) error {
	session, err := s.lastResponse()
	if err != nil {
		return err
	}
	return s.JSONMustContain(string(session.RespBytes), expected.Content, true)
}

func (s *TestScenario) theResponseShouldContain(expected string) error {
	body := string(s.Session().RespBytes)
	if !strings.Contains(body, expected) {
		return fmt.Errorf("response does not contain %q: %s", expected, body)
	}
	return nil
}

func (s *TestScenario) theResponseHeaderShouldMatch(header, expected string) error {
	session, err := s.lastResponse()
	if err != nil {
		return err
	}
	expanded, err := s.Expand(expected)
	if err != nil {
		return err
	}
	if actual := session.Resp.Header.Get(header); actual != expanded {
		return fmt.Errorf("response header %s: expected %q, got %q", header, expanded, actual)
	}
	return nil
}

func (s *TestScenario) theResponseHeaderShouldNotBeEmpty(header string) error {
	session, err := s.lastResponse()
	if err != nil {
		return err
	}
	if session.Resp.Header.Get(header) == "" {
		return fmt.Errorf("response header %s is missing", header)
	}
	return nil
}

// selectFromResponse runs a gojq selector such as ".messages[0].id" against
// the last response body.
func (s *TestScenario) selectFromResponse(selector string) (any, error) {
	doc, err := s.Session().RespJSON()
	if err != nil {
		return nil, err
	}
	value, found, err := Select(doc, selector)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("nothing in the response matches %s", selector)
	}
	return value, nil
}

func (s *TestScenario) theSelectionShouldMatch(selector, expected string) error {
	value, err := s.selectFromResponse(selector)
	if err != nil {
		return err
	}
	expanded, err := s.Expand(expected)
	if err != nil {
		return err
	}
	actual := "null"
	if value != nil {
		actual = fmt.Sprintf("%v", value)
	}
	if actual != expanded {
		return fmt.Errorf("%s: expected %q, got %q", selector, expanded, actual)
	}
	return nil
}

func (s *TestScenario) theSelectionShouldMatchJSON(selector string, expected *godog.DocString) error {
	value, err := s.selectFromResponse(selector)
	if err != nil {
		return err
	}
	actual, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.JSONMustMatch(string(actual), expected.Content, true)
}

func (s *TestScenario) iStoreTheSelectionAs(selector, as string) error {
	value, err := s.selectFromResponse(selector)
	if err != nil {
		return err
	}
	s.Variables[as] = value
	return nil
}

func (s *TestScenario) iStoreVariableAs(name, as string) error {
	value, err := s.Resolve(name)
	if err != nil {
		return err
	}
	s.Variables[as] = value
	return nil
}

func (s *TestScenario) variableIsNotEmpty(name string) error {
	value, err := s.Resolve(name)
	if err != nil {
		return err
	}
	if value == nil || value == "" {
		return fmt.Errorf("${%s} is empty", name)
	}
	return nil
}

func (s *TestScenario) textShouldMatch(actual, expected string) error {
	a, e, err := s.expandPair(actual, expected)
	if err != nil {
		return err
	}
	if a != e {
		diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        difflib.SplitLines(e),
			B:        difflib.SplitLines(a),
			FromFile: "Expected",
			ToFile:   "Actual",
			Context:  1,
		})
		return fmt.Errorf("actual does not match expected, diff:\n%s", diff)
	}
	return nil
}

func (s *TestScenario) textShouldNotMatch(actual, unexpected string) error {
	a, u, err := s.expandPair(actual, unexpected)
	if err != nil {
		return err
	}
	if a == u {
		return fmt.Errorf("expected a value other than %q", a)
	}
	return nil
}

func (s *TestScenario) expandPair(a, b string) (string, string, error) {
	a, err := s.Expand(a)
	if err != nil {
		return "", "", err
	}
	b, err = s.Expand(b)
	return a, b, err
}
