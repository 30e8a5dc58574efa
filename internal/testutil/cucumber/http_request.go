package cucumber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cucumber/godog"
)

func init() {
	StepModules = append(StepModules, func(ctx *godog.ScenarioContext, s *TestScenario) {
		ctx.Step(`^the path prefix is "([^"]*)"$`, s.thePathPrefixIs)
		ctx.Step(`^I (GET|POST|PUT|DELETE|PATCH|OPTIONS) path "([^"]*)"$`, s.iRequestPath)
		ctx.Step(`^I (POST|PUT|PATCH) path "([^"]*)" with json body:$`, s.iRequestPathWithJSON)
		ctx.Step(`^I (GET|POST|PUT|DELETE|PATCH) path "([^"]*)" without authentication$`, s.iRequestPathAnonymously)
		ctx.Step(`^I set the "([^"]*)" header to "([^"]*)"$`, s.iSetTheHeaderTo)
	})
}

func (s *TestScenario) thePathPrefixIs(prefix string) error {
	s.PathPrefix = prefix
	return nil
}

func (s *TestScenario) iRequestPath(method, path string) error {
	expanded, err := s.Expand(path)
	if err != nil {
		return err
	}
	return s.Do(method, expanded, nil)
}

func (s *TestScenario) iRequestPathWithJSON(method, path string, doc *godog.DocString) error {
	expandedPath, err := s.Expand(path)
	if err != nil {
		return err
	}
	body, err := s.Expand(doc.Content)
	if err != nil {
		return err
	}
	return s.Do(method, expandedPath, json.RawMessage(body))
}

func (s *TestScenario) iRequestPathAnonymously(method, path string) error {
	session := s.Session()
	saved := session.TestUser
	session.TestUser = nil
	defer func() { session.TestUser = saved }()
	return s.iRequestPath(method, path)
}

// iSetTheHeaderTo adds a header to the next request only.
func (s *TestScenario) iSetTheHeaderTo(name, value string) error {
	expanded, err := s.Expand(value)
	if err != nil {
		return err
	}
	s.Session().Header.Set(name, expanded)
	return nil
}

// Do sends a request as the current user and records the response in the
// session. path is taken as is (no ${} expansion) and is relative to the
// suite's API URL. body is JSON encoded unless it is nil.
func (s *TestScenario) Do(method, path string, body any) error {
	session := s.Session()
	session.Resp = nil
	session.SetRespBytes(nil)

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		target = s.Suite.APIURL + s.PathPrefix + path
	}
	req, err := http.NewRequestWithContext(context.Background(), method, target, reader)
	if err != nil {
		return err
	}

	req.Header = session.Header
	session.Header = http.Header{}
	if req.Header.Get("Authorization") == "" && session.TestUser != nil {
		req.Header.Set("Authorization", "Bearer "+session.TestUser.Subject)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := session.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	session.Resp = resp
	session.SetRespBytes(raw)
	return nil
}
