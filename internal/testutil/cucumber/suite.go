// Package cucumber runs godog feature files against a live ThreadFlow HTTP
// server.
//
// A scenario acts as one or more users; each user has a session holding the
// last HTTP response. Step text may reference values with ${...}:
//
//	${name}              scenario variable
//	${name.field}        field of a JSON-shaped variable
//	${response}          last response body
//	${response.field}    field of the last response body
//	${value | json}      pipe through json or string
package cucumber

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/cucumber/godog/colors"
)

// TestDB gives steps direct access to the datastore the server runs on.
type TestDB interface {
	// ClearAll wipes all data. Called before each scenario.
	ClearAll(ctx context.Context) error
	// MessageCount returns the persisted message count of a conversation and
	// fails when the stored count and the stored messages disagree.
	MessageCount(ctx context.Context, conversationID string) (int, error)
}

// TestSuite is shared by every scenario of one godog run.
type TestSuite struct {
	APIURL   string
	TestingT *testing.T
	DB       TestDB // nil for the in-memory store
}

func NewTestSuite() *TestSuite {
	return &TestSuite{APIURL: "http://localhost:8080"}
}

func DefaultOptions() godog.Options {
	return godog.Options{
		Output:      colors.Colored(os.Stdout),
		Format:      "progress",
		Paths:       []string{"features"},
		Randomize:   time.Now().UTC().UnixNano(),
		Concurrency: 1,
	}
}

// ApplyReportOptions switches opts to junit output in $GODOG_REPORT_DIR when
// that variable is set. The returned func closes the report file.
func ApplyReportOptions(opts *godog.Options, testName string) func() {
	dir := os.Getenv("GODOG_REPORT_DIR")
	if dir == "" {
		return func() {}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return func() {}
	}
	f, err := os.Create(filepath.Join(dir, strings.ReplaceAll(testName, "/", "-")+".xml"))
	if err != nil {
		return func() {}
	}
	opts.Output = f
	opts.Format = "junit"
	return func() { _ = f.Close() }
}

// StepModules register step definitions on every new scenario.
var StepModules []func(ctx *godog.ScenarioContext, s *TestScenario)

func (suite *TestSuite) InitializeScenario(ctx *godog.ScenarioContext) {
	s := &TestScenario{
		Suite:     suite,
		Users:     map[string]*TestUser{},
		Variables: map[string]any{},
		sessions:  map[string]*TestSession{},
	}
	for _, module := range StepModules {
		module(ctx, s)
	}
}

// TestUser is a caller of the API. In testing mode Subject doubles as the
// bearer token.
type TestUser struct {
	Name    string
	Subject string
}

// TestScenario is the state of one running scenario.
type TestScenario struct {
	Suite       *TestSuite
	CurrentUser string
	PathPrefix  string
	Users       map[string]*TestUser
	Variables   map[string]any

	sessions map[string]*TestSession
}

// SwitchUser makes userID the acting user, creating it on first use.
func (s *TestScenario) SwitchUser(userID string) {
	if s.Users[userID] == nil {
		s.Users[userID] = &TestUser{Name: userID, Subject: userID}
	}
	s.CurrentUser = userID
}

func (s *TestScenario) User() *TestUser {
	return s.Users[s.CurrentUser]
}

// Session returns the acting user's session. Anonymous requests share the
// session of the empty user.
func (s *TestScenario) Session() *TestSession {
	session := s.sessions[s.CurrentUser]
	if session == nil {
		session = &TestSession{
			TestUser: s.User(),
			Client:   &http.Client{},
			Header:   http.Header{},
		}
		s.sessions[s.CurrentUser] = session
	}
	return session
}

// TestSession is one user's HTTP client and the last response it received.
type TestSession struct {
	TestUser  *TestUser
	Client    *http.Client
	Header    http.Header
	Resp      *http.Response
	RespBytes []byte

	respJSON any
}

// RespJSON decodes the last response body, caching the result.
func (s *TestSession) RespJSON() (any, error) {
	if s.respJSON != nil {
		return s.respJSON, nil
	}
	if s.RespBytes == nil {
		return nil, fmt.Errorf("no response body")
	}
	if err := json.Unmarshal(s.RespBytes, &s.respJSON); err != nil {
		return nil, fmt.Errorf("response is not json: %w\n%s", err, s.RespBytes)
	}
	return s.respJSON, nil
}

func (s *TestSession) SetRespBytes(body []byte) {
	s.RespBytes = body
	s.respJSON = nil
}
