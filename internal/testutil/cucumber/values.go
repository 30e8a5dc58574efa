package cucumber

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/itchyny/gojq"
	"github.com/pmezard/go-difflib/difflib"
)

// Expand replaces every ${...} reference in value. Names in skipped are left
// as they are.
func (s *TestScenario) Expand(value string, skipped ...string) (string, error) {
	var firstErr error
	out := os.Expand(value, func(name string) string {
		if slices.Contains(skipped, name) {
			return "$" + name
		}
		res, err := s.ResolveString(name)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return res
	})
	return out, firstErr
}

// ResolveString resolves a reference and renders it as step text: strings
// as-is, numbers without trailing zeros, everything else as JSON.
func (s *TestScenario) ResolveString(name string) (string, error) {
	value, err := s.Resolve(name)
	if err != nil {
		return "", err
	}
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Resolve evaluates a reference: a variable or "response", an optional
// field path, and optional pipes.
func (s *TestScenario) Resolve(ref string) (any, error) {
	parts := strings.Split(ref, "|")
	head := strings.TrimSpace(parts[0])

	var value any
	var err error
	switch {
	case len(head) >= 2 && strings.HasPrefix(head, `"`) && strings.HasSuffix(head, `"`):
		value = head[1 : len(head)-1]
	default:
		value, err = s.lookup(head)
	}
	if err != nil {
		return nil, err
	}

	for _, pipe := range parts[1:] {
		if value, err = applyPipe(strings.TrimSpace(pipe), value); err != nil {
			return nil, err
		}
	}
	return value, nil
}

func (s *TestScenario) lookup(ref string) (any, error) {
	root, path := ref, ""
	if i := strings.IndexAny(ref, ".["); i > 0 {
		root, path = ref[:i], ref[i:]
	}

	var value any
	if root == "response" {
		body, err := s.Session().RespJSON()
		if err != nil {
			return nil, err
		}
		value = body
	} else {
		v, ok := s.Variables[root]
		if !ok {
			return nil, fmt.Errorf("variable ${%s} not defined yet", root)
		}
		value = v
	}
	if path == "" {
		return value, nil
	}

	selector := path
	if strings.HasPrefix(selector, "[") {
		selector = "." + selector
	}
	result, found, err := Select(value, selector)
	if err != nil {
		return nil, fmt.Errorf("${%s}: %w", ref, err)
	}
	if !found {
		return nil, fmt.Errorf("${%s} not found", ref)
	}
	return result, nil
}

// Select runs a gojq selector against a JSON-shaped value and returns its
// first result.
func Select(value any, selector string) (any, bool, error) {
	query, err := gojq.Parse(selector)
	if err != nil {
		return nil, false, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	iter := query.Run(value)
	next, ok := iter.Next()
	if !ok {
		return nil, false, nil
	}
	if err, isErr := next.(error); isErr {
		return nil, false, err
	}
	return next, true, nil
}

func applyPipe(name string, value any) (any, error) {
	switch name {
	case "json":
		data, err := json.MarshalIndent(value, "", "  ")
		if err != nil {
			return nil, err
		}
		return string(data), nil
	case "string":
		return fmt.Sprintf("%v", value), nil
	}
	return nil, fmt.Errorf("unknown pipe: %s", name)
}

// JSONMustMatch fails unless actual and expected are the same JSON document.
func (s *TestScenario) JSONMustMatch(actual, expected string, expand bool) error {
	actualDoc, expectedDoc, err := s.decodePair(actual, expected, expand)
	if err != nil {
		return err
	}
	if reflect.DeepEqual(expectedDoc, actualDoc) {
		return nil
	}
	diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(indent(expectedDoc)),
		B:        difflib.SplitLines(indent(actualDoc)),
		FromFile: "Expected",
		ToFile:   "Actual",
		Context:  1,
	})
	return fmt.Errorf("actual does not match expected, diff:\n%s", diff)
}

// JSONMustContain fails unless every field of expected is present in actual
// with the same value. Arrays must match in length.
func (s *TestScenario) JSONMustContain(actual, expected string, expand bool) error {
	actualDoc, expectedDoc, err := s.decodePair(actual, expected, expand)
	if err != nil {
		return err
	}
	if err := subset(expectedDoc, actualDoc, "$"); err != nil {
		return fmt.Errorf("actual does not contain expected: %w\nexpected:\n%s\nactual:\n%s",
			err, indent(expectedDoc), indent(actualDoc))
	}
	return nil
}

func (s *TestScenario) decodePair(actual, expected string, expand bool) (any, any, error) {
	var actualDoc any
	if err := json.Unmarshal([]byte(actual), &actualDoc); err != nil {
		return nil, nil, fmt.Errorf("actual is not json: %w\n%s", err, actual)
	}
	if expand {
		var err error
		if expected, err = s.Expand(expected); err != nil {
			return nil, nil, err
		}
	}
	if strings.TrimSpace(expected) == "" {
		return nil, nil, fmt.Errorf("no expected json given, actual was:\n%s", indent(actualDoc))
	}
	var expectedDoc any
	if err := json.Unmarshal([]byte(expected), &expectedDoc); err != nil {
		return nil, nil, fmt.Errorf("expected is not json: %w\n%s", err, expected)
	}
	return actualDoc, expectedDoc, nil
}

func subset(expected, actual any, path string) error {
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return fmt.Errorf("at %s: expected object, got %T", path, actual)
		}
		for key, v := range exp {
			av, ok := act[key]
			if !ok {
				return fmt.Errorf("at %s: missing key %q", path, key)
			}
			if err := subset(v, av, path+"."+key); err != nil {
				return err
			}
		}
		return nil
	case []any:
		act, ok := actual.([]any)
		if !ok {
			return fmt.Errorf("at %s: expected array, got %T", path, actual)
		}
		if len(exp) != len(act) {
			return fmt.Errorf("at %s: expected %d items, got %d", path, len(exp), len(act))
		}
		for i := range exp {
			if err := subset(exp[i], act[i], fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
		return nil
	}
	if !reflect.DeepEqual(expected, actual) {
		return fmt.Errorf("at %s: expected %v, got %v", path, expected, actual)
	}
	return nil
}

func indent(doc any) string {
	data, _ := json.MarshalIndent(doc, "", "  ")
	return string(data)
}
