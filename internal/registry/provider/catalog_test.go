package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/chirino/threadflow/internal/model"
	registrystore "github.com/chirino/threadflow/internal/registry/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name      string
	available bool
}

func (s stubProvider) Name() string    { return s.name }
func (s stubProvider) Available() bool { return s.available }
func (s stubProvider) Models() []ModelInfo {
	return []ModelInfo{{ID: s.name + "-1", Name: "One", Description: "first"}}
}
func (s stubProvider) Generate(context.Context, string, []model.Message) (string, error) {
	return "ok", nil
}

func TestCatalog_Resolve(t *testing.T) {
	c := NewCatalog(stubProvider{name: "alpha", available: true}, stubProvider{name: "beta"})

	p, err := c.Resolve("alpha", "alpha-1")
	require.NoError(t, err)
	assert.Equal(t, "alpha", p.Name())

	var verr *registrystore.ValidationError
	_, err = c.Resolve("gamma", "x")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "provider", verr.Field)

	_, err = c.Resolve("alpha", "alpha-2")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "modelId", verr.Field)

	var perr *Error
	_, err = c.Resolve("beta", "beta-1")
	require.ErrorAs(t, err, &perr)
	assert.True(t, perr.Unavailable)
}

func TestCatalog_Describe(t *testing.T) {
	c := NewCatalog(stubProvider{name: "alpha", available: true}, stubProvider{name: "beta"})
	d := c.Describe()
	require.Len(t, d, 2)
	assert.True(t, d["alpha"].Available)
	assert.False(t, d["beta"].Available)
	assert.Equal(t, "alpha-1", d["alpha"].Models[0].ID)
}

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap("x", nil))

	var perr *Error
	require.ErrorAs(t, Wrap("x", fmt.Errorf("call: %w", context.DeadlineExceeded)), &perr)
	assert.True(t, perr.Timeout)

	original := &Error{Provider: "x", Status: 429, Message: "slow down"}
	assert.Same(t, original, Wrap("y", fmt.Errorf("wrapped: %w", original)))

	require.ErrorAs(t, Wrap("x", errors.New("boom")), &perr)
	assert.Equal(t, "boom", perr.Message)
	assert.False(t, perr.Timeout)
}

type closingProvider struct {
	stubProvider
	closed *int
}

func (c closingProvider) Close() error {
	*c.closed++
	return nil
}

func TestCatalog_Close(t *testing.T) {
	closed := 0
	c := NewCatalog(closingProvider{stubProvider: stubProvider{name: "alpha"}, closed: &closed}, stubProvider{name: "beta"})
	require.NoError(t, c.Close())
	assert.Equal(t, 1, closed)
}
