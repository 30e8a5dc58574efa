package serve

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/chirino/threadflow/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartSinglePortHTTP_PlainAndTLSShareAPort(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, "tls=%t", r.TLS != nil)
	})
	running, err := StartSinglePortHTTP(context.Background(), config.ListenerConfig{
		EnablePlainText: true,
		EnableTLS:       true,
	}, handler)
	require.NoError(t, err)
	t.Cleanup(func() { _ = running.Close(context.Background()) })
	require.NotZero(t, running.Port)

	get := func(client *http.Client, url string) string {
		resp, err := client.Get(url)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return string(body)
	}

	assert.Equal(t, "tls=false", get(http.DefaultClient, fmt.Sprintf("http://127.0.0.1:%d/", running.Port)))

	insecure := &http.Client{Transport: &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // self-signed test certificate
	}}
	assert.Equal(t, "tls=true", get(insecure, fmt.Sprintf("https://127.0.0.1:%d/", running.Port)))
}

func TestStartSinglePortHTTP_RequiresAProtocol(t *testing.T) {
	_, err := StartSinglePortHTTP(context.Background(), config.ListenerConfig{}, http.NotFoundHandler())
	require.Error(t, err)
}

func TestRunningServers_CloseIsIdempotent(t *testing.T) {
	running, err := StartSinglePortHTTP(context.Background(), config.ListenerConfig{EnablePlainText: true}, http.NotFoundHandler())
	require.NoError(t, err)
	require.NoError(t, running.Close(context.Background()))
	require.NoError(t, running.Close(context.Background()))
}
