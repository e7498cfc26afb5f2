package client

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gatewayz/gatewayz/common/config"
)

func TestInit(t *testing.T) {
	Init()

	require.NotNil(t, HTTPClient)
	require.NotNil(t, ImpatientHTTPClient)
	require.Greater(t, ImpatientHTTPClient.Timeout.Seconds(), 0.0)

	// HTTP/2 is disabled (TLSNextProto present but empty).
	if transport, ok := HTTPClient.Transport.(*http.Transport); ok {
		require.NotNil(t, transport.TLSNextProto)
		require.Empty(t, transport.TLSNextProto)
	}
}

func TestInit_BlockInternalRequests(t *testing.T) {
	old := config.BlockInternalRequests
	defer func() {
		config.BlockInternalRequests = old
		Init()
	}()

	config.BlockInternalRequests = true
	Init()

	_, err := ImpatientHTTPClient.Get("http://127.0.0.1:12345")
	require.Error(t, err)
	require.Contains(t, err.Error(), "blocked")

	config.BlockInternalRequests = false
	Init()
	_, err = ImpatientHTTPClient.Get("http://127.0.0.1:12345")
	// Connection refused, not the guard.
	require.Error(t, err)
	require.NotContains(t, err.Error(), "blocked")
}
