package http_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infrahttp "github.com/pglemos/ml-bling-sync/infrastructure/http"
)

func TestNewClient_Defaults(t *testing.T) {
	t.Parallel()

	c := infrahttp.NewClient(infrahttp.ClientConfig{})
	assert.Equal(t, infrahttp.DefaultTimeout, c.Timeout)

	tr, ok := c.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, infrahttp.DefaultMaxIdleConnsPerHost, tr.MaxIdleConnsPerHost)
}

func TestNewClient_Overrides(t *testing.T) {
	t.Parallel()

	c := infrahttp.NewClient(infrahttp.ClientConfig{Timeout: 5 * time.Second, MaxIdleConnsPerHost: 2})
	assert.Equal(t, 5*time.Second, c.Timeout)

	tr, ok := c.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 2, tr.MaxIdleConnsPerHost)
}
