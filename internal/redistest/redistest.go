// Package redistest provides a Redis server for storage tests.
package redistest

import (
	"context"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// EnvURL points the tests at an existing server instead of a container.
const EnvURL = "DASHAUTH_TEST_REDIS_URL"

// URL returns the URL of a Redis server that lives as long as t.
//
// EnvURL wins when set. Otherwise a redis:7-alpine container is started
// through testcontainers-go and terminated in t's cleanup; the test is
// skipped when no container runtime is reachable.
func URL(t *testing.T) string {
	t.Helper()
	if url := os.Getenv(EnvURL); url != "" {
		return url
	}
	tc.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(60 * time.Second),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("redis://%s/0", net.JoinHostPort(host, port.Port()))
}
