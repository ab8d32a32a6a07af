//go:build integration

package dbplugin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/mugiliam/hatchdbpool/internal/config"
	"github.com/mugiliam/hatchdbpool/internal/server"
	"github.com/mugiliam/hatchdbpool/internal/types"
	"github.com/mugiliam/hatchdbpool/pkg/api"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var pgConfig config.PoolConfig

func TestMain(m *testing.M) {
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_PASSWORD": "secret", "POSTGRES_USER": "postgres", "POSTGRES_DB": "hatch"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}

	exitCode := 1
	if err := loadContainerConfig(ctx, container); err != nil {
		fmt.Fprintf(os.Stderr, "failed to configure postgres container: %v\n", err)
	} else {
		exitCode = m.Run()
	}
	_ = container.Terminate(ctx)
	os.Exit(exitCode)
}

func loadContainerConfig(ctx context.Context, c testcontainers.Container) error {
	host, err := c.Host(ctx)
	if err != nil {
		return fmt.Errorf("container host: %w", err)
	}
	port, err := c.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return fmt.Errorf("container port: %w", err)
	}
	p, err := strconv.Atoi(port.Port())
	if err != nil {
		return fmt.Errorf("container port: %w", err)
	}
	pgConfig = config.PoolConfig{
		Driver:           types.DbDriverPostgresql,
		MaxPool:          2,
		Host:             host,
		Port:             p,
		Database:         "hatch",
		User:             "postgres",
		Password:         "secret",
		VerifyOnRegister: true,
	}
	return nil
}

func TestPostgresqlPing(t *testing.T) {
	ctx := log.Logger.WithContext(context.Background())
	s, err := server.CreateNewServer()
	require.NoError(t, err)
	require.NoError(t, Register(s, pgConfig, WithContext(ctx)))
	s.MountHandlers()
	t.Cleanup(func() { require.NoError(t, s.Stop(ctx)) })

	rr := get(s, "/db/ping")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var rsp api.GetDbPingRsp
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rsp))
	assert.Equal(t, "hatch", rsp.Database)
	assert.NotEmpty(t, rsp.LeaseId)
}

func TestPostgresqlConcurrentRequests(t *testing.T) {
	ctx := log.Logger.WithContext(context.Background())
	s, err := server.CreateNewServer()
	require.NoError(t, err)
	require.NoError(t, Register(s, pgConfig, WithContext(ctx)))
	s.MountHandlers()
	t.Cleanup(func() { require.NoError(t, s.Stop(ctx)) })

	var wg conc.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Go(func() {
			assert.Equal(t, http.StatusOK, get(s, "/db/ping").Code)
		})
	}
	wg.Wait()

	rr := get(s, "/db/stats")
	require.Equal(t, http.StatusOK, rr.Code)
	var st api.GetDbStatsRsp
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	assert.Equal(t, 2, st.MaxOpen)
	assert.LessOrEqual(t, st.InUse, 2)
	// The stats request holds its own lease while it reports.
	assert.Equal(t, uint64(1), st.Outstanding)
	assert.Zero(t, st.Failures)
}
