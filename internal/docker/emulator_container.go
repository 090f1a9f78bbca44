package docker

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/znsio/pubsub-relay-go/internal/emulator"
	"github.com/znsio/pubsub-relay-go/internal/logger"
)

const (
	EmulatorImage = "messagebird/gcloud-pubsub-emulator:latest"
	EmulatorPort  = "8681"
	EmulatorAlias = "gcloud-pubsub"
)

type EmulatorRequest struct {
	Projects []emulator.Project
	Network  string
}

// EmulatorRequestFor builds the container request. The image creates the
// topics and subscriptions listed in PUBSUB_PROJECTn on startup.
func EmulatorRequestFor(req EmulatorRequest) testcontainers.ContainerRequest {
	env := make(map[string]string, len(req.Projects))
	for i, p := range req.Projects {
		env[fmt.Sprintf("%s%d", emulator.EnvPrefix, i+1)] = p.String()
	}

	port := nat.Port(EmulatorPort + "/tcp")
	cr := testcontainers.ContainerRequest{
		Image:        EmulatorImage,
		ExposedPorts: []string{string(port)},
		Env:          env,
		WaitingFor:   wait.ForHTTP("/").WithPort(port).WithStartupTimeout(2 * time.Minute),
	}
	if req.Network != "" {
		cr.Networks = []string{req.Network}
		cr.NetworkAliases = map[string][]string{req.Network: {EmulatorAlias}}
	}
	return cr
}

// StartPubsubEmulator starts the emulator and returns the container and
// the host:port it is reachable on from this process.
func StartPubsubEmulator(ctx context.Context, req EmulatorRequest) (testcontainers.Container, string, error) {
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: EmulatorRequestFor(req),
		Started:          true,
	})
	if err != nil {
		return nil, "", fmt.Errorf("error starting emulator container: %w", err)
	}

	host, err := c.Host(ctx)
	if err != nil {
		terminate(ctx, c)
		return nil, "", fmt.Errorf("error getting host: %w", err)
	}
	mapped, err := c.MappedPort(ctx, nat.Port(EmulatorPort))
	if err != nil {
		terminate(ctx, c)
		return nil, "", fmt.Errorf("error getting mapped port: %w", err)
	}

	return c, host + ":" + mapped.Port(), nil
}

type terminator interface {
	Terminate(ctx context.Context) error
}

func terminate(ctx context.Context, c terminator) {
	if err := c.Terminate(ctx); err != nil {
		logger.Errorf("Error terminating container: %v", err)
	}
}
