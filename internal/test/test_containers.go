package test

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/znsio/pubsub-relay-go/internal/docker"
	"github.com/znsio/pubsub-relay-go/internal/emulator"
	"github.com/znsio/pubsub-relay-go/internal/harness"
)

const (
	runnerBuildFile = "scripts/integration/Dockerfile"
	runnerWorkDir   = "/code"
)

// EmulatorHostFromEnv returns PUBSUB_EMULATOR_HOST when the tests already
// run next to an emulator, as they do under docker compose.
func EmulatorHostFromEnv() (string, bool) {
	host := os.Getenv("PUBSUB_EMULATOR_HOST")
	return emulator.NormalizeHost(host), host != ""
}

// StartEmulator uses an existing emulator when PUBSUB_EMULATOR_HOST is set
// and starts a container otherwise. The returned container is nil in the
// first case.
func StartEmulator(t *testing.T, env *TestEnvironment) (testcontainers.Container, string, error) {
	if host, ok := EmulatorHostFromEnv(); ok {
		t.Logf("Using emulator at %s", host)
		return nil, host, nil
	}

	req := docker.EmulatorRequest{Projects: env.Projects}
	if env.HarnessNetwork != nil {
		req.Network = env.HarnessNetwork.Name
	}

	c, host, err := docker.StartPubsubEmulator(env.Ctx, req)
	if err != nil {
		return nil, "", err
	}
	t.Logf("Emulator container started on %s", host)
	return c, host, nil
}

// RunTestContainer builds the runner image from the repository's build file
// and runs the integration suite inside it against the emulator, mirroring
// the runner service of docker-compose.yml. It returns the collected logs.
func RunTestContainer(t *testing.T, env *TestEnvironment) (string, error) {
	if env.HarnessNetwork == nil {
		return "", errors.New("runner needs the harness network to reach the emulator")
	}

	goVersion := env.GoVersion
	if goVersion == "" {
		goVersion = "1.22"
	}

	req := testcontainers.ContainerRequest{
		FromDockerfile: testcontainers.FromDockerfile{
			Context:    env.RepositoryRoot,
			Dockerfile: runnerBuildFile,
			BuildArgs: map[string]*string{
				"GO_VERSION": &goVersion,
			},
		},
		Env: map[string]string{
			"PUBSUB_EMULATOR_HOST": docker.EmulatorAlias + ":" + docker.EmulatorPort,
		},
		Cmd:        harness.TestCommand(env.Features, env.TestFilter),
		WorkingDir: runnerWorkDir,
		Mounts: testcontainers.Mounts(
			testcontainers.BindMount(env.RepositoryRoot, runnerWorkDir),
			testcontainers.VolumeMount("go-mod-cache", "/go/pkg/mod"),
			testcontainers.VolumeMount("go-build-cache", "/root/.cache/go-build"),
		),
		Networks:   []string{env.HarnessNetwork.Name},
		WaitingFor: wait.ForExit().WithExitTimeout(15 * time.Minute),
	}

	t.Log("Runner container created")

	runner, err := testcontainers.GenericContainer(env.Ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", fmt.Errorf("error starting runner container: %w", err)
	}
	env.RunnerContainer = runner

	logReader, err := runner.Logs(env.Ctx)
	if err != nil {
		return "", fmt.Errorf("error getting runner logs: %w", err)
	}
	defer logReader.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, logReader); err != nil {
		return "", err
	}

	state, err := runner.State(env.Ctx)
	if err != nil {
		return buf.String(), fmt.Errorf("error getting runner state: %w", err)
	}
	env.RunnerExitCode = state.ExitCode
	if state.ExitCode != 0 {
		return buf.String(), &harness.ExitError{Name: "runner", Code: state.ExitCode}
	}
	return buf.String(), nil
}

// RepositoryRoot walks up from the working directory to the go.mod.
func RepositoryRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("error getting current directory: %w", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("go.mod not found")
		}
		dir = parent
	}
}
