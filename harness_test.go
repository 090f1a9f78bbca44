//go:build harness

package main_test

import (
	"context"
	"os"
	"testing"

	"github.com/testcontainers/testcontainers-go/network"

	"github.com/znsio/pubsub-relay-go/internal/config"
	"github.com/znsio/pubsub-relay-go/internal/emulator"
	"github.com/znsio/pubsub-relay-go/internal/harness"
	"github.com/znsio/pubsub-relay-go/internal/test"
)

// TestHarness reproduces docker-compose.yml with testcontainers: the
// emulator and the runner share a network and the runner executes the
// integration suite inside a container built from the runner build file.
func TestHarness(t *testing.T) {
	env := setUpEnv(t)

	defer tearDown(t, env)

	setUp(t, env)

	runTests(t, env)
}

func setUpEnv(t *testing.T) *test.TestEnvironment {
	root, err := test.RepositoryRoot()
	if err != nil {
		t.Fatalf("Failed to locate repository: %v", err)
	}

	if err := config.LoadConfig(root); err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	descriptor, err := harness.LoadDescriptor(root + "/docker-compose.yml")
	if err != nil {
		t.Fatalf("Failed to load descriptor: %v", err)
	}
	if err := descriptor.Validate(root); err != nil {
		t.Fatalf("Descriptor is invalid: %v", err)
	}

	var projects []emulator.Project
	for _, name := range descriptor.ServiceNames() {
		found, err := emulator.ProjectsFromEnv(descriptor.Services[name].Environment.Environ())
		if err != nil {
			t.Fatalf("Invalid emulator projects: %v", err)
		}
		projects = append(projects, found...)
	}

	ctx := context.Background()

	newNetwork, err := network.New(ctx)
	if err != nil {
		t.Fatal(err)
	}

	return &test.TestEnvironment{
		Ctx:            ctx,
		Config:         config.GetConfig(),
		HarnessNetwork: newNetwork,
		Projects:       projects,
		RepositoryRoot: root,
		GoVersion:      os.Getenv("GO_VERSION"),
		Features:       harness.DefaultFeatures,
		TestFilter:     harness.DefaultFilter,
	}
}

func setUp(t *testing.T, env *test.TestEnvironment) {
	var err error

	printHeader(t, 1, "Starting Pub/Sub emulator")
	t.Setenv("PUBSUB_EMULATOR_HOST", "")
	env.EmulatorContainer, env.EmulatorHost, err = test.StartEmulator(t, env)
	if err != nil {
		t.Fatalf("could not start emulator container: %v", err)
	}

	printHeader(t, 2, "Waiting for emulator")
	if err := emulator.WaitReachable(env.Ctx, env.EmulatorHost); err != nil {
		t.Fatalf("emulator never became reachable: %v", err)
	}
}

func runTests(t *testing.T, env *test.TestEnvironment) {
	printHeader(t, 3, "Running integration suite in runner container")
	testLogs, err := test.RunTestContainer(t, env)
	if err != nil {
		t.Logf("Runner failed: %s", err)
		t.Fail()
	}

	t.Log("Test Results:")
	t.Log(testLogs)
}

func tearDown(t *testing.T, env *test.TestEnvironment) {
	if env.RunnerContainer != nil {
		if err := env.RunnerContainer.Terminate(env.Ctx); err != nil {
			t.Logf("Failed to terminate runner container: %v", err)
		}
	}

	if env.EmulatorContainer != nil {
		if err := env.EmulatorContainer.Terminate(env.Ctx); err != nil {
			t.Logf("Failed to terminate emulator container: %v", err)
		}
	}

	if env.HarnessNetwork != nil {
		if err := env.HarnessNetwork.Remove(env.Ctx); err != nil {
			t.Logf("Failed to remove network: %v", err)
		}
	}
}

func printHeader(t *testing.T, stepNum int, title string) {
	t.Log("")
	t.Logf("======== STEP %d =========", stepNum)
	t.Log(title)
	t.Log("=========================")
	t.Log("")
}
