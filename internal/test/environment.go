package test

import (
	"context"

	"github.com/testcontainers/testcontainers-go"

	"github.com/znsio/pubsub-relay-go/internal/config"
	"github.com/znsio/pubsub-relay-go/internal/emulator"
)

type TestEnvironment struct {
	Ctx               context.Context
	HarnessNetwork    *testcontainers.DockerNetwork
	EmulatorContainer testcontainers.Container
	EmulatorHost      string
	RunnerContainer   testcontainers.Container
	RunnerExitCode    int
	Projects          []emulator.Project
	RepositoryRoot    string
	GoVersion         string
	Features          string
	TestFilter        string
	Config            *config.Config
}
