package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/znsio/pubsub-relay-go/internal/docker"
	"github.com/znsio/pubsub-relay-go/internal/emulator"
	"github.com/znsio/pubsub-relay-go/internal/harness"
	"github.com/znsio/pubsub-relay-go/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.InitializeAndConfigure("")
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "harness",
		Short:         "Run the Pub/Sub integration harness",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(validateCmd(), waitCmd(), provisionCmd(), testCmd(), emulatorCmd())
	return root
}

func validateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the compose descriptor for structural problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := harness.LoadDescriptor(file)
			if err != nil {
				return err
			}
			if err := d.Validate(filepath.Dir(file)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d services OK\n", file, len(d.Services))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "docker-compose.yml", "compose descriptor")
	return cmd
}

func emulatorHostFlag(cmd *cobra.Command, host *string) {
	cmd.Flags().StringVar(host, "emulator-host", os.Getenv("PUBSUB_EMULATOR_HOST"), "emulator host:port")
}

func waitCmd() *cobra.Command {
	var (
		host    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Wait until the emulator answers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if host == "" {
				return fmt.Errorf("--emulator-host or PUBSUB_EMULATOR_HOST is required")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return emulator.WaitReachable(ctx, host)
		},
	}
	emulatorHostFlag(cmd, &host)
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "how long to wait")
	return cmd
}

func provisionCmd() *cobra.Command {
	var (
		host  string
		specs []string
	)
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create topics and subscriptions on the emulator",
		Long:  "Projects come from --project flags or PUBSUB_PROJECT1..N, e.g. testproject,topic1:subscription1",
		RunE: func(cmd *cobra.Command, args []string) error {
			if host == "" {
				return fmt.Errorf("--emulator-host or PUBSUB_EMULATOR_HOST is required")
			}
			projects, err := projectsFrom(specs)
			if err != nil {
				return err
			}
			for _, p := range projects {
				if err := emulator.Provision(cmd.Context(), host, p); err != nil {
					return err
				}
			}
			return nil
		},
	}
	emulatorHostFlag(cmd, &host)
	cmd.Flags().StringArrayVar(&specs, "project", nil, "project spec, may be repeated")
	return cmd
}

func projectsFrom(specs []string) ([]emulator.Project, error) {
	if len(specs) == 0 {
		return emulator.ProjectsFromEnv(os.Environ())
	}
	projects := make([]emulator.Project, 0, len(specs))
	for _, s := range specs {
		p, err := emulator.ParseProjectSpec(s)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, nil
}

func testCmd() *cobra.Command {
	var (
		host     string
		features string
		filter   string
		dir      string
	)
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Wait for the emulator, then run the integration suite",
		RunE: func(cmd *cobra.Command, args []string) error {
			if host != "" {
				waitCtx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
				defer cancel()
				if err := emulator.WaitReachable(waitCtx, host); err != nil {
					return err
				}
			}
			runner := &harness.Runner{Dir: dir, Stdout: cmd.OutOrStdout(), Stderr: cmd.ErrOrStderr()}
			if host != "" {
				runner.Env = []string{"PUBSUB_EMULATOR_HOST=" + emulator.NormalizeHost(host)}
			}
			return runner.Run(cmd.Context(), "go test", harness.TestCommand(features, filter))
		},
	}
	emulatorHostFlag(cmd, &host)
	cmd.Flags().StringVar(&features, "features", harness.DefaultFeatures, "build tags enabling the suite")
	cmd.Flags().StringVar(&filter, "run", harness.DefaultFilter, "test name filter")
	cmd.Flags().StringVar(&dir, "dir", ".", "module directory")
	return cmd
}

func emulatorCmd() *cobra.Command {
	var specs []string
	cmd := &cobra.Command{
		Use:   "emulator",
		Short: "Start an emulator container and keep it running until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			projects, err := projectsFrom(specs)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			c, host, err := docker.StartPubsubEmulator(ctx, docker.EmulatorRequest{Projects: projects})
			if err != nil {
				return err
			}
			defer func() {
				if err := c.Terminate(context.Background()); err != nil {
					logger.Errorf("Error terminating container: %v", err)
				}
			}()

			fmt.Fprintf(cmd.OutOrStdout(), "export PUBSUB_EMULATOR_HOST=%s\n", host)
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&specs, "project", []string{"testproject,topic1:subscription1"}, "project spec, may be repeated")
	return cmd
}
