package harness

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// Defaults of the integration run: the build tag that enables the
// emulator-backed tests and the name filter that selects them.
const (
	DefaultFeatures = "pubsub_integration"
	DefaultFilter   = "PubSub"
)

// TestCommand is the fixed test invocation of the runner service.
func TestCommand(features, filter string) []string {
	if features == "" {
		features = DefaultFeatures
	}
	if filter == "" {
		filter = DefaultFilter
	}
	return []string{"go", "test", "-count=1", "-tags", features, "-run", filter, "./..."}
}

// Runner executes a command and streams its output line by line with a
// prefix, so several processes can share one terminal.
type Runner struct {
	Dir    string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

// ExitError carries the exit code of a command that ran but failed.
type ExitError struct {
	Name string
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Name, e.Code)
}

func (r *Runner) Run(ctx context.Context, name string, args []string) error {
	if len(args) == 0 {
		return errors.New("no command given")
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = r.Dir
	cmd.Env = append(os.Environ(), r.Env...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("error creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("error creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("error starting %s: %w", name, err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		printOutput(stdout, writerOr(r.Stdout, os.Stdout), "["+name+"] ")
	}()
	go func() {
		defer wg.Done()
		printOutput(stderr, writerOr(r.Stderr, os.Stderr), "["+name+" ERROR] ")
	}()
	// Pipes must be drained before Wait closes them.
	wg.Wait()

	err = cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Name: name, Code: exitErr.ExitCode()}
	}
	if err != nil {
		return fmt.Errorf("error running %s: %w", name, err)
	}
	return nil
}

func writerOr(w, fallback io.Writer) io.Writer {
	if w != nil {
		return w
	}
	return fallback
}

// printOutput copies lines from pipe to w, each prefixed.
func printOutput(pipe io.Reader, w io.Writer, prefix string) {
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		fmt.Fprintf(w, "%s%s\n", prefix, scanner.Text())
	}
}
