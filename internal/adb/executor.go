package adb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

const DefaultPath = "adb"

var (
	ErrPathNotSet      = errors.New("adb path is not set")
	ErrPairRejected    = errors.New("adb pair did not report success")
	ErrConnectRejected = errors.New("adb connect reported a failure")
)

// CommandError reports an adb invocation that exited with a non-zero status.
type CommandError struct {
	Args     []string
	ExitCode int
	Output   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("adb %s: exit status %d", strings.Join(e.Args, " "), e.ExitCode)
}

// Executor runs the adb binary. The output of pair and connect is streamed to Stdout and
// Stderr so the user sees adb's own messages.
type Executor struct {
	Path   string
	Logger *zap.Logger
	Stdout io.Writer
	Stderr io.Writer
}

// Check makes sure the configured binary exists, is executable and answers "adb version".
func (e *Executor) Check(ctx context.Context) (string, error) {
	if e.Path == "" {
		return "", ErrPathNotSet
	}

	path, err := exec.LookPath(e.Path)
	if err != nil {
		return "", fmt.Errorf("adb executable not usable: %w", err)
	}

	e.logger().Debug("Found adb executable", zap.String("path", path))

	out, err := e.run(ctx, false, "version")
	if err != nil {
		return "", fmt.Errorf("adb version test failed: %w", err)
	}

	version, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	return version, nil
}

func (e *Executor) Pair(ctx context.Context, address, password string) error {
	out, err := e.run(ctx, true, "pair", address, password)
	if err != nil {
		return err
	}

	if !strings.Contains(out, "Successfully paired") {
		return ErrPairRejected
	}
	return nil
}

func (e *Executor) Connect(ctx context.Context, address string) error {
	out, err := e.run(ctx, true, "connect", address)
	if err != nil {
		return err
	}

	lower := strings.ToLower(out)
	if strings.Contains(lower, "failed to connect") || strings.Contains(lower, "cannot connect") {
		return ErrConnectRejected
	}
	return nil
}

func (e *Executor) Devices(ctx context.Context) ([]Device, error) {
	out, err := e.run(ctx, false, "devices")
	if err != nil {
		return nil, err
	}
	return ParseDevices(out), nil
}

func (e *Executor) run(ctx context.Context, stream bool, args ...string) (string, error) {
	if e.Path == "" {
		return "", ErrPathNotSet
	}

	logger := e.logger().With(zap.Strings("args", args))
	logger.Debug("Running adb command")

	var captured bytes.Buffer

	cmd := exec.CommandContext(ctx, e.Path, args...)
	cmd.Stdout = &captured
	cmd.Stderr = &captured

	if stream {
		cmd.Stdout = io.MultiWriter(&captured, e.stdout())
		cmd.Stderr = io.MultiWriter(&captured, e.stderr())
	}

	err := cmd.Run()
	out := captured.String()

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			logger.Debug("adb command failed", zap.Int("exit_code", exitErr.ExitCode()), zap.String("output", out))
			return out, &CommandError{Args: args, ExitCode: exitErr.ExitCode(), Output: out}
		}

		return out, fmt.Errorf("failed to run adb %s: %w", args[0], err)
	}

	logger.Debug("adb command finished", zap.String("output", out))
	return out, nil
}

func (e *Executor) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func (e *Executor) stdout() io.Writer {
	if e.Stdout == nil {
		return os.Stdout
	}
	return e.Stdout
}

func (e *Executor) stderr() io.Writer {
	if e.Stderr == nil {
		return os.Stderr
	}
	return e.Stderr
}
