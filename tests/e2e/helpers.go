// Shared helper functions for E2E tests
package e2e

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/require"
)

// startEmbeddedNATS starts an embedded NATS server for testing
func startEmbeddedNATS(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:           "127.0.0.1",
		Port:           -1, // Random port
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 4096,
	}
	ns, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go ns.Start()

	// Wait for server to be ready
	if !ns.ReadyForConnections(4 * time.Second) {
		t.Fatal("NATS server did not start in time")
	}

	return ns
}

// getProjectRoot walks up from tests/e2e to the module root.
func getProjectRoot(t *testing.T) string {
	t.Helper()
	cwd, err := os.Getwd()
	require.NoError(t, err)

	projectRoot := filepath.Join(cwd, "..", "..")
	absRoot, err := filepath.Abs(projectRoot)
	require.NoError(t, err)
	return absRoot
}

// buildBinary compiles one ./cmd/... package into binDir, named name.
func buildBinary(t *testing.T, projectRoot, binDir, name, pkg string) {
	t.Helper()
	cmd := exec.Command("go", "build", "-o", filepath.Join(binDir, name), pkg)
	cmd.Dir = projectRoot
	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Logf("build output for %s: %s", name, string(output))
	}
	require.NoError(t, err, "failed to build %s", name)
}

// startProcess launches a built binary with the given args. stdout/stderr
// are left attached to the test binary's own, since routing them through
// t.Logf from a background process races the test's own goroutine.
func startProcess(t *testing.T, ctx context.Context, binPath string, args ...string) *exec.Cmd {
	t.Helper()
	cmd := exec.CommandContext(ctx, binPath, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	require.NoError(t, cmd.Start(), "failed to start %s", filepath.Base(binPath))
	t.Logf("started %s (pid %d)", filepath.Base(binPath), cmd.Process.Pid)
	return cmd
}

func killProcess(cmd *exec.Cmd) {
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}
}
