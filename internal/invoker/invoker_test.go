package invoker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecCapturesStdout(t *testing.T) {
	out, err := NewExec(0).Run(context.Background(), Command{Name: "echo", Args: []string{"hello", "world"}})
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", out)
}

func TestExecPassesStdin(t *testing.T) {
	out, err := NewExec(0).Run(context.Background(), Command{Name: "cat", Stdin: []byte("kind: Namespace\n")})
	require.NoError(t, err)
	assert.Equal(t, "kind: Namespace\n", out)
}

func TestExecNonZeroExit(t *testing.T) {
	_, err := NewExec(0).Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo 'release already exists' >&2; exit 3"},
	})
	require.Error(t, err)

	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, 3, cmdErr.ExitCode)
	assert.Contains(t, cmdErr.Stderr, "release already exists")
	assert.Equal(t, "sh: release already exists", err.Error())
}

func TestExecMissingBinary(t *testing.T) {
	_, err := NewExec(0).Run(context.Background(), Command{Name: "storefleet-no-such-binary"})
	require.Error(t, err)

	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, -1, cmdErr.ExitCode)
	assert.Empty(t, cmdErr.Stderr)
}

func TestExecTimeout(t *testing.T) {
	start := time.Now()
	_, err := NewExec(50*time.Millisecond).Run(context.Background(), Command{Name: "sleep", Args: []string{"5"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out after 50ms")
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "kubectl", Command{Name: "kubectl"}.String())
	assert.Equal(t, "helm uninstall store-a -n ns-store-a",
		Command{Name: "helm", Args: []string{"uninstall", "store-a", "-n", "ns-store-a"}}.String())
}
