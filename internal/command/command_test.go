package command

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecCombinedOutput(t *testing.T) {
	out, err := Exec{}.Run(context.Background(), Cmd{Name: "sh", Args: []string{"-c", "echo out; echo err >&2"}})
	require.NoError(t, err)
	assert.Equal(t, "out\nerr\n", string(out))
}

func TestExecDirAndEnv(t *testing.T) {
	dir := t.TempDir()
	out, err := Exec{}.Run(context.Background(), Cmd{
		Dir:  dir,
		Env:  []string{"PPA_SUBMIT_TEST=yes"},
		Name: "sh",
		Args: []string{"-c", "pwd; echo $PPA_SUBMIT_TEST"},
	})
	require.NoError(t, err)
	assert.Contains(t, string(out), "yes")
}

func TestExecExitError(t *testing.T) {
	_, err := Exec{}.Run(context.Background(), Cmd{Name: "sh", Args: []string{"-c", "echo broken; exit 3"}})
	require.Error(t, err)
	assert.True(t, IsExit(err))
	assert.False(t, IsNotFound(err))

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.Code)
	assert.Contains(t, exitErr.Error(), "broken")
}

func TestExecNotFound(t *testing.T) {
	_, err := Exec{}.Run(context.Background(), Cmd{Name: "ppa-submit-no-such-tool"})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsExit(err))
}

func TestExecCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := Exec{}.Run(ctx, Cmd{Name: "sleep", Args: []string{"5"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, IsExit(err))
}

func TestCmdString(t *testing.T) {
	c := Cmd{Name: "dput", Args: []string{"-c", "/tmp/my config.cf", "ppa-submit", "foo.changes"}}
	assert.Equal(t, `dput -c '/tmp/my config.cf' ppa-submit foo.changes`, c.String())
}
