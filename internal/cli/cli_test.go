package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/jers/internal/config"
	"github.com/ChuLiYu/jers/internal/journal"
)

func TestBuildDaemonCLI(t *testing.T) {
	cmd := BuildDaemonCLI()

	assert.NotNil(t, cmd, "BuildDaemonCLI should return a non-nil command")
	assert.Equal(t, "jersd", cmd.Use)

	commands := cmd.Commands()
	require.Len(t, commands, 1, "jersd should have exactly one subcommand")
	assert.Equal(t, "run", commands[0].Use)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag, "should have --config flag")
	assert.Equal(t, "jersd.yaml", configFlag.DefValue)
}

func TestBuildClientCLI(t *testing.T) {
	cmd := BuildClientCLI()

	assert.NotNil(t, cmd, "BuildClientCLI should return a non-nil command")
	assert.Equal(t, "jersctl", cmd.Use)

	names := make(map[string]bool)
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"submit", "list", "hold", "release", "delete", "queues", "resources"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
}

func TestBuildRunCommand(t *testing.T) {
	cmd := buildRunCommand()
	assert.Equal(t, "run", cmd.Use)
	assert.Contains(t, cmd.Short, "controller")
	assert.NotNil(t, cmd.RunE)
}

func TestBuildSubmitCommandFlags(t *testing.T) {
	cmd := buildSubmitCommand()
	assert.Contains(t, cmd.Use, "submit")

	queueFlag := cmd.Flags().Lookup("queue")
	require.NotNil(t, queueFlag)

	priorityFlag := cmd.Flags().Lookup("priority")
	require.NotNil(t, priorityFlag)
	assert.Equal(t, "0", priorityFlag.DefValue)

	holdFlag := cmd.Flags().Lookup("hold")
	require.NotNil(t, holdFlag)
	assert.Equal(t, "false", holdFlag.DefValue)
}

func TestBuildListCommandHasQueueFilter(t *testing.T) {
	cmd := buildListCommand()
	assert.Equal(t, "list", cmd.Use)
	assert.NotNil(t, cmd.Flags().Lookup("queue"))
}

func TestJobMutationCommandsRequireExactlyOneArg(t *testing.T) {
	hold := buildHoldCommand()
	assert.Equal(t, "hold <jobid>", hold.Use)
	assert.Error(t, hold.Args(hold, nil))
	assert.Error(t, hold.Args(hold, []string{"1", "2"}))
	assert.NoError(t, hold.Args(hold, []string{"1"}))

	release := buildReleaseCommand()
	assert.Equal(t, "release <jobid>", release.Use)

	del := buildDeleteCommand()
	assert.Equal(t, "delete <jobid>", del.Use)
}

func TestSyncModeForRespectsFlushDefer(t *testing.T) {
	assert.Equal(t, journal.SyncImmediate, syncModeFor(config.Config{FlushDefer: false}))
	assert.Equal(t, journal.SyncDeferred, syncModeFor(config.Config{FlushDefer: true}))
}

func TestLoadAgentSecretHashesFileContents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(path, []byte("shared-secret"), 0o600))

	secret, err := loadAgentSecret(path)
	require.NoError(t, err)
	assert.Len(t, secret, 32, "sha256 digest is 32 bytes")

	secret2, err := loadAgentSecret(path)
	require.NoError(t, err)
	assert.Equal(t, secret, secret2, "hashing must be deterministic")
}

func TestLoadAgentSecretEmptyPathReturnsNil(t *testing.T) {
	secret, err := loadAgentSecret("")
	require.NoError(t, err)
	assert.Nil(t, secret)
}

func TestLoadAgentSecretMissingFileErrors(t *testing.T) {
	_, err := loadAgentSecret(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Error(t, err)
}

func TestNewUnixListenerRemovesStaleSocketAndBinds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctl.sock")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o644))

	lis, err := newUnixListener(path)
	require.NoError(t, err)
	defer lis.Close()

	assert.Equal(t, "unix", lis.Addr().Network())
}

func TestListenBindsBothSockets(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Config{
		ClientListenSocket: filepath.Join(dir, "client.sock"),
		AgentListenSocket:  filepath.Join(dir, "agent.sock"),
	}

	clientLis, agentLis, err := listen(cfg)
	require.NoError(t, err)
	defer clientLis.Close()
	defer agentLis.Close()

	assert.NotEqual(t, clientLis.Addr().String(), agentLis.Addr().String())
}
