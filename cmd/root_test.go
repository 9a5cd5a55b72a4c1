package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"resolve", "batch", "cache", "catalog", "migrate", "serve"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "boq-resolver", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestResolveCommand_Flags(t *testing.T) {
	for _, name := range []string{"context", "no-escalation", "json"} {
		assert.NotNil(t, resolveCmd.Flags().Lookup(name), "resolve should have --%s flag", name)
	}
}

func TestBatchCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range batchCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"create", "start", "resume", "pause", "status", "results", "retry", "list"} {
		assert.True(t, names[name], "batch should have subcommand %q", name)
	}
}

func TestBatchCreateCommand_Flags(t *testing.T) {
	flag := batchCreateCmd.Flags().Lookup("skip-rows")
	require.NotNil(t, flag)
	assert.Equal(t, "1", flag.DefValue)

	for _, name := range []string{"file", "column", "concurrency", "max-candidates", "no-escalation", "start", "context"} {
		assert.NotNil(t, batchCreateCmd.Flags().Lookup(name), "batch create should have --%s flag", name)
	}
}

func TestBatchListCommand_Flags(t *testing.T) {
	flag := batchListCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "20", flag.DefValue)
}

func TestCacheCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range cacheCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"cleanup", "validate", "list"} {
		assert.True(t, names[name], "cache should have subcommand %q", name)
	}
}

func TestCacheCleanupCommand_Flags(t *testing.T) {
	for _, name := range []string{"min-confidence", "min-usage", "inclusive"} {
		assert.NotNil(t, cacheCleanupCmd.Flags().Lookup(name), "cache cleanup should have --%s flag", name)
	}
}

func TestCacheListCommand_Flags(t *testing.T) {
	flag := cacheListCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "50", flag.DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}
