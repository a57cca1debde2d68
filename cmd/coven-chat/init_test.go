// ABOUTME: Tests for the interactive config generator
// ABOUTME: Answers the prompts from a string and loads the written file back

package main

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/config"
)

func TestRunInit_Bolt(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "conf", "config.yaml")
	dbPath := filepath.Join(dir, "data", "chat.bolt")

	answers := strings.Join([]string{
		configPath,       // config file path
		"127.0.0.1:9090", // http address
		"bolt",           // backend
		dbPath,           // bolt path
		"echo",           // provider
		"no",             // stream
		"debug",          // log level
		"json",           // log format
	}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, runInit(strings.NewReader(answers), &out))
	assert.Contains(t, out.String(), "Config written to "+configPath)

	info, err := os.Stat(configPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	_, err = os.Stat(filepath.Dir(dbPath))
	require.NoError(t, err, "data directory should be created")

	cfg, err := config.Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.HTTPAddr)
	assert.Equal(t, config.BackendBolt, cfg.Database.Backend)
	assert.Equal(t, dbPath, cfg.Database.Path)
	assert.Equal(t, config.ProviderEcho, cfg.Completion.Provider)
	assert.False(t, cfg.Completion.Stream)
	assert.NotEmpty(t, cfg.WebUI.SessionSecret)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestRunInit_OpenAI(t *testing.T) {
	t.Setenv("TEST_INIT_KEY", "sk-test")
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	answers := strings.Join([]string{
		configPath,
		"", // http address default
		"memory",
		"openai",
		"gpt-4o",
		"${TEST_INIT_KEY}",
		"http://localhost:11434/v1",
		"", // stream default yes
		"", // log level default
		"", // log format default
	}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, runInit(strings.NewReader(answers), &out))

	cfg, err := config.Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, config.BackendMemory, cfg.Database.Backend)
	assert.Equal(t, config.ProviderOpenAI, cfg.Completion.Provider)
	assert.Equal(t, "gpt-4o", cfg.Completion.Model)
	assert.Equal(t, "sk-test", cfg.Completion.APIKey)
	assert.Equal(t, "http://localhost:11434/v1", cfg.Completion.BaseURL)
	assert.True(t, cfg.Completion.Stream)
}

func TestRunInit_KeepsExistingFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("original"), 0600))

	var out bytes.Buffer
	require.NoError(t, runInit(strings.NewReader(configPath+"\nno\n"), &out))
	assert.Contains(t, out.String(), "Aborted.")

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

func TestRunInit_UnknownBackend(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	var out bytes.Buffer
	err := runInit(strings.NewReader(configPath+"\n\ncassandra\n"), &out)
	assert.Error(t, err)
}

func TestPrompt_DefaultOnEOF(t *testing.T) {
	var out bytes.Buffer
	got := prompt(bufio.NewReader(strings.NewReader("")), &out, "Question", "fallback")
	assert.Equal(t, "fallback", got)
}
