package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupFileAndConsole(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "transformix.log")
	var console bytes.Buffer

	logger, closer, err := Setup(Options{
		App:       "test",
		LogFile:   logFile,
		ToFile:    true,
		ToConsole: true,
		Console:   &console,
	})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	logger.Info().Msg("hello landmarks")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "hello landmarks") {
		t.Errorf("Log file missing message: %s", data)
	}
	if !strings.Contains(console.String(), "hello landmarks") {
		t.Errorf("Console missing message: %s", console.String())
	}
}

func TestSetupDisabled(t *testing.T) {
	logger, closer, err := Setup(Options{})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	defer closer.Close()
	// must not panic
	logger.Info().Msg("discarded")
}

func TestSetupFileWithoutName(t *testing.T) {
	if _, _, err := Setup(Options{ToFile: true}); err == nil {
		t.Error("Expected error for missing log file name")
	}
}
