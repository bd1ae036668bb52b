package main

import (
	"bytes"
	"os"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func runIn(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Usage(t *testing.T) {
	code, _, stderr := runIn(t)
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "Commands:")

	code, _, stderr = runIn(t, "bridge")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, `unknown command "bridge"`)

	code, _, _ = runIn(t, "--help")
	assert.Equal(t, exitOK, code)
}

func TestRun_MalformedHashFailsBeforeAnyCall(t *testing.T) {
	t.Setenv("IRIS_BASE_URL", "http://127.0.0.1:1")

	code, stdout, _ := runIn(t, "attest", "--tx", "0x1234")
	assert.Equal(t, exitFailure, code)
	assert.Empty(t, stdout)

	code, _, _ = runIn(t, "resume")
	assert.Equal(t, exitUsage, code)
}

func TestRun_InvalidMode(t *testing.T) {
	code, _, stderr := runIn(t, "--mode", "bridge", "serve")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr, "relay mode")
}
