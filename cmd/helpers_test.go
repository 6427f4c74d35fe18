package cmd

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/spf13/pflag"
)

func captureOutput(t testing.TB, fn func()) string {
	t.Helper()
	readPipe, writePipe, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	defer func() {
		_ = readPipe.Close()
	}()

	originalStdout := os.Stdout
	os.Stdout = writePipe
	defer func() {
		os.Stdout = originalStdout
	}()

	fn()

	if err := writePipe.Close(); err != nil {
		t.Fatalf("failed to close write pipe: %v", err)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, readPipe); err != nil {
		t.Fatalf("failed to read captured output: %v", err)
	}
	return buf.String()
}

// resetFlags restores every flag of fs to its default and clears Changed.
func resetFlags(t testing.TB, fs *pflag.FlagSet) {
	t.Helper()
	fs.VisitAll(func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})
}

// isolateEnv points the history database and working directory at a temp dir
// and clears variables a developer shell may have set.
func isolateEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("HOME", dir)
	t.Setenv("SWEEP_HISTORY_DB", "")
	t.Setenv("EXPORT_OPENSEARCH_ENDPOINT", "")
	t.Setenv("OTEL_ENABLED", "false")
	return dir
}
