package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestGetEnvWithDefault(t *testing.T) {
	t.Setenv("FOO", "")
	if got := GetEnv("FOO", "bar"); got != "bar" {
		t.Fatalf("expected bar, got %s", got)
	}
	t.Setenv("FOO", "baz")
	if got := GetEnv("FOO", "bar"); got != "baz" {
		t.Fatalf("expected baz, got %s", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		value string
		def   int
		want  int
	}{
		{"", 42, 42},
		{"100", 42, 100},
		{"notint", 7, 7},
		{"-3", 42, -3},
	}
	for _, tt := range tests {
		t.Setenv("NUM", tt.value)
		if got := GetEnvInt("NUM", tt.def); got != tt.want {
			t.Fatalf("GetEnvInt(%q, %d) = %d, want %d", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"false", true, false},
		{"1", false, true},
		{"maybe", false, false},
	}
	for _, tt := range tests {
		t.Setenv("FLAG", tt.value)
		if got := GetEnvBool("FLAG", tt.def); got != tt.want {
			t.Fatalf("GetEnvBool(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestGetLogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	if GetLogLevel() != logrus.DebugLevel {
		t.Fatalf("expected debug level")
	}
	t.Setenv("LOG_LEVEL", "warning")
	if GetLogLevel() != logrus.WarnLevel {
		t.Fatalf("expected warn level")
	}
	t.Setenv("LOG_LEVEL", "")
	if GetLogLevel() != logrus.InfoLevel {
		t.Fatalf("expected info level by default")
	}
	t.Setenv("LOG_LEVEL", "gibberish")
	if GetLogLevel() != logrus.InfoLevel {
		t.Fatalf("expected info level on parse error")
	}
}

// chdir enters dir for the duration of the test and restores the previous
// working directory on cleanup; testing.T.Chdir requires go >= 1.24 and the
// build toolchain here is older.
func chdir(t *testing.T, dir string) {
	t.Helper()
	oldwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(oldwd) })
}

func TestLoadEnvOverloadsFromLocalFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("DRAGNET_TEST_KEY=from-env\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env.dev"), []byte("DRAGNET_TEST_KEY=from-dev\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DRAGNET_TEST_KEY", "")
	chdir(t, dir)

	LoadEnv(logrus.New())

	if got := os.Getenv("DRAGNET_TEST_KEY"); got != "from-dev" {
		t.Fatalf("expected the later file to win, got %q", got)
	}
}

func TestLoadEnvWithoutFiles(t *testing.T) {
	chdir(t, t.TempDir())
	LoadEnv(logrus.New())
}
