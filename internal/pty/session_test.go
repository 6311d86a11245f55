package pty

import (
	"strings"
	"testing"
	"time"

	"github.com/user/ptyhost/internal/codec"
)

// collectUntilEnd polls s.Read until the end marker, accumulating output.
// It fails the test if the session does not end within the deadline.
func collectUntilEnd(t *testing.T, s *Session) (string, int) {
	t.Helper()
	var output strings.Builder
	deadline := time.Now().Add(10 * time.Second)
	for {
		data, ended, exitCode, err := s.Read()
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		output.Write(data)
		if ended {
			return output.String(), exitCode
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for session end; output so far: %q", output.String())
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// TestSpawnAndOutput spawns "echo hello-pty" and verifies the output
// arrives before the end marker.
func TestSpawnAndOutput(t *testing.T) {
	s, err := Spawn(codec.CommandSpec{Cmd: "echo", Args: []string{"hello-pty"}})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer s.Close()

	output, exitCode := collectUntilEnd(t, s)
	if !strings.Contains(output, "hello-pty") {
		t.Errorf("expected output to contain %q, got %q", "hello-pty", output)
	}
	if exitCode != 0 {
		t.Errorf("exit code = %d, want 0", exitCode)
	}
}

// TestSpawnEmptyCommand expects an error before any process is started.
func TestSpawnEmptyCommand(t *testing.T) {
	if _, err := Spawn(codec.CommandSpec{}); err == nil {
		t.Fatal("expected error for empty command, got nil")
	}
}

// TestSpawnBadExecutable expects a creation failure for a nonexistent
// program.
func TestSpawnBadExecutable(t *testing.T) {
	if _, err := Spawn(codec.CommandSpec{Cmd: "/nonexistent/program"}); err == nil {
		t.Fatal("expected error for bad executable, got nil")
	}
}

// TestReadLatchesEnd: once Read has reported the end marker it keeps
// reporting it, preserving the exit code.
func TestReadLatchesEnd(t *testing.T) {
	s, err := Spawn(codec.CommandSpec{Cmd: "sh", Args: []string{"-c", "exit 3"}})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer s.Close()

	_, exitCode := collectUntilEnd(t, s)
	if exitCode != 3 {
		t.Errorf("exit code = %d, want 3", exitCode)
	}

	for i := 0; i < 3; i++ {
		data, ended, code, err := s.Read()
		if err != nil {
			t.Fatalf("post-end Read: %v", err)
		}
		if !ended || code != 3 || len(data) != 0 {
			t.Errorf("post-end Read = (%q, %v, %d), want (empty, true, 3)", data, ended, code)
		}
	}
}

// TestWriteAndClose spawns "cat", writes to it, and verifies that a second
// Close does not panic.
func TestWriteAndClose(t *testing.T) {
	s, err := Spawn(codec.CommandSpec{Cmd: "cat"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if err := s.Write([]byte("hello\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Logf("second Close returned: %v (expected nil)", err)
	}
}

// TestResizeAndSize verifies the default geometry and a resize round trip.
func TestResizeAndSize(t *testing.T) {
	s, err := Spawn(codec.CommandSpec{Cmd: "sleep", Args: []string{"10"}})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer s.Close()

	size, err := s.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size.Rows != 24 || size.Cols != 80 {
		t.Errorf("default size = %+v, want 24x80", size)
	}

	want := codec.Size{Rows: 50, Cols: 120}
	if err := s.Resize(want); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	size, err = s.Size()
	if err != nil {
		t.Fatalf("Size after resize: %v", err)
	}
	if size != want {
		t.Errorf("size = %+v, want %+v", size, want)
	}
}

// TestEnvAndCwd: overrides land in the child environment and the working
// directory is honored.
func TestEnvAndCwd(t *testing.T) {
	s, err := Spawn(codec.CommandSpec{
		Cmd:  "sh",
		Args: []string{"-c", "echo $PTYHOST_TEST_VAR; pwd"},
		Env:  map[string]string{"PTYHOST_TEST_VAR": "marker-value"},
		Cwd:  "/tmp",
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer s.Close()

	output, _ := collectUntilEnd(t, s)
	if !strings.Contains(output, "marker-value") {
		t.Errorf("output %q does not contain the env override", output)
	}
	if !strings.Contains(output, "/tmp") {
		t.Errorf("output %q does not reflect the working directory", output)
	}
}

// TestOperationsAfterClose: write and resize fail once the session is
// closed.
func TestOperationsAfterClose(t *testing.T) {
	s, err := Spawn(codec.CommandSpec{Cmd: "sleep", Args: []string{"10"}})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	s.Close()

	if err := s.Write([]byte("x")); err == nil {
		t.Error("Write after Close succeeded, want error")
	}
	if err := s.Resize(codec.Size{Rows: 1, Cols: 1}); err == nil {
		t.Error("Resize after Close succeeded, want error")
	}
}
