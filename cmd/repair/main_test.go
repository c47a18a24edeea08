package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeInput(t *testing.T, data []byte) (string, string) {
	t.Helper()
	dir := t.TempDir()
	in := filepath.Join(dir, "input")
	if err := os.WriteFile(in, data, 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return dir, in
}

func TestCompressExpandRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("the cat sat on the mat, "), 200)
	for _, archive := range []bool{false, true} {
		dir, in := writeInput(t, data)
		packed := filepath.Join(dir, "packed")
		back := filepath.Join(dir, "back")

		var stdout bytes.Buffer
		compress := []string{"-c", "-m", "word", in, packed}
		expand := []string{"-e", packed, back}
		if archive {
			compress = append([]string{"-a"}, compress...)
			expand = append([]string{"-a"}, expand...)
		}

		if code := run(compress, &stdout); code != 0 {
			t.Fatalf("compress (archive=%v) exited %d: %s", archive, code, stdout.String())
		}
		if code := run(expand, &stdout); code != 0 {
			t.Fatalf("expand (archive=%v) exited %d: %s", archive, code, stdout.String())
		}
		got, err := os.ReadFile(back)
		if err != nil {
			t.Fatalf("read output: %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("round trip mismatch (archive=%v)", archive)
		}
	}
}

func TestListSymbols(t *testing.T) {
	dir, in := writeInput(t, []byte("abcabcabcabc xyxyxyxy"))
	var stdout bytes.Buffer
	if code := run([]string{"-c", "-s", in, filepath.Join(dir, "out")}, &stdout); code != 0 {
		t.Fatalf("exited %d: %s", code, stdout.String())
	}
	out := stdout.String()
	for _, want := range []string{"SYMBOLS", "code=61", "entropy="} {
		if !strings.Contains(out, want) {
			t.Errorf("listing lacks %q:\n%s", want, out)
		}
	}
}

func TestFrameTooShortFails(t *testing.T) {
	dir, in := writeInput(t, []byte("ab"))
	var stdout bytes.Buffer
	if code := run([]string{"-c", in, filepath.Join(dir, "out")}, &stdout); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
}

func TestUsageErrors(t *testing.T) {
	tests := [][]string{
		{},
		{"-c", "-e", "a", "b"},
		{"-c", "a"},
		{"-e", "a", "b", "c"},
		{"-c", "-m", "zip", "a", "b"},
		{"-x", "a", "b"},
		{"-e", "-s", "a", "b"},
		{"-c", "-a", "-s", "a", "b"},
	}
	for _, args := range tests {
		var stdout bytes.Buffer
		if code := run(args, &stdout); code != 1 {
			t.Errorf("run(%q) exited %d, want 1", args, code)
		}
		if !strings.Contains(stdout.String(), "usage: repair") {
			t.Errorf("run(%q) printed no usage", args)
		}
	}
}

func TestMissingInputFails(t *testing.T) {
	dir := t.TempDir()
	var stdout bytes.Buffer
	if code := run([]string{"-e", filepath.Join(dir, "nope"), filepath.Join(dir, "out")}, &stdout); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
}

func TestStoreReportsOpenError(t *testing.T) {
	dir := t.TempDir()
	if err := store(filepath.Join(dir, "missing", "out"), []byte("x")); err == nil {
		t.Fatal("expected error for missing directory")
	}
	path := filepath.Join(dir, "out")
	if err := store(path, []byte("hello")); err != nil {
		t.Fatalf("store failed: %v", err)
	}
	got, err := load(path)
	if err != nil || string(got) != "hello" {
		t.Fatalf("load = %q, %v", got, err)
	}
}
