package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), &out, &out, []string{"version"})
	if err != nil {
		t.Fatalf("run(version) error = %v", err)
	}
	if !strings.Contains(out.String(), "Arbiter") {
		t.Errorf("version output missing product name:\n%s", out.String())
	}
}

func TestRun_VersionJSON(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), &out, &out, []string{"-o", "json", "version"})
	if err != nil {
		t.Fatalf("run(-o json version) error = %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("version JSON did not parse: %v\n%s", err, out.String())
	}
	if info["version"] == "" {
		t.Error("version field missing from JSON output")
	}
}

func TestRun_NoCommandPrintsUsage(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), &out, &out, nil)
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if !strings.Contains(out.String(), "Usage:") {
		t.Errorf("expected usage text, got:\n%s", out.String())
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), &out, &out, []string{"bogus"})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("expected unknown command error, got %v", err)
	}
}

func TestRun_UnknownFlag(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), &out, &out, []string{"-frobnicate"})
	if err == nil || !strings.Contains(err.Error(), "unknown flag") {
		t.Errorf("expected unknown flag error, got %v", err)
	}
}

func TestRun_BadOutputFormat(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), &out, &out, []string{"-o", "yaml", "version"})
	if err == nil || !strings.Contains(err.Error(), "output format") {
		t.Errorf("expected output format error, got %v", err)
	}
}
