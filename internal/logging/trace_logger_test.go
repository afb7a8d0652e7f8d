// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Viewer License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package logging

import (
	"os"
	"strings"
	"testing"
)

func TestNewTraceLogger_NoTraceDir(t *testing.T) {
	base, baseCloser := NewLogger("info", "json", "")
	defer baseCloser.Close()

	logger, closer, path, err := NewTraceLogger(base, "", "qemu-host", "conn-1")
	if err != nil {
		t.Fatalf("NewTraceLogger: %v", err)
	}
	defer closer.Close()

	if logger != base {
		t.Error("expected base logger back when trace dir is empty")
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
}

func TestNewTraceLogger_WritesBothOutputs(t *testing.T) {
	dir := t.TempDir()
	base, baseCloser := NewLogger("info", "json", "")
	defer baseCloser.Close()

	logger, closer, path, err := NewTraceLogger(base, dir, "qemu-host", "conn-1")
	if err != nil {
		t.Fatalf("NewTraceLogger: %v", err)
	}

	logger.Info("channel up", "channel", "main:0")
	// DEBUG deve ir para o arquivo mesmo com o base em INFO.
	logger.Debug("frame", "serial", 1)
	closer.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading trace file: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "channel up") {
		t.Errorf("expected trace file to contain info record, got: %s", content)
	}
	if !strings.Contains(content, "frame") {
		t.Errorf("expected trace file to capture debug record, got: %s", content)
	}
}

func TestNewTraceLogger_PreservesAttrs(t *testing.T) {
	dir := t.TempDir()
	base, baseCloser := NewLogger("error", "json", "")
	defer baseCloser.Close()

	logger, closer, path, err := NewTraceLogger(base, dir, "qemu-host", "conn-2")
	if err != nil {
		t.Fatalf("NewTraceLogger: %v", err)
	}

	logger.With("component", "channel").Info("opened")
	closer.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading trace file: %v", err)
	}
	if !strings.Contains(string(data), "component") {
		t.Errorf("expected attrs preserved through fan-out, got: %s", data)
	}
}
