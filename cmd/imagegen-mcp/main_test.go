package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("IMAGEGEN_MCP_OUTPUT_DIR", filepath.Join(t.TempDir(), "out"))
	t.Setenv("IMAGEGEN_MCP_LOG_LEVEL", "error")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out, "imagegen-mcp dev\n") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestToolsCmd(t *testing.T) {
	out, err := runCLI(t, "tools")
	if err != nil {
		t.Fatalf("tools failed: %v", err)
	}
	var tools []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(out), &tools); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if len(tools) != 4 || tools[0].Name != "generate_image" {
		t.Errorf("unexpected tools: %+v", tools)
	}
}

func TestCallCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pic.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, image.NewGray(image.Rect(0, 0, 12, 7))); err != nil {
		t.Fatal(err)
	}
	f.Close()

	args, _ := json.Marshal(map[string]any{"image_path": path})
	out, err := runCLI(t, "call", "get_image_info", "--args", string(args))
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}

	var info map[string]any
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if info["width"] != float64(12) || info["color_mode"] != "L" {
		t.Errorf("unexpected info: %v", info)
	}
}

func TestCallCmd_FailureExitsNonZero(t *testing.T) {
	out, err := runCLI(t, "call", "nope")

	var exitErr *exitError
	if !errors.As(err, &exitErr) || exitErr.Code != 1 {
		t.Fatalf("err = %v, want exit code 1", err)
	}
	if !strings.Contains(out, `"message": "unknown operation: nope"`) {
		t.Errorf("envelope not printed: %q", out)
	}
}

func TestGenerateCmd_RequiresPrompt(t *testing.T) {
	if _, err := runCLI(t, "generate"); err == nil {
		t.Fatal("expected error without --prompt")
	}
}

func TestGenerateCmd_MissingCredential(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	out, err := runCLI(t, "generate", "--prompt", "a fox")

	var exitErr *exitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("err = %v, want exitError", err)
	}
	if !strings.Contains(out, "OPENAI_API_KEY not found in environment variables") {
		t.Errorf("unexpected output %q", out)
	}
}
