package commands

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/petclassify/internal/auth"
)

func writePNG(t *testing.T, dir, name string, width, height int, c color.NRGBA) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("failed to write png: %v", err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestClassifyPrintsInInputOrder(t *testing.T) {
	dir := t.TempDir()
	white := writePNG(t, dir, "white.png", 8, 8, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	wide := writePNG(t, dir, "wide.png", 30, 10, color.NRGBA{R: 140, G: 90, B: 40, A: 255})

	out, err := run(t, "classify", "--seed", "7", "-c", "2", white, wide)
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", out)
	}
	if !strings.HasPrefix(lines[0], white+": ") || !strings.HasPrefix(lines[1], wide+": ") {
		t.Fatalf("output not in input order: %q", out)
	}
}

func TestClassifyJSON(t *testing.T) {
	dir := t.TempDir()
	white := writePNG(t, dir, "white.png", 8, 8, color.NRGBA{R: 255, G: 255, B: 255, A: 255})

	out, err := run(t, "classify", "--json", white)
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}

	var outcomes []classifyOutcome
	if err := json.Unmarshal([]byte(out), &outcomes); err != nil {
		t.Fatalf("invalid json %q: %v", out, err)
	}
	if len(outcomes) != 1 || outcomes[0].Result == nil {
		t.Fatalf("unexpected outcomes: %+v", outcomes)
	}
	r := outcomes[0].Result
	if r.Confidence < 0.65 || r.Confidence > 0.95 {
		t.Fatalf("confidence out of range: %f", r.Confidence)
	}
	if r.Features == nil || r.Features.AspectRatio != 1 {
		t.Fatalf("expected features in output, got %+v", r.Features)
	}
}

func TestClassifyReportsFailures(t *testing.T) {
	dir := t.TempDir()
	white := writePNG(t, dir, "white.png", 4, 4, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	missing := filepath.Join(dir, "missing.png")

	out, err := run(t, "classify", white, missing)
	if err == nil {
		t.Fatal("expected error when an image fails")
	}
	if !strings.Contains(out, missing+": error:") {
		t.Fatalf("expected failure line, got %q", out)
	}
	if !strings.Contains(out, white+": ") {
		t.Fatalf("expected the good image to be classified, got %q", out)
	}
}

func TestClassifyFallback(t *testing.T) {
	dir := t.TempDir()
	junk := filepath.Join(dir, "junk.png")
	if err := os.WriteFile(junk, []byte("not an image"), 0o600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	out, err := run(t, "classify", "--fallback", "--seed", "1", junk)
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}
	if !strings.Contains(out, "[fallback]") {
		t.Fatalf("expected fallback marker, got %q", out)
	}
}

func TestFeaturesCommand(t *testing.T) {
	dir := t.TempDir()
	white := writePNG(t, dir, "white.png", 20, 10, color.NRGBA{R: 255, G: 255, B: 255, A: 255})

	out, err := run(t, "features", white)
	if err != nil {
		t.Fatalf("features failed: %v", err)
	}
	for _, want := range []string{"aspect ratio:    2.000", "brightness:      255.0", "contrast:        0.0", "dominant colors: white"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %q", want, out)
		}
	}
}

func TestTokenCommand(t *testing.T) {
	out, err := run(t, "token", "--subject", "cli-user", "--secret", "s3cret")
	if err != nil {
		t.Fatalf("token failed: %v", err)
	}
	subject, err := auth.NewValidator("s3cret", "").Subject(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("issued token does not validate: %v", err)
	}
	if subject != "cli-user" {
		t.Fatalf("expected cli-user, got %q", subject)
	}
}
