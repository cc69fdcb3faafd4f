package media

import (
	"context"
	"errors"
	"testing"
)

func TestProbeDurationParsesOutput(t *testing.T) {
	original := runProbe
	defer func() { runProbe = original }()
	runProbe = func(ctx context.Context, path string) ([]byte, error) {
		if path != "/tmp/input.mp4" {
			t.Fatalf("unexpected probe path %q", path)
		}
		return []byte("123.456\n"), nil
	}

	seconds, err := ProbeDuration(context.Background(), "/tmp/input.mp4")
	if err != nil {
		t.Fatalf("ProbeDuration returned error: %v", err)
	}
	if seconds != 123.456 {
		t.Fatalf("expected 123.456, got %v", seconds)
	}
}

func TestProbeDurationHandlesMissingDuration(t *testing.T) {
	original := runProbe
	defer func() { runProbe = original }()
	runProbe = func(ctx context.Context, path string) ([]byte, error) {
		return []byte("N/A\n"), nil
	}

	seconds, err := ProbeDuration(context.Background(), "/tmp/input.webm")
	if err != nil {
		t.Fatalf("ProbeDuration returned error: %v", err)
	}
	if seconds != 0 {
		t.Fatalf("expected 0 for unknown duration, got %v", seconds)
	}
}

func TestProbeDurationPropagatesFailure(t *testing.T) {
	original := runProbe
	defer func() { runProbe = original }()
	probeErr := errors.New("ffprobe missing")
	runProbe = func(ctx context.Context, path string) ([]byte, error) {
		return nil, probeErr
	}

	if _, err := ProbeDuration(context.Background(), "/tmp/input.mp4"); !errors.Is(err, probeErr) {
		t.Fatalf("expected probe error, got %v", err)
	}
}
