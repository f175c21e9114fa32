package inference

import (
	"context"
	"fmt"
	"os"
)

// MockEngine produces deterministic fake output for development and tests
// when no model-serving sidecar is configured.
type MockEngine struct{}

// NewMockEngine returns a mock engine.
func NewMockEngine() *MockEngine { return &MockEngine{} }

func (m *MockEngine) IsConfigured() bool { return false }

// Diarize fabricates two alternating speaker turns sized off the file length.
func (m *MockEngine) Diarize(ctx context.Context, audioPath string) ([]Turn, error) {
	info, err := os.Stat(audioPath)
	if err != nil {
		return nil, &Error{Kind: KindModelFailure, Msg: "cannot stat audio", Err: err}
	}
	// Rough duration guess: 16 kHz mono 16-bit is 32 kB/s.
	dur := float64(info.Size()) / 32000.0
	if dur < 2 {
		dur = 2
	}
	half := dur / 2
	return []Turn{
		{Start: 0, End: half, Speaker: "SPEAKER_00"},
		{Start: half, End: dur, Speaker: "SPEAKER_01"},
	}, nil
}

func (m *MockEngine) Transcribe(ctx context.Context, chunkPath, language string) (string, error) {
	return fmt.Sprintf("[mock transcript (%s)]", language), nil
}

func (m *MockEngine) Health(ctx context.Context) (Health, error) {
	return Health{GPUAvailable: false, GPUName: "N/A"}, nil
}
