package whispercpp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOutput_TranscriptionShape(t *testing.T) {
	raw := []byte(`{
		"transcription": [
			{"offsets": {"from": 0, "to": 3200}, "text": " Hello there."},
			{"offsets": {"from": 3200, "to": 5100}, "text": " Bye."}
		]
	}`)

	res, err := parseOutput(raw)
	require.NoError(t, err)

	assert.Equal(t, "Hello there. Bye.", res.Text)
	require.Len(t, res.Segments, 2)
	assert.Equal(t, 0, res.Segments[0].Index)
	assert.InDelta(t, 0.0, res.Segments[0].StartSec, 1e-9)
	assert.InDelta(t, 3.2, res.Segments[0].EndSec, 1e-9)
	assert.Equal(t, "Hello there.", res.Segments[0].Text)
	assert.Equal(t, 1, res.Segments[1].Index)
	assert.InDelta(t, 5.1, res.Segments[1].EndSec, 1e-9)
}

func TestParseOutput_LegacyResultShape(t *testing.T) {
	raw := []byte(`{"result": [{"offsets": {"from": 500, "to": 900}, "text": "hi"}]}`)

	res, err := parseOutput(raw)
	require.NoError(t, err)
	assert.Equal(t, "hi", res.Text)
	require.Len(t, res.Segments, 1)
	assert.InDelta(t, 0.5, res.Segments[0].StartSec, 1e-9)
}

func TestParseOutput_Garbage(t *testing.T) {
	_, err := parseOutput([]byte("not json"))
	assert.Error(t, err)
}

func TestOutputJSONPath(t *testing.T) {
	assert.Equal(t, "/tmp/a.json", outputJSONPath("/tmp/a.wav"))
	assert.Equal(t, "/tmp/b.speech.json", outputJSONPath("/tmp/b.speech.mp3"))
}

type staticResolver map[string]string

func (r staticResolver) Resolve(name string) (string, error) {
	if p, ok := r[name]; ok {
		return p, nil
	}
	return "", errors.New("model not found")
}

func testEngine(models staticResolver) *Engine {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine("/nonexistent/whisper-main", models, 2, log)
}

func TestTranscribe_MissingAudioIsFileNotFound(t *testing.T) {
	e := testEngine(staticResolver{"base.en": "/models/ggml-base.en.bin"})

	_, err := e.Transcribe(context.Background(), Input{AudioPath: "/missing.wav", Model: "base.en"}, nil)

	var ee *EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, KindFileNotFound, ee.Kind)
}

func TestTranscribe_UnknownModelIsModelNotFound(t *testing.T) {
	audio := filepath.Join(t.TempDir(), "a.wav")
	require.NoError(t, os.WriteFile(audio, []byte("RIFF"), 0o644))

	e := testEngine(staticResolver{})

	_, err := e.Transcribe(context.Background(), Input{AudioPath: audio, Model: "base.en"}, nil)

	var ee *EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, KindModelNotFound, ee.Kind)
}

func TestTranscribe_BinaryFailureIsDecodeError(t *testing.T) {
	audio := filepath.Join(t.TempDir(), "a.wav")
	require.NoError(t, os.WriteFile(audio, []byte("RIFF"), 0o644))

	e := testEngine(staticResolver{"base.en": "/models/ggml-base.en.bin"})

	_, err := e.Transcribe(context.Background(), Input{AudioPath: audio, Model: "base.en"}, nil)

	var ee *EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, KindDecodeError, ee.Kind)
}
