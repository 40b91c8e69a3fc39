// Package whispercpp runs transcriptions through the whisper.cpp
// binary. The engine is an external native process; this package owns
// building the command line, parsing the JSON it emits and mapping its
// failure modes to stable error kinds.
package whispercpp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"whisper-api/internal/entity"
)

// Error kinds recorded on failed jobs. Stable strings: clients match on
// them.
const (
	KindFileNotFound  = "FileNotFound"
	KindModelNotFound = "ModelNotFound"
	KindDecodeError   = "DecodeError"
	KindNoOutput      = "NoOutput"
	KindTimeout       = "Timeout"
)

// EngineError is a terminal transcription failure. It is recorded on
// the job, never retried.
type EngineError struct {
	Kind    string
	Message string
}

func (e *EngineError) Error() string {
	return e.Kind + ": " + e.Message
}

// ModelResolver maps a model name to the model file path.
type ModelResolver interface {
	Resolve(name string) (string, error)
}

// Input identifies one unit of transcription work.
type Input struct {
	AudioPath string
	Model     string
	Language  string
}

// Engine shells out to the whisper.cpp main binary.
type Engine struct {
	binary  string
	models  ModelResolver
	threads int
	logger  *slog.Logger
}

func NewEngine(binary string, models ModelResolver, threads int, logger *slog.Logger) *Engine {
	if threads <= 0 {
		threads = 4
	}
	return &Engine{binary: binary, models: models, threads: threads, logger: logger}
}

// Transcribe runs the engine synchronously under ctx. progress, when
// non-nil, receives coarse best-effort percentages; the run may finish
// without ever calling it.
func (e *Engine) Transcribe(ctx context.Context, in Input, progress func(pct int)) (*entity.TranscriptionResult, error) {
	report := func(pct int) {
		if progress != nil {
			progress(pct)
		}
	}

	if _, err := os.Stat(in.AudioPath); err != nil {
		return nil, &EngineError{Kind: KindFileNotFound, Message: "audio file not found: " + in.AudioPath}
	}

	modelPath, err := e.models.Resolve(in.Model)
	if err != nil {
		return nil, &EngineError{Kind: KindModelNotFound, Message: err.Error()}
	}

	report(10)

	args := []string{"-m", modelPath, "-f", in.AudioPath}
	if in.Language != "" {
		args = append(args, "-l", in.Language)
	}
	args = append(args, "--output-json", "--threads", strconv.Itoa(e.threads))

	e.logger.Debug("running whisper.cpp", "binary", e.binary, "args", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, e.binary, args...)
	out, runErr := cmd.CombinedOutput()

	report(30)

	if runErr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &EngineError{Kind: KindTimeout, Message: "transcription timeout exceeded"}
		}
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = runErr.Error()
		}
		return nil, &EngineError{Kind: KindDecodeError, Message: "transcription failed: " + msg}
	}

	jsonPath := outputJSONPath(in.AudioPath)
	raw, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, &EngineError{Kind: KindNoOutput, Message: "no output generated from whisper"}
	}
	if err := os.Remove(jsonPath); err != nil {
		e.logger.Warn("failed to remove whisper output", "path", jsonPath, "error", err)
	}

	report(90)

	result, err := parseOutput(raw)
	if err != nil {
		return nil, &EngineError{Kind: KindNoOutput, Message: err.Error()}
	}
	return result, nil
}

// outputJSONPath mirrors whisper.cpp's default: the input path with its
// audio extension replaced by .json.
func outputJSONPath(audioPath string) string {
	return strings.TrimSuffix(audioPath, filepath.Ext(audioPath)) + ".json"
}

// whisperOutput tolerates both JSON shapes whisper.cpp has shipped:
// newer builds emit "transcription", older ones "result".
type whisperOutput struct {
	Transcription []whisperSegment `json:"transcription"`
	Result        []whisperSegment `json:"result"`
}

type whisperSegment struct {
	Offsets struct {
		From int64 `json:"from"` // milliseconds
		To   int64 `json:"to"`
	} `json:"offsets"`
	Text string `json:"text"`
}

func parseOutput(raw []byte) (*entity.TranscriptionResult, error) {
	var out whisperOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unreadable whisper output: %w", err)
	}

	src := out.Transcription
	if len(src) == 0 {
		src = out.Result
	}

	segments := make([]entity.Segment, 0, len(src))
	texts := make([]string, 0, len(src))
	for i, seg := range src {
		text := strings.TrimSpace(seg.Text)
		segments = append(segments, entity.Segment{
			Index:    i,
			StartSec: float64(seg.Offsets.From) / 1000.0,
			EndSec:   float64(seg.Offsets.To) / 1000.0,
			Text:     text,
		})
		if text != "" {
			texts = append(texts, text)
		}
	}

	return &entity.TranscriptionResult{
		Text:     strings.Join(texts, " "),
		Segments: segments,
	}, nil
}
