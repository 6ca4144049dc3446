package export

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/elizor/elizor/internal/media"
)

// Transcoder joins clips, in the given order, into one mp4.
type Transcoder interface {
	Concat(ctx context.Context, inputs []Input, onProgress ProgressFunc) ([]byte, error)
}

const (
	concatListName = "concat_list.txt"
	outputName     = "output.mp4"
)

// FFmpegTranscoder concatenates with the ffmpeg concat demuxer and stream
// copy, so inputs must share codec parameters.
type FFmpegTranscoder struct {
	ffmpegPath string
	tempDir    string
	logger     *slog.Logger
}

func NewFFmpegTranscoder(ffmpegPath, tempDir string, logger *slog.Logger) *FFmpegTranscoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegTranscoder{ffmpegPath: ffmpegPath, tempDir: tempDir, logger: logger}
}

func (t *FFmpegTranscoder) Concat(ctx context.Context, inputs []Input, onProgress ProgressFunc) ([]byte, error) {
	report := func(p Progress) {
		if onProgress != nil {
			onProgress(p)
		}
	}
	fail := func(err error) ([]byte, error) {
		report(Progress{Phase: PhaseError, Message: err.Error()})
		return nil, err
	}
	cancelled := func() ([]byte, error) {
		report(Progress{Phase: PhaseCancelled, Message: "Export cancelled"})
		return nil, ErrCancelled
	}

	if len(inputs) == 0 {
		return fail(ErrNoInputs)
	}
	if ctx.Err() != nil {
		return cancelled()
	}

	report(Progress{Phase: PhaseLoading, Percent: 0, Message: "Loading FFmpeg..."})
	bin, err := exec.LookPath(t.ffmpegPath)
	if err != nil {
		return fail(fmt.Errorf("ffmpeg not available: %w", err))
	}
	report(Progress{Phase: PhaseLoading, Percent: 100, Message: "FFmpeg loaded"})

	workDir, err := os.MkdirTemp(t.tempDir, "elizor-export-*")
	if err != nil {
		return fail(fmt.Errorf("create work dir: %w", err))
	}
	defer os.RemoveAll(workDir)

	var list strings.Builder
	var total float64
	for i, in := range inputs {
		if ctx.Err() != nil {
			return cancelled()
		}
		name := fmt.Sprintf("input%d.mp4", i)
		report(Progress{
			Phase:       PhaseProcessing,
			Percent:     i * 30 / len(inputs),
			Message:     fmt.Sprintf("Loading clip %d of %d...", i+1, len(inputs)),
			CurrentFile: in.FileName,
		})
		if err := os.WriteFile(filepath.Join(workDir, name), in.Data, 0o600); err != nil {
			return fail(fmt.Errorf("write %s: %w", name, err))
		}
		fmt.Fprintf(&list, "file '%s'\n", name)
		total += in.Duration
	}

	listPath := filepath.Join(workDir, concatListName)
	if err := os.WriteFile(listPath, []byte(list.String()), 0o600); err != nil {
		return fail(fmt.Errorf("write concat list: %w", err))
	}
	report(Progress{Phase: PhaseProcessing, Percent: 30, Message: "Preparing concatenation..."})

	if ctx.Err() != nil {
		return cancelled()
	}

	report(Progress{Phase: PhaseProcessing, Percent: 40, Message: "Concatenating videos..."})
	outPath := filepath.Join(workDir, outputName)
	pw := newProgressWriter(total, report)
	res := media.Run(ctx, t.logger, bin, pw,
		"-hide_banner", "-nostats", "-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-movflags", "+faststart",
		"-progress", "pipe:1",
		outPath,
	)
	if ctx.Err() != nil {
		return cancelled()
	}
	if !res.IsSuccess() {
		return fail(fmt.Errorf("ffmpeg exited %d: %s", res.ExitCode, tail(res.StderrTail, 512)))
	}

	report(Progress{Phase: PhaseProcessing, Percent: 90, Message: "Finalizing..."})
	if ctx.Err() != nil {
		return cancelled()
	}
	data, err := os.ReadFile(outPath)
	if err != nil {
		return fail(fmt.Errorf("read output: %w", err))
	}

	t.logger.Info("concatenation complete",
		"clips", len(inputs),
		"size", humanize.Bytes(uint64(len(data))),
		"duration_ms", res.Duration.Milliseconds(),
	)
	report(Progress{Phase: PhaseComplete, Percent: 100, Message: "Export complete!"})
	return data, nil
}

func tail(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// progressWriter parses `-progress` key=value output and maps the encoded
// time onto the 40-90 band of the processing phase.
type progressWriter struct {
	total   float64
	report  ProgressFunc
	buf     bytes.Buffer
	percent int
}

func newProgressWriter(total float64, report ProgressFunc) *progressWriter {
	return &progressWriter{total: total, report: report, percent: 40}
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// keep the partial line for the next write
			rest := line
			w.buf.Reset()
			w.buf.WriteString(rest)
			break
		}
		w.handle(strings.TrimSpace(line))
	}
	return len(p), nil
}

func (w *progressWriter) handle(line string) {
	key, value, ok := strings.Cut(line, "=")
	if !ok || w.total <= 0 {
		return
	}
	// out_time_ms is microseconds as well, despite its name.
	if key != "out_time_us" && key != "out_time_ms" {
		return
	}
	us, err := strconv.ParseInt(value, 10, 64)
	if err != nil || us < 0 {
		return
	}
	frac := float64(us) / 1e6 / w.total
	if frac > 1 {
		frac = 1
	}
	pct := 40 + int(frac*50)
	if pct <= w.percent {
		return
	}
	w.percent = pct
	w.report(Progress{Phase: PhaseProcessing, Percent: pct, Message: "Concatenating videos..."})
}
