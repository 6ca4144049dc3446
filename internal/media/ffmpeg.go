package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
)

const (
	lastFrameOffset  = 0.1 // seconds before the end, avoids a black final frame
	lastFrameQuality = 80
	thumbnailOffset  = 1.0
	thumbnailWidth   = 320
	thumbnailQuality = 70
)

type Config struct {
	FFmpegPath    string
	FFprobePath   string
	TempDir       string // empty = os.TempDir()
	DoctorTimeout time.Duration
	Logger        *slog.Logger
}

// FFmpeg is the production Extractor. Clip bytes are spooled to a temp file
// because mp4 indexes are often at the end of the stream.
type FFmpeg struct {
	cfg Config
}

func NewFFmpeg(cfg Config) *FFmpeg {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.DoctorTimeout <= 0 {
		cfg.DoctorTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &FFmpeg{cfg: cfg}
}

func (f *FFmpeg) FFmpegPath() string {
	return f.cfg.FFmpegPath
}

func (f *FFmpeg) Logger() *slog.Logger {
	return f.cfg.Logger
}

func (f *FFmpeg) Duration(ctx context.Context, data []byte) (float64, error) {
	path, cleanup, err := f.spool(data)
	if err != nil {
		return 0, err
	}
	defer cleanup()
	return f.probeDuration(ctx, path)
}

// LastFrame grabs the frame just before the end of the clip.
func (f *FFmpeg) LastFrame(ctx context.Context, data []byte) (string, error) {
	path, cleanup, err := f.spool(data)
	if err != nil {
		return "", err
	}
	defer cleanup()

	d, err := f.probeDuration(ctx, path)
	if err != nil {
		return "", err
	}
	img, err := f.frameAt(ctx, path, LastFrameTime(d))
	if err != nil {
		return "", err
	}
	return EncodeDataURL(img, lastFrameQuality)
}

// Thumbnail grabs an early frame scaled down for listings.
func (f *FFmpeg) Thumbnail(ctx context.Context, data []byte) (string, error) {
	path, cleanup, err := f.spool(data)
	if err != nil {
		return "", err
	}
	defer cleanup()

	d, err := f.probeDuration(ctx, path)
	if err != nil {
		return "", err
	}
	img, err := f.frameAt(ctx, path, ThumbnailTime(d))
	if err != nil {
		return "", err
	}
	if img.Bounds().Dx() > thumbnailWidth {
		img = imaging.Resize(img, thumbnailWidth, 0, imaging.Lanczos)
	}
	return EncodeDataURL(img, thumbnailQuality)
}

// LastFrameTime is the seek position of the continuity still.
func LastFrameTime(duration float64) float64 {
	if t := duration - lastFrameOffset; t > 0 {
		return t
	}
	return 0
}

// ThumbnailTime is one second in, or a tenth of the clip when shorter.
func ThumbnailTime(duration float64) float64 {
	if t := duration * 0.1; t < thumbnailOffset {
		return t
	}
	return thumbnailOffset
}

// EncodeDataURL encodes img as a JPEG data URL.
func EncodeDataURL(img image.Image, quality int) (string, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return "", fmt.Errorf("encode jpeg: %w", err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func (f *FFmpeg) spool(data []byte) (string, func(), error) {
	if len(data) == 0 {
		return "", nil, fmt.Errorf("empty clip data")
	}
	tmp, err := os.CreateTemp(f.cfg.TempDir, "elizor-clip-*")
	if err != nil {
		return "", nil, fmt.Errorf("create temp clip: %w", err)
	}
	cleanup := func() { os.Remove(tmp.Name()) }
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return "", nil, fmt.Errorf("write temp clip: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("close temp clip: %w", err)
	}
	return tmp.Name(), cleanup, nil
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (f *FFmpeg) probeDuration(ctx context.Context, path string) (float64, error) {
	var out bytes.Buffer
	res := Run(ctx, f.cfg.Logger, f.cfg.FFprobePath, &out,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	)
	if !res.IsSuccess() {
		return 0, fmt.Errorf("ffprobe exited %d: %s", res.ExitCode, truncate(res.StderrTail, 512))
	}
	return ParseProbeDuration(out.Bytes())
}

// ParseProbeDuration reads format.duration from ffprobe JSON output.
func ParseProbeDuration(data []byte) (float64, error) {
	var p probeOutput
	if err := json.Unmarshal(data, &p); err != nil {
		return 0, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if p.Format.Duration == "" || p.Format.Duration == "N/A" {
		return 0, fmt.Errorf("ffprobe reported no duration")
	}
	d, err := strconv.ParseFloat(p.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", p.Format.Duration, err)
	}
	return d, nil
}

func (f *FFmpeg) frameAt(ctx context.Context, path string, at float64) (image.Image, error) {
	var out bytes.Buffer
	res := Run(ctx, f.cfg.Logger, f.cfg.FFmpegPath, &out,
		"-v", "error",
		"-ss", strconv.FormatFloat(at, 'f', 3, 64),
		"-i", path,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"pipe:1",
	)
	if !res.IsSuccess() {
		return nil, fmt.Errorf("ffmpeg exited %d: %s", res.ExitCode, truncate(res.StderrTail, 512))
	}
	if out.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg produced no frame at %.3fs", at)
	}
	img, err := imaging.Decode(&out)
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}

// Probe checks that ffmpeg and ffprobe can be executed.
func (f *FFmpeg) Probe(ctx context.Context) (*Capabilities, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.DoctorTimeout)
	defer cancel()

	caps := &Capabilities{
		FFmpeg:   f.probeTool(ctx, f.cfg.FFmpegPath),
		FFprobe:  f.probeTool(ctx, f.cfg.FFprobePath),
		ProbedAt: time.Now(),
	}

	f.cfg.Logger.Info("media probe complete",
		"ffmpeg", caps.FFmpeg.Available,
		"ffprobe", caps.FFprobe.Available,
	)
	return caps, nil
}

func (f *FFmpeg) probeTool(ctx context.Context, bin string) ToolInfo {
	path, err := exec.LookPath(bin)
	if err != nil {
		return ToolInfo{Error: err.Error()}
	}
	var out bytes.Buffer
	res := Run(ctx, f.cfg.Logger, path, &out, "-hide_banner", "-version")
	if !res.IsSuccess() {
		return ToolInfo{Path: path, Error: truncate(res.StderrTail, 256)}
	}
	return ToolInfo{Available: true, Path: path, Version: ParseVersion(out.String())}
}

// ParseVersion extracts the version token from `<tool> -version` output.
func ParseVersion(output string) string {
	line, _, _ := strings.Cut(output, "\n")
	fields := strings.Fields(line)
	for i, f := range fields {
		if f == "version" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return ""
}
