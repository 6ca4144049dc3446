package media

import (
	"context"
	"log/slog"
)

// StubExtractor stands in when ffmpeg is unavailable: no stills, unknown
// duration.
type StubExtractor struct {
	logger *slog.Logger
}

func NewStubExtractor(logger *slog.Logger) *StubExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubExtractor{logger: logger}
}

func (s *StubExtractor) LastFrame(ctx context.Context, data []byte) (string, error) {
	s.logger.Info("media stub: last frame requested", "bytes", len(data))
	return "", nil
}

func (s *StubExtractor) Thumbnail(ctx context.Context, data []byte) (string, error) {
	s.logger.Info("media stub: thumbnail requested", "bytes", len(data))
	return "", nil
}

func (s *StubExtractor) Duration(ctx context.Context, data []byte) (float64, error) {
	s.logger.Info("media stub: duration requested", "bytes", len(data))
	return 0, nil
}
