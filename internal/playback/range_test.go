package playback

import (
	"errors"
	"testing"
)

func TestParseRange(t *testing.T) {
	const clip = 1000
	tests := []struct {
		header string
		size   int64
		want   *Range
		err    error
	}{
		{header: "", size: clip},
		{header: "bytes=0-999", size: clip, want: &Range{0, 999}},
		{header: "bytes=500-", size: clip, want: &Range{500, 999}},
		{header: "bytes=-500", size: clip, want: &Range{500, 999}},
		{header: "bytes=0-0", size: clip, want: &Range{0, 0}},
		{header: "bytes=100-199", size: clip, want: &Range{100, 199}},
		{header: "bytes=0-2000", size: clip, want: &Range{0, 999}},
		{header: "bytes=-2000", size: 500, want: &Range{0, 499}},
		{header: "bytes=999-", size: clip, want: &Range{999, 999}},
		// only the first of several ranges is honoured
		{header: "bytes=0-99, 200-299", size: clip, want: &Range{0, 99}},

		{header: "bytes=1000-", size: clip, err: ErrUnsatisfiable},
		{header: "bytes=1500-2000", size: clip, err: ErrUnsatisfiable},
		{header: "bytes=0-", size: 0, err: ErrUnsatisfiable},

		{header: "invalid", size: clip, err: ErrInvalidRange},
		{header: "chars=0-100", size: clip, err: ErrInvalidRange},
		{header: "bytes=abc-100", size: clip, err: ErrInvalidRange},
		{header: "bytes=0-abc", size: clip, err: ErrInvalidRange},
		{header: "bytes=-0", size: clip, err: ErrInvalidRange},
		{header: "bytes=1-2-3", size: clip, err: ErrInvalidRange},
		{header: "bytes=-5-10", size: clip, err: ErrInvalidRange},
	}

	for _, tt := range tests {
		got, err := ParseRange(tt.header, tt.size)
		if tt.err != nil {
			if !errors.Is(err, tt.err) {
				t.Errorf("ParseRange(%q, %d) error = %v, want %v", tt.header, tt.size, err, tt.err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRange(%q, %d) unexpected error: %v", tt.header, tt.size, err)
			continue
		}
		switch {
		case tt.want == nil && got != nil:
			t.Errorf("ParseRange(%q) = %+v, want no range", tt.header, *got)
		case tt.want != nil && got == nil:
			t.Errorf("ParseRange(%q) = nil, want %+v", tt.header, *tt.want)
		case tt.want != nil && *got != *tt.want:
			t.Errorf("ParseRange(%q) = %+v, want %+v", tt.header, *got, *tt.want)
		}
	}
}

func TestRange_Headers(t *testing.T) {
	tests := []struct {
		r      Range
		total  int64
		length int64
		header string
	}{
		{Range{0, 99}, 1000, 100, "bytes 0-99/1000"},
		{Range{0, 0}, 1, 1, "bytes 0-0/1"},
		{Range{500, 999}, 1000, 500, "bytes 500-999/1000"},
	}

	for _, tt := range tests {
		if got := tt.r.ContentLength(); got != tt.length {
			t.Errorf("%+v ContentLength() = %d, want %d", tt.r, got, tt.length)
		}
		if got := tt.r.ContentRange(tt.total); got != tt.header {
			t.Errorf("%+v ContentRange(%d) = %q, want %q", tt.r, tt.total, got, tt.header)
		}
	}
}
