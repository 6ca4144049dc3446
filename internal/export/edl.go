package export

import (
	"fmt"
	"math"
	"strings"
)

const defaultFrameRate = 30.0

// GenerateEDL renders a CMX3600 edit decision list that lays the inputs end
// to end on the record side. Each source is used from its first frame for its
// full duration.
func GenerateEDL(inputs []Input, title string, frameRate float64) string {
	if frameRate <= 0 {
		frameRate = defaultFrameRate
	}
	fps := int(math.Round(frameRate))

	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	lines := []string{fmt.Sprintf("TITLE: %s", title)}
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	recordMs := 0
	for i, in := range inputs {
		durationMs := int(math.Round(in.Duration * 1000))
		name := SanitizeName(in.FileName, 160)
		if name == "" {
			name = fmt.Sprintf("clip_%03d", i+1)
		}

		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", i+1, "AX", "V",
				msToTimecode(0, fps), msToTimecode(durationMs, fps),
				msToTimecode(recordMs, fps), msToTimecode(recordMs+durationMs, fps)),
			fmt.Sprintf("* FROM CLIP NAME:  %s", name),
		)
		if in.ContentURL != "" {
			lines = append(lines, fmt.Sprintf("* MEDIA PATH:  %s", in.ContentURL))
		}

		recordMs += durationMs
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func msToTimecode(ms int, fps int) string {
	totalFrames := int(math.Round(float64(ms) * float64(fps) / 1000.0))
	frames := totalFrames % fps
	totalSeconds := totalFrames / fps
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frames)
}
