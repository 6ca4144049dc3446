package ui

import (
	"bytes"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

const iconSize = 32

var iconBytes = renderIcon()

// renderIcon draws a play triangle on a filled square and encodes it as PNG.
func renderIcon() []byte {
	bg := color.NRGBA{R: 0x23, G: 0x1f, B: 0x3a, A: 0xff}
	fg := color.NRGBA{R: 0xf5, G: 0x5d, B: 0x7c, A: 0xff}

	img := imaging.New(iconSize, iconSize, bg)
	drawPlay(img, fg)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil
	}
	return buf.Bytes()
}

func drawPlay(img *image.NRGBA, c color.NRGBA) {
	const (
		left   = 11
		right  = 24
		top    = 8
		bottom = 24
	)
	mid := float64(top+bottom) / 2
	half := float64(bottom-top) / 2
	for x := left; x <= right; x++ {
		// the triangle narrows linearly towards the tip
		span := half * float64(right-x) / float64(right-left)
		for y := top; y <= bottom; y++ {
			if d := float64(y) - mid; d >= -span && d <= span {
				img.SetNRGBA(x, y, c)
			}
		}
	}
}
