package media

import (
	"bytes"
	"image"
	"image/color"
	"sync"

	"github.com/disintegration/imaging"
)

var (
	sampleOnce sync.Once
	sampleJPEG []byte
)

// SampleImage returns the bundled JPEG used for live credential checks.
func SampleImage() []byte {
	sampleOnce.Do(func() {
		const w, h = 320, 240
		img := image.NewNRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := color.NRGBA{R: 70, G: 130, B: 180, A: 255}
				if y > h*2/3 {
					c = color.NRGBA{R: 34, G: 139, B: 34, A: 255}
				}
				if dx, dy := x-240, y-60; dx*dx+dy*dy < 900 {
					c = color.NRGBA{R: 255, G: 215, B: 0, A: 255}
				}
				img.SetNRGBA(x, y, c)
			}
		}
		var buf bytes.Buffer
		_ = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90))
		sampleJPEG = buf.Bytes()
	})
	return sampleJPEG
}
