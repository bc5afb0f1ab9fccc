package marker

import (
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"
)

var (
	outlineColor   = color.RGBA{G: 255, A: 255}
	referenceColor = color.RGBA{R: 255, A: 255}
)

// Annotate returns a copy of img with the observed marker outlines, the reference point and the
// marker id drawn over it.
func Annotate(img image.Image, obs Observation) image.Image {
	dc := gg.NewContextForImage(img)
	dc.SetLineWidth(2)
	dc.SetColor(outlineColor)
	// corners come in groups of four, one group per marker
	for i := 0; i+3 < len(obs.Corners); i += 4 {
		dc.MoveTo(obs.Corners[i].X, obs.Corners[i].Y)
		for k := 1; k < 4; k++ {
			dc.LineTo(obs.Corners[i+k].X, obs.Corners[i+k].Y)
		}
		dc.ClosePath()
		dc.Stroke()
	}

	const arm = 6
	ref := obs.ImagePosition
	dc.SetColor(referenceColor)
	dc.DrawLine(ref.X-arm, ref.Y, ref.X+arm, ref.Y)
	dc.Stroke()
	dc.DrawLine(ref.X, ref.Y-arm, ref.X, ref.Y+arm)
	dc.Stroke()

	dc.SetFontFace(basicfont.Face7x13)
	dc.DrawString(fmt.Sprintf("id %d", obs.MarkerID), ref.X+arm+2, ref.Y-arm-2)
	return dc.Image()
}

// SaveAnnotated writes Annotate's output to path as a PNG.
func SaveAnnotated(path string, img image.Image, obs Observation) error {
	return gg.SavePNG(path, Annotate(img, obs))
}
