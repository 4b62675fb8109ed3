package barcode

import (
	"image"
	"image/color"

	xdraw "golang.org/x/image/draw"
)

func toGray(src image.Image) *image.Gray {
	if g, ok := src.(*image.Gray); ok {
		return g
	}
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Set(x-b.Min.X, y-b.Min.Y, color.GrayModel.Convert(src.At(x, y)))
		}
	}
	return dst
}

// autocontrast stretches the histogram so the darkest pixel maps to 0 and
// the brightest to 255. A flat image is returned unchanged.
func autocontrast(src *image.Gray) *image.Gray {
	lo, hi := uint8(255), uint8(0)
	for _, v := range src.Pix {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi <= lo {
		return src
	}
	dst := image.NewGray(src.Bounds())
	span := int(hi - lo)
	for i, v := range src.Pix {
		dst.Pix[i] = uint8((int(v-lo)*255 + span/2) / span)
	}
	return dst
}

func upscale2x(src *image.Gray) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx()*2, b.Dy()*2))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, xdraw.Src, nil)
	return dst
}

func threshold(src *image.Gray, cut uint8) *image.Gray {
	dst := image.NewGray(src.Bounds())
	for i, v := range src.Pix {
		if v > cut {
			dst.Pix[i] = 255
		} else {
			dst.Pix[i] = 0
		}
	}
	return dst
}

func invert(src *image.Gray) *image.Gray {
	dst := image.NewGray(src.Bounds())
	for i, v := range src.Pix {
		dst.Pix[i] = 255 - v
	}
	return dst
}

// rotate returns the image rotated counter-clockwise by the given number
// of quarter turns.
func rotate(src *image.Gray, quarterTurns int) *image.Gray {
	quarterTurns = ((quarterTurns % 4) + 4) % 4
	if quarterTurns == 0 {
		return src
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	var dst *image.Gray
	if quarterTurns%2 == 0 {
		dst = image.NewGray(image.Rect(0, 0, w, h))
	} else {
		dst = image.NewGray(image.Rect(0, 0, h, w))
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := src.GrayAt(b.Min.X+x, b.Min.Y+y)
			switch quarterTurns {
			case 1:
				dst.SetGray(y, w-1-x, v)
			case 2:
				dst.SetGray(w-1-x, h-1-y, v)
			case 3:
				dst.SetGray(h-1-y, x, v)
			}
		}
	}
	return dst
}
