// Package qr renders form share QR images. Rendering walks an ordered
// backend chain and always produces a response: primary encoder, then a
// secondary encoder, then a blank placeholder PNG that callers must serve
// uncached.
package qr

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"

	"github.com/boombuler/barcode"
	bqr "github.com/boombuler/barcode/qr"
	"github.com/rs/zerolog"
	qrgen "github.com/skip2/go-qrcode"
)

const renderSize = 320

// defaultFontCandidates mirrors the common distro font locations tried
// for the caption face. When none loads, the caption is skipped and the
// bare code is served.
var defaultFontCandidates = []string{
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/liberation/LiberationSans-Regular.ttf",
	"/usr/share/fonts/truetype/noto/NotoSans-Regular.ttf",
	"/Library/Fonts/Arial Unicode.ttf",
}

// Renderer produces share images for form URLs.
type Renderer struct {
	fontCandidates []string
	placeholder    []byte
	log            zerolog.Logger
}

// NewRenderer builds a Renderer. A non-empty fontPath is tried before the
// built-in candidate list.
func NewRenderer(fontPath string, log zerolog.Logger) *Renderer {
	candidates := defaultFontCandidates
	if fontPath != "" {
		candidates = append([]string{fontPath}, defaultFontCandidates...)
	}
	return &Renderer{
		fontCandidates: candidates,
		placeholder:    blankPNG(),
		log:            log,
	}
}

// PNG renders the share code with an optional caption composed below it.
// The second return is true when every backend failed and the blank
// placeholder is returned; callers serve that with Cache-Control no-store
// instead of the usual public max-age.
func (r *Renderer) PNG(url, caption string) ([]byte, bool) {
	backends := []struct {
		name   string
		render func(string) ([]byte, error)
	}{
		{"qrcode", renderSkip2},
		{"boombuler", renderBoombuler},
	}

	for _, b := range backends {
		data, err := b.render(url)
		if err != nil {
			r.log.Debug().Err(err).Str("backend", b.name).Msg("qr render backend failed")
			continue
		}
		return r.composeCaption(data, caption), false
	}

	r.log.Warn().Str("url", url).Msg("all qr render backends failed")
	return r.placeholder, true
}

// Placeholder returns the blank PNG served when no share URL resolves.
func (r *Renderer) Placeholder() []byte {
	return r.placeholder
}

func renderSkip2(url string) ([]byte, error) {
	return qrgen.Encode(url, qrgen.Medium, renderSize)
}

func renderBoombuler(url string) ([]byte, error) {
	code, err := bqr.Encode(url, bqr.M, bqr.Auto)
	if err != nil {
		return nil, err
	}
	scaled, err := barcode.Scale(code, renderSize, renderSize)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SVG renders the code as a minimal path-based SVG.
func (r *Renderer) SVG(url string) ([]byte, error) {
	code, err := qrgen.New(url, qrgen.Medium)
	if err != nil {
		return nil, err
	}
	grid := code.Bitmap()
	n := len(grid)

	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %d %d" width="%d" height="%d" shape-rendering="crispEdges">`,
		n, n, renderSize, renderSize)
	fmt.Fprintf(&b, `<rect width="%d" height="%d" fill="#ffffff"/>`, n, n)
	b.WriteString(`<path fill="#000000" d="`)
	for y, row := range grid {
		for x, dark := range row {
			if dark {
				fmt.Fprintf(&b, "M%d %dh1v1h-1z", x, y)
			}
		}
	}
	b.WriteString(`"/></svg>`)
	return []byte(b.String()), nil
}

func blankPNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		// A 1x1 RGBA encode cannot fail; keep the invariant visible.
		panic(err)
	}
	return buf.Bytes()
}
