package qr

import (
	"bytes"
	"image/png"
	"strings"

	"github.com/fogleman/gg"
)

const (
	captionPad      = 18
	captionGap      = 12
	captionFontSize = 18
	minTextBoxWidth = 280
)

// composeCaption draws the caption word-wrapped and centered below the
// code on a white canvas. On any failure (no loadable font face, broken
// image) the original bytes are returned untouched.
func (r *Renderer) composeCaption(pngBytes []byte, caption string) []byte {
	caption = strings.TrimSpace(caption)
	if caption == "" || len(pngBytes) == 0 {
		return pngBytes
	}

	img, err := png.Decode(bytes.NewReader(pngBytes))
	if err != nil {
		return pngBytes
	}
	qrW := img.Bounds().Dx()
	qrH := img.Bounds().Dy()

	textBoxWidth := qrW
	if textBoxWidth < minTextBoxWidth {
		textBoxWidth = minTextBoxWidth
	}
	canvasW := qrW + captionPad*2
	if w := textBoxWidth + captionPad*2; w > canvasW {
		canvasW = w
	}
	maxLineW := float64(canvasW - captionPad*2)

	probe := gg.NewContext(10, 10)
	if !loadFirstFace(probe, r.fontCandidates) {
		return pngBytes
	}

	var lines []string
	for _, para := range strings.Split(caption, "\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		lines = append(lines, wrapLine(probe, para, maxLineW)...)
	}
	if len(lines) == 0 {
		return pngBytes
	}

	_, sampleH := probe.MeasureString("Ag")
	lineH := int(sampleH) + 6
	if lineH < captionFontSize {
		lineH = captionFontSize
	}
	textH := lineH * len(lines)
	canvasH := captionPad + qrH + captionGap + textH + captionPad

	canvas := gg.NewContext(canvasW, canvasH)
	if !loadFirstFace(canvas, r.fontCandidates) {
		return pngBytes
	}
	canvas.SetRGB(1, 1, 1)
	canvas.Clear()
	canvas.DrawImage(img, (canvasW-qrW)/2, captionPad)

	canvas.SetRGB(0, 0, 0)
	y := captionPad + qrH + captionGap
	for _, line := range lines {
		lineW, _ := canvas.MeasureString(line)
		x := (float64(canvasW) - lineW) / 2
		if x < captionPad {
			x = captionPad
		}
		canvas.DrawString(line, x, float64(y+lineH-4))
		y += lineH
	}

	var out bytes.Buffer
	if err := canvas.EncodePNG(&out); err != nil {
		return pngBytes
	}
	return out.Bytes()
}

func loadFirstFace(ctx *gg.Context, candidates []string) bool {
	for _, path := range candidates {
		if err := ctx.LoadFontFace(path, captionFontSize); err == nil {
			return true
		}
	}
	return false
}

// wrapLine breaks a paragraph into lines no wider than maxW. Paragraphs
// without spaces (CJK text, long tokens) fall back to per-character
// wrapping.
func wrapLine(ctx *gg.Context, paragraph string, maxW float64) []string {
	words := strings.Fields(paragraph)
	if len(words) <= 1 {
		return wrapChars(ctx, paragraph, maxW)
	}

	var lines []string
	current := words[0]
	for _, word := range words[1:] {
		cand := current + " " + word
		if w, _ := ctx.MeasureString(cand); w <= maxW {
			current = cand
		} else {
			lines = append(lines, current)
			current = word
		}
	}
	return append(lines, current)
}

func wrapChars(ctx *gg.Context, raw string, maxW float64) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []string{""}
	}
	var lines []string
	current := ""
	for _, ch := range raw {
		cand := current + string(ch)
		if current != "" {
			if w, _ := ctx.MeasureString(cand); w > maxW {
				lines = append(lines, current)
				current = string(ch)
				continue
			}
		}
		current = cand
	}
	if current != "" {
		lines = append(lines, current)
	}
	return lines
}
