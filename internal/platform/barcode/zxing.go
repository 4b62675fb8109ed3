package barcode

import (
	"errors"
	"image"
	"strings"

	"github.com/liyue201/goqr"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/aztec"
	"github.com/makiuchi-d/gozxing/datamatrix"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
)

var errNoSymbol = errors.New("no symbol found")

// zxingDecode runs the configured symbol set against one candidate image.
// 1-D readers always run; 2-D readers are skipped when the caller prefers
// 1-D only.
func zxingDecode(img image.Image, prefer1D bool) (string, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", err
	}

	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}

	readers := []gozxing.Reader{
		oned.NewCode128Reader(),
		oned.NewCode39Reader(),
		oned.NewCode93Reader(),
		oned.NewCodaBarReader(),
		oned.NewITFReader(),
		oned.NewMultiFormatUPCEANReader(hints),
	}
	if !prefer1D {
		readers = append(readers,
			qrcode.NewQRCodeReader(),
			datamatrix.NewDataMatrixReader(),
			aztec.NewAztecReader(),
		)
	}

	for _, r := range readers {
		result, err := r.Decode(bmp, hints)
		if err != nil {
			continue
		}
		if text := strings.TrimSpace(result.GetText()); text != "" {
			return text, nil
		}
	}
	return "", errNoSymbol
}

// goqrDecode is the fallback engine, run on the plain image only after
// the primary engine is exhausted.
func goqrDecode(img image.Image) (string, error) {
	codes, err := goqr.Recognize(img)
	if err != nil {
		return "", err
	}
	for _, code := range codes {
		if text := strings.TrimSpace(string(code.Payload)); text != "" {
			return text, nil
		}
	}
	return "", errNoSymbol
}
