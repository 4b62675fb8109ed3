package barcode

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/png"
	"strings"
	"testing"
	"time"

	bbarcode "github.com/boombuler/barcode"
	"github.com/boombuler/barcode/code128"
	"github.com/rs/zerolog"
	qrgen "github.com/skip2/go-qrcode"
)

func newTestService() *Service {
	return NewService(90, time.Minute, zerolog.Nop())
}

func pngBase64(t *testing.T, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func blankImage() image.Image {
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	return img
}

func TestDecode_Empty(t *testing.T) {
	svc := newTestService()

	for _, data := range []string{"", "   ", "data:image/png;base64"} {
		out := svc.Decode(data, Options{})
		if out.OK || out.Reason != ReasonEmpty {
			t.Errorf("Decode(%q) = %+v, want reason %s", data, out, ReasonEmpty)
		}
	}
}

func TestDecode_DataURLPrefixStripped(t *testing.T) {
	svc := newTestService()
	data := "data:image/png;base64," + pngBase64(t, blankImage())

	out := svc.Decode(data, Options{})
	if out.Reason != ReasonNotFound {
		t.Errorf("expected not_found for blank image, got %+v", out)
	}
}

func TestDecode_PayloadTooLarge(t *testing.T) {
	svc := newTestService()
	out := svc.Decode(strings.Repeat("A", MaxDataBytes+1), Options{})
	if out.Reason != ReasonPayloadTooLarge {
		t.Errorf("expected payload_too_large, got %+v", out)
	}
}

func TestDecode_InvalidBase64(t *testing.T) {
	svc := newTestService()
	out := svc.Decode("!!!not-base64!!!", Options{})
	if out.Reason != ReasonInvalidBase64 {
		t.Errorf("expected invalid_base64, got %+v", out)
	}
}

func TestDecode_UnreadableImage(t *testing.T) {
	svc := newTestService()
	data := base64.StdEncoding.EncodeToString([]byte("this is not an image"))
	out := svc.Decode(data, Options{})
	if out.Reason != ReasonNotFound {
		t.Errorf("expected not_found for unreadable image, got %+v", out)
	}
}

func TestDecode_DecoderUnavailable(t *testing.T) {
	svc := newTestService()
	svc.primary = nil
	svc.fallback = nil

	out := svc.Decode(pngBase64(t, blankImage()), Options{})
	if out.Reason != ReasonDecoderUnavailable {
		t.Errorf("expected decoder_unavailable, got %+v", out)
	}
}

func TestDecode_ResultCached(t *testing.T) {
	svc := newTestService()
	calls := 0
	svc.primary = func(img image.Image, prefer1D bool) (string, error) {
		calls++
		return "", errNoSymbol
	}
	svc.fallback = nil

	data := pngBase64(t, blankImage())
	svc.Decode(data, Options{})
	first := calls
	svc.Decode(data, Options{})
	if calls != first {
		t.Errorf("expected second decode to hit cache, engine called %d then %d times", first, calls)
	}
}

func TestDecode_CacheKeyIncludesFlags(t *testing.T) {
	svc := newTestService()
	calls := 0
	svc.primary = func(img image.Image, prefer1D bool) (string, error) {
		calls++
		return "", errNoSymbol
	}
	svc.fallback = nil

	data := pngBase64(t, blankImage())
	svc.Decode(data, Options{})
	svc.Decode(data, Options{Prefer1D: true})
	if calls <= 2 {
		t.Errorf("expected different flags to miss the cache, engine called %d times", calls)
	}
}

func TestDecode_FallbackOnlyOnDeep(t *testing.T) {
	svc := newTestService()
	svc.primary = func(img image.Image, prefer1D bool) (string, error) {
		return "", errNoSymbol
	}
	fallbackCalled := false
	svc.fallback = func(img image.Image) (string, error) {
		fallbackCalled = true
		return "FALLBACK-VALUE", nil
	}

	data := pngBase64(t, blankImage())

	out := svc.Decode(data, Options{})
	if fallbackCalled {
		t.Error("fallback engine ran without deep requested")
	}
	if out.Reason != ReasonNotFound {
		t.Errorf("expected not_found, got %+v", out)
	}

	out = svc.Decode(data, Options{Deep: true})
	if !fallbackCalled {
		t.Error("fallback engine did not run on deep request")
	}
	if !out.OK || out.Value != "FALLBACK-VALUE" || out.Engine != "goqr" {
		t.Errorf("unexpected fallback outcome: %+v", out)
	}
}

func TestDecode_DeepExpandsStrategies(t *testing.T) {
	svc := newTestService()

	fastAttempts := 0
	svc.primary = func(img image.Image, prefer1D bool) (string, error) {
		fastAttempts++
		return "", errNoSymbol
	}
	svc.fallback = nil
	svc.Decode(pngBase64(t, blankImage()), Options{})
	if fastAttempts != 2 {
		t.Errorf("expected 2 fast attempts, got %d", fastAttempts)
	}

	deepAttempts := 0
	svc.primary = func(img image.Image, prefer1D bool) (string, error) {
		deepAttempts++
		return "", errors.New("nope")
	}
	svc.Decode(pngBase64(t, blankImage()), Options{Deep: true})
	if deepAttempts != 10 {
		t.Errorf("expected 10 attempts with deep enabled, got %d", deepAttempts)
	}
}

func TestDecode_ShortCircuitsOnFirstHit(t *testing.T) {
	svc := newTestService()
	calls := 0
	svc.primary = func(img image.Image, prefer1D bool) (string, error) {
		calls++
		return "HIT-1", nil
	}

	out := svc.Decode(pngBase64(t, blankImage()), Options{Deep: true})
	if !out.OK || out.Value != "HIT-1" || out.Engine != "zxing" {
		t.Errorf("unexpected outcome: %+v", out)
	}
	if calls != 1 {
		t.Errorf("expected 1 engine call, got %d", calls)
	}
}

func TestDecode_QRRoundTrip(t *testing.T) {
	raw, err := qrgen.Encode("SP20260829-0001", qrgen.Medium, 256)
	if err != nil {
		t.Fatalf("qr encode: %v", err)
	}

	svc := newTestService()
	out := svc.Decode(base64.StdEncoding.EncodeToString(raw), Options{})
	if !out.OK {
		t.Fatalf("expected decode success, got %+v", out)
	}
	if out.Value != "SP20260829-0001" {
		t.Errorf("expected SP20260829-0001, got %q", out.Value)
	}
	if out.Engine != "zxing" {
		t.Errorf("expected engine zxing, got %q", out.Engine)
	}
}

func TestDecode_Code128RoundTrip(t *testing.T) {
	code, err := code128.Encode("TUBE-0042")
	if err != nil {
		t.Fatalf("code128 encode: %v", err)
	}
	scaled, err := bbarcode.Scale(code, 400, 120)
	if err != nil {
		t.Fatalf("scale: %v", err)
	}

	svc := newTestService()
	out := svc.Decode(pngBase64(t, scaled), Options{Prefer1D: true})
	if !out.OK {
		t.Fatalf("expected decode success, got %+v", out)
	}
	if out.Value != "TUBE-0042" {
		t.Errorf("expected TUBE-0042, got %q", out.Value)
	}
}

func TestDecode_Prefer1DSkipsQR(t *testing.T) {
	raw, err := qrgen.Encode("ONLY-2D", qrgen.Medium, 256)
	if err != nil {
		t.Fatalf("qr encode: %v", err)
	}

	svc := newTestService()
	out := svc.Decode(base64.StdEncoding.EncodeToString(raw), Options{Prefer1D: true})
	if out.OK {
		t.Errorf("expected QR to be skipped with prefer_1d, got %+v", out)
	}
}
