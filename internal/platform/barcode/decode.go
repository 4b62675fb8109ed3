// Package barcode implements the image decode service backing the public
// scanner endpoint: a per-IP sliding-window rate limiter, a short-TTL
// result cache, and a multi-engine decode pipeline with an explicit
// ordered strategy list.
package barcode

import (
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"image"
	"strings"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/rs/zerolog"
)

// MaxDataBytes caps the base64 payload length. The 6 MB transport body
// ceiling is enforced separately by the decode handler.
const MaxDataBytes = 8 * 1024 * 1024

// Decode failure reasons surfaced to the caller as structured JSON, never
// as an error.
const (
	ReasonRateLimited        = "rate_limited"
	ReasonEmpty              = "empty"
	ReasonPayloadTooLarge    = "payload_too_large"
	ReasonInvalidBase64      = "invalid_base64"
	ReasonDecoderUnavailable = "decoder_unavailable"
	ReasonNotFound           = "not_found"
)

// Options carry the caller's decode preferences.
type Options struct {
	// Deep enables the expensive transform ladder (upscale, thresholds,
	// inversion, rotations) and the fallback engine.
	Deep bool
	// Prefer1D restricts the symbol set to 1-D codes.
	Prefer1D bool
}

// Outcome is the decode result: either OK with a value and the engine
// that produced it, or a failure reason.
type Outcome struct {
	OK      bool   `json:"ok"`
	Value   string `json:"value,omitempty"`
	Engine  string `json:"engine,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// Limiter gates decode requests per client key.
type Limiter interface {
	Allow(key string) bool
}

// Cache stores recent decode outcomes keyed by content hash and flags.
type Cache interface {
	Get(key string) (Outcome, bool)
	Put(key string, outcome Outcome)
}

// Service runs the decode pipeline. Limiter, cache, and both engines are
// injectable; NewService wires the production set.
type Service struct {
	limiter  Limiter
	cache    Cache
	primary  func(img image.Image, prefer1D bool) (string, error)
	fallback func(img image.Image) (string, error)
	log      zerolog.Logger
}

func NewService(rateLimit int, rateWindow time.Duration, log zerolog.Logger) *Service {
	return &Service{
		limiter:  NewSlidingWindowLimiter(rateLimit, rateWindow),
		cache:    NewResultCache(1200, 3*time.Second),
		primary:  zxingDecode,
		fallback: goqrDecode,
		log:      log,
	}
}

// Allow reports whether the client identified by key may decode now.
func (s *Service) Allow(key string) bool {
	return s.limiter.Allow(key)
}

// attempt is one entry in the ordered strategy list: a named candidate
// image fed to a named engine.
type attempt struct {
	name   string
	engine string
	decode func() (string, error)
}

// Decode runs the pipeline against a base64 payload, which may carry a
// data-URL prefix. Pre-decode failures (empty, oversize, bad base64) are
// not cached; everything after the content hash is.
func (s *Service) Decode(data string, opts Options) Outcome {
	data = strings.TrimSpace(data)
	if strings.HasPrefix(data, "data:image") {
		if _, rest, ok := strings.Cut(data, ","); ok {
			data = rest
		} else {
			data = ""
		}
	}
	if data == "" {
		return Outcome{Reason: ReasonEmpty}
	}
	if len(data) > MaxDataBytes {
		return Outcome{Reason: ReasonPayloadTooLarge}
	}

	key := fmt.Sprintf("%x:%t:%t", sha1.Sum([]byte(data)), opts.Deep, opts.Prefer1D)
	if cached, ok := s.cache.Get(key); ok {
		return cached
	}

	raw, err := decodeBase64(data)
	if err != nil {
		return Outcome{Reason: ReasonInvalidBase64}
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		out := Outcome{Reason: ReasonNotFound, Message: "unreadable image"}
		s.cache.Put(key, out)
		return out
	}

	if s.primary == nil && s.fallback == nil {
		out := Outcome{Reason: ReasonDecoderUnavailable, Message: "no decode engine configured"}
		s.cache.Put(key, out)
		return out
	}

	out := s.run(img, opts)
	s.cache.Put(key, out)
	return out
}

// decodeBase64 tolerates missing padding, which camera-capture clients
// commonly truncate.
func decodeBase64(s string) ([]byte, error) {
	if raw, err := base64.StdEncoding.DecodeString(s); err == nil {
		return raw, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

func (s *Service) run(img image.Image, opts Options) Outcome {
	attempts := s.buildAttempts(img, opts)
	for _, a := range attempts {
		value, err := a.decode()
		if err == nil && value != "" {
			s.log.Debug().Str("strategy", a.name).Str("engine", a.engine).Msg("barcode decoded")
			return Outcome{OK: true, Value: value, Engine: a.engine}
		}
	}
	return Outcome{Reason: ReasonNotFound}
}

// buildAttempts assembles the strategy list in the order tried: fast pass
// on grayscale and autocontrast, then (deep only) the transform ladder,
// then (deep only) the fallback engine on the plain image.
func (s *Service) buildAttempts(img image.Image, opts Options) []attempt {
	var attempts []attempt

	gray := toGray(img)
	auto := autocontrast(gray)

	primary := func(name, engine string, candidate *image.Gray) attempt {
		return attempt{name: name, engine: engine, decode: func() (string, error) {
			return s.primary(candidate, opts.Prefer1D)
		}}
	}

	if s.primary != nil {
		attempts = append(attempts,
			primary("fast/gray", "zxing", gray),
			primary("fast/autocontrast", "zxing", auto),
		)
		if opts.Deep {
			inv := invert(auto)
			attempts = append(attempts,
				primary("deep/upscale2x", "zxing_deep", upscale2x(gray)),
				primary("deep/autocontrast+upscale2x", "zxing_deep", upscale2x(auto)),
				primary("deep/threshold140", "zxing_deep", threshold(auto, 140)),
				primary("deep/threshold170", "zxing_deep", threshold(auto, 170)),
				primary("deep/inverted", "zxing_deep", inv),
				primary("deep/inverted90", "zxing_deep", rotate(inv, 1)),
				primary("deep/inverted180", "zxing_deep", rotate(inv, 2)),
				primary("deep/inverted270", "zxing_deep", rotate(inv, 3)),
			)
		}
	}
	if opts.Deep && s.fallback != nil {
		attempts = append(attempts, attempt{name: "fallback/plain", engine: "goqr", decode: func() (string, error) {
			return s.fallback(img)
		}})
	}
	return attempts
}
