package form

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	keyRe     = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
	intRe     = regexp.MustCompile(`^-?\d+$`)
	digitsRe  = regexp.MustCompile(`^\d+$`)
	alphaRe   = regexp.MustCompile(`^[A-Za-z]+$`)
	alnumRe   = regexp.MustCompile(`^[A-Za-z0-9]+$`)
	phoneRe   = regexp.MustCompile(`^1[3-9]\d{9}$`)
	emailRe   = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)
	nonDigits = regexp.MustCompile(`\D`)
)

// ValidKey reports whether key is a legal component key.
func ValidKey(key string) bool { return keyRe.MatchString(key) }

// ValidationError is a per-field input rejection. Message is safe to show to
// the person filling in the form.
type ValidationError struct {
	Key     string
	Label   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func ruleErr(c *Component, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Key: c.Key, Label: c.Label, Message: fmt.Sprintf(format, args...)}
}

// ApplyRules normalizes and validates a single posted value against the
// component's configuration and returns the canonical stored value. Empty
// values pass through untouched; the required check happens later in the
// pipeline so that optional fields can stay blank.
func ApplyRules(c *Component, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}

	switch c.Kind {
	case KindNumberWheel:
		return applyWheelRules(c, value)
	case KindEmail:
		if !emailRe.MatchString(value) {
			return "", ruleErr(c, "%s must be a valid email address", c.Label)
		}
		return applyLengthRules(c, value)
	case KindFormattedNumber:
		return applyPatternRules(c, value)
	case KindInput, KindTextarea, KindMultilineText:
		return applyTextRules(c, value)
	default:
		// Scanner output and the remaining kinds pass through untouched.
		return value, nil
	}
}

func applyWheelRules(c *Component, value string) (string, error) {
	if !intRe.MatchString(value) {
		return "", ruleErr(c, "%s must be a whole number", c.Label)
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return "", ruleErr(c, "%s must be a whole number", c.Label)
	}
	if n < c.WheelMin || n > c.WheelMax {
		return "", ruleErr(c, "%s must be between %d and %d", c.Label, c.WheelMin, c.WheelMax)
	}
	step := c.WheelStep
	if step <= 0 {
		step = 1
	}
	if (n-c.WheelMin)%step != 0 {
		return "", ruleErr(c, "%s must be a multiple of %d starting from %d", c.Label, step, c.WheelMin)
	}
	return strconv.Itoa(n), nil
}

func applyPatternRules(c *Component, value string) (string, error) {
	digits := nonDigits.ReplaceAllString(value, "")
	pattern := c.NumberPattern
	if pattern == "" {
		return digits, nil
	}
	want := strings.Count(pattern, "0")
	if len(digits) != want {
		return "", ruleErr(c, "%s requires exactly %d digits", c.Label, want)
	}
	var b strings.Builder
	next := 0
	for _, r := range pattern {
		if r == '0' {
			b.WriteByte(digits[next])
			next++
		} else {
			b.WriteRune(r)
		}
	}
	return b.String(), nil
}

func applyTextRules(c *Component, value string) (string, error) {
	switch c.CaseMode {
	case CaseUpper:
		value = strings.ToUpper(value)
	case CaseLower:
		value = strings.ToLower(value)
	}
	if c.OnlyDigits && !digitsRe.MatchString(value) {
		return "", ruleErr(c, "%s must contain digits only", c.Label)
	}
	switch c.ValidationMode {
	case ModeAlpha:
		if !alphaRe.MatchString(value) {
			return "", ruleErr(c, "%s must contain letters only", c.Label)
		}
	case ModeAlnum:
		if !alnumRe.MatchString(value) {
			return "", ruleErr(c, "%s must contain letters and digits only", c.Label)
		}
	case ModePhone:
		if !phoneRe.MatchString(value) {
			return "", ruleErr(c, "%s must be a valid mobile number", c.Label)
		}
	case ModeEmail:
		if !emailRe.MatchString(value) {
			return "", ruleErr(c, "%s must be a valid email address", c.Label)
		}
	case ModeCustomRegex:
		if c.CustomRegex != "" {
			re, err := regexp.Compile(anchored(c.CustomRegex))
			if err != nil || !re.MatchString(value) {
				return "", ruleErr(c, "%s has an invalid format", c.Label)
			}
		}
	}
	return applyLengthRules(c, value)
}

func applyLengthRules(c *Component, value string) (string, error) {
	n := len([]rune(value))
	if c.MinLength > 0 && n < c.MinLength {
		return "", ruleErr(c, "%s must be at least %d characters", c.Label, c.MinLength)
	}
	if c.MaxLength > 0 && n > c.MaxLength {
		return "", ruleErr(c, "%s must be at most %d characters", c.Label, c.MaxLength)
	}
	return value, nil
}

// anchored wraps a custom pattern so it must match the whole value.
func anchored(pattern string) string {
	return `^(?:` + pattern + `)$`
}

const dateLayout = "2006-01-02"

// FormatDateValue renders a stored ISO date for display. Unparseable input
// is returned unchanged so a bad value is still visible in exports.
func FormatDateValue(value, format string) string {
	t, err := time.Parse(dateLayout, strings.TrimSpace(value))
	if err != nil {
		return value
	}
	switch format {
	case DateMMDDYYYY:
		return t.Format("01022006")
	case DateDDMMYYYY:
		return t.Format("02012006")
	case DateYYYYMMDD:
		return t.Format("20060102")
	default:
		return value
	}
}

// ComputeAgeFromDate derives whole years between the birth date and now.
// Missing or unparseable input yields "0" rather than an error: the age
// field is auto-filled and must never block on its own account.
func ComputeAgeFromDate(now time.Time, value string) string {
	t, err := time.Parse(dateLayout, strings.TrimSpace(value))
	if err != nil {
		return "0"
	}
	years := now.Year() - t.Year()
	if now.Month() < t.Month() || (now.Month() == t.Month() && now.Day() < t.Day()) {
		years--
	}
	if years < 0 {
		years = 0
	}
	return strconv.Itoa(years)
}

// Age policy defaults used when the component leaves the message blank.
const (
	DefaultAgeMinMessage = "Age is below the minimum requirement."
	DefaultAgeMaxMessage = "Age is above the maximum requirement."
)

// AgePolicyResult is the outcome of evaluating an age bound.
type AgePolicyResult struct {
	Action  string // AgeActionBlock or AgeActionWarn
	Message string
}

// EvaluateAgePolicy checks the computed age against the component's bounds.
// The minimum is checked first and the first violated bound wins; nil means
// the age is acceptable.
func EvaluateAgePolicy(c *Component, age int) *AgePolicyResult {
	if c.AgeMin != nil && age < *c.AgeMin {
		return agePolicyResult(c.AgeMinAction, c.AgeMinMessage, DefaultAgeMinMessage)
	}
	if c.AgeMax != nil && age > *c.AgeMax {
		return agePolicyResult(c.AgeMaxAction, c.AgeMaxMessage, DefaultAgeMaxMessage)
	}
	return nil
}

func agePolicyResult(action, message, fallback string) *AgePolicyResult {
	if action == "" {
		action = AgeActionBlock
	}
	if message == "" {
		message = fallback
	}
	return &AgePolicyResult{Action: action, Message: message}
}

var optionSplitRe = regexp.MustCompile(`[,\x{FF0C};\x{FF1B}|\r\n]+`)

// ParseOptionsText splits free-form option text on commas (ASCII and
// full-width), semicolons, pipes and newlines, trimming and deduplicating
// while preserving first-seen order.
func ParseOptionsText(text string) []string {
	parts := optionSplitRe.Split(text, -1)
	seen := make(map[string]bool, len(parts))
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
