package submission

import (
	"regexp"
	"strings"
)

// ClientEnv is the user-agent snapshot stored on each submission.
type ClientEnv struct {
	DeviceType     string `json:"device_type"`
	OSName         string `json:"os_name"`
	BrowserName    string `json:"browser_name"`
	BrowserVersion string `json:"browser_version"`
}

// browserRules is checked in order; the first match wins. Vendor tokens
// that embed other engines' tokens (Edge carries Chrome, every WebKit
// browser carries Safari) must come before the tokens they embed.
var browserRules = []struct {
	re   *regexp.Regexp
	name string
}{
	{regexp.MustCompile(`(?i)Edg/([\d.]+)`), "Edge"},
	{regexp.MustCompile(`(?i)OPR/([\d.]+)`), "Opera"},
	{regexp.MustCompile(`(?i)CriOS/([\d.]+)`), "Chrome"},
	{regexp.MustCompile(`(?i)Chrome/([\d.]+)`), "Chrome"},
	{regexp.MustCompile(`(?i)FxiOS/([\d.]+)`), "Firefox"},
	{regexp.MustCompile(`(?i)Firefox/([\d.]+)`), "Firefox"},
	{regexp.MustCompile(`(?i)Version/([\d.]+).*Safari/`), "Safari"},
	{regexp.MustCompile(`(?i)Safari/([\d.]+)`), "Safari"},
	{regexp.MustCompile(`(?i)MSIE ([\d.]+)`), "Internet Explorer"},
	{regexp.MustCompile(`(?i)Trident/.*rv:([\d.]+)`), "Internet Explorer"},
}

// ParseClientEnv classifies a User-Agent header. Unknown agents come back
// as Unknown/unknown rather than empty so exports stay readable.
func ParseClientEnv(userAgent string) ClientEnv {
	name, version := parseBrowser(userAgent)
	return ClientEnv{
		DeviceType:     parseDeviceType(userAgent),
		OSName:         parseOSName(userAgent),
		BrowserName:    name,
		BrowserVersion: version,
	}
}

func parseBrowser(ua string) (string, string) {
	ua = strings.TrimSpace(ua)
	if ua == "" {
		return "Unknown", ""
	}
	for _, rule := range browserRules {
		if m := rule.re.FindStringSubmatch(ua); m != nil {
			return rule.name, strings.TrimSpace(m[1])
		}
	}
	return "Unknown", ""
}

func parseOSName(ua string) string {
	ua = strings.ToLower(ua)
	switch {
	case ua == "":
		return "Unknown"
	case strings.Contains(ua, "android"):
		return "Android"
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"), strings.Contains(ua, "ipod"):
		return "iOS"
	case strings.Contains(ua, "windows"):
		return "Windows"
	case strings.Contains(ua, "mac os x"), strings.Contains(ua, "macintosh"):
		return "macOS"
	case strings.Contains(ua, "linux"):
		return "Linux"
	}
	return "Unknown"
}

func parseDeviceType(ua string) string {
	ua = strings.ToLower(ua)
	switch {
	case ua == "":
		return "unknown"
	case strings.Contains(ua, "bot"), strings.Contains(ua, "spider"), strings.Contains(ua, "crawler"):
		return "bot"
	case strings.Contains(ua, "ipad"), strings.Contains(ua, "tablet"):
		return "tablet"
	case strings.Contains(ua, "mobile"), strings.Contains(ua, "iphone"), strings.Contains(ua, "android"):
		return "phone"
	case strings.Contains(ua, "windows"), strings.Contains(ua, "macintosh"), strings.Contains(ua, "linux"):
		return "desktop"
	}
	return "unknown"
}
