// Package diagnose classifies why a challenge session ended up blocked, by
// matching the final page against known Cloudflare error codes and generic
// blocking phrases.
package diagnose

import (
	"regexp"
	"strings"
)

// maxBodyLen limits the body size for regex matching. Large enough for any
// blocking page, small enough to keep matching cheap.
const maxBodyLen = 100 * 1024

// Category is the broad class of a detected block.
type Category string

const (
	CategoryRateLimit    Category = "rate_limit"
	CategoryAccessDenied Category = "access_denied"
	CategoryCaptcha      Category = "captcha"
	CategoryGeoBlocked   Category = "geo_blocked"
)

// Diagnosis describes a detected block on the final page.
type Diagnosis struct {
	Detected    bool
	Code        string
	Category    Category
	Description string
}

type blockPattern struct {
	pattern     *regexp.Regexp
	code        string
	category    Category
	description string
}

// cfCode builds the matcher for a numeric Cloudflare error code. The
// [^<]{0,N} gaps match across attribute noise without backtracking over
// whole elements.
func cfCode(code string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)error[^<]{0,10}code[^<]{0,5}:?\s{0,5}` + code)
}

// patterns are ordered by specificity: exact Cloudflare codes first, then
// generic phrases.
var patterns = []blockPattern{
	{cfCode("1015"), "CF_1015", CategoryRateLimit, "Cloudflare rate limit exceeded"},
	{cfCode("1020"), "CF_1020", CategoryAccessDenied, "Cloudflare access denied - suspicious request"},
	{cfCode("1006"), "CF_1006", CategoryAccessDenied, "Cloudflare access denied"},
	{cfCode("1007"), "CF_1007", CategoryAccessDenied, "Cloudflare access denied"},
	{cfCode("1008"), "CF_1008", CategoryAccessDenied, "Cloudflare access denied"},
	{cfCode("1009"), "CF_1009", CategoryGeoBlocked, "Cloudflare geo-restriction"},
	{cfCode("1010"), "CF_1010", CategoryAccessDenied, "Cloudflare browser signature rejected"},
	{cfCode("1012"), "CF_1012", CategoryAccessDenied, "Cloudflare access denied"},

	{regexp.MustCompile(`(?i)access\s{1,5}denied`), "ACCESS_DENIED", CategoryAccessDenied, "Generic access denied"},
	{regexp.MustCompile(`(?i)rate\s{0,3}limit`), "RATE_LIMITED", CategoryRateLimit, "Generic rate limit"},
	{regexp.MustCompile(`(?i)too\s{1,5}many\s{1,5}requests`), "TOO_MANY_REQUESTS", CategoryRateLimit, "Too many requests"},
	{regexp.MustCompile(`(?i)you\s{1,5}(have\s{1,5}been\s{1,5})?blocked`), "BLOCKED", CategoryAccessDenied, "Request blocked"},
	{regexp.MustCompile(`(?i)(captcha|hcaptcha|recaptcha|challenge)`), "CAPTCHA_REQUIRED", CategoryCaptcha, "CAPTCHA or challenge required"},
}

// Inspect analyzes the final page markup (and optional HTTP status) for
// blocking indicators. Pass status 0 when only markup is available.
func Inspect(status int, body string) Diagnosis {
	var d Diagnosis

	if len(body) > maxBodyLen {
		body = body[:maxBodyLen]
	}

	switch status {
	case 429:
		d = Diagnosis{Detected: true, Code: "HTTP_429", Category: CategoryRateLimit, Description: "HTTP 429 Too Many Requests"}
	case 503:
		d = Diagnosis{Detected: true, Code: "HTTP_503", Category: CategoryRateLimit, Description: "HTTP 503 Service Unavailable"}
	}

	for _, p := range patterns {
		if p.pattern.MatchString(body) {
			return Diagnosis{Detected: true, Code: p.code, Category: p.category, Description: p.description}
		}
	}

	if status == 403 && !d.Detected && strings.Contains(strings.ToLower(body), "cloudflare") {
		return Diagnosis{Detected: true, Code: "CF_403", Category: CategoryAccessDenied, Description: "Cloudflare 403 Forbidden"}
	}

	return d
}
