package sanitize

import (
	"regexp"
	"strings"
)

// Category names a group of identifying metadata. A category counts
// towards the anonymity ratio only when something was actually removed.
type Category string

const (
	CategoryTimestamps Category = "timestamps"
	CategoryIPs        Category = "ip_addresses"
	CategoryUserAgent  Category = "user_agent"
	CategoryDevice     Category = "device_info"
	CategoryLocation   Category = "location"
	CategoryFiles      Category = "file_metadata"
	CategoryHeaders    Category = "headers"
	CategoryTiming     Category = "timing"

	// always-on passes, not part of the ratio
	categoryDebug    Category = "debug"
	categoryTracking Category = "tracking"
)

var (
	timestampSubstrings = []string{"timestamp", "created", "modified", "sent", "received", "date", "time"}

	ipFields        = fieldSet("ip", "ipAddress", "clientIp", "remoteAddr")
	userAgentFields = fieldSet("userAgent", "browser", "platform", "os")
	deviceFields    = fieldSet("deviceId", "screenResolution", "timezone", "language", "deviceType")
	locationFields  = fieldSet("location", "coordinates", "country", "city", "region", "geoip")
	debugFields     = fieldSet("debug", "trace", "stack", "error", "console", "log", "sessionId", "requestId", "correlationId")

	sensitiveHeaders = fieldSet(
		"x-forwarded-for", "x-real-ip", "x-client-ip", "cf-connecting-ip",
		"x-forwarded-proto", "x-forwarded-host", "referer", "origin",
		"user-agent", "accept-language", "accept-encoding", "cookie", "authorization",
	)

	attachmentKeep = []string{"name", "size", "type"}
)

var (
	ipv4Pattern = regexp.MustCompile(`\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`)
	ipv6Pattern = regexp.MustCompile(`\b(?:[0-9a-fA-F]{1,4}:){7}[0-9a-fA-F]{1,4}\b`)

	fileNameRules = []struct {
		re   *regexp.Regexp
		repl string
	}{
		{regexp.MustCompile(`\d{4}-\d{2}-\d{2}`), "YYYY-MM-DD"},
		{regexp.MustCompile(`\d{2}:\d{2}:\d{2}`), "HH:MM:SS"},
		{regexp.MustCompile(`IMG_\d+`), "IMG_XXXX"},
		{regexp.MustCompile(`DSC_?\d+`), "DSC_XXXX"},
		{regexp.MustCompile(`Screenshot_\d+`), "Screenshot_XXXX"},
	}

	trackingPatterns = []*regexp.Regexp{
		// 1x1 pixels, either attribute order
		regexp.MustCompile(`(?i)<img[^>]*width=["']?1["']?[^>]*height=["']?1["']?[^>]*>`),
		regexp.MustCompile(`(?i)<img[^>]*height=["']?1["']?[^>]*width=["']?1["']?[^>]*>`),
		// beacons
		regexp.MustCompile(`(?i)<img[^>]*src=["'][^"']*track[^"']*["'][^>]*>`),
		regexp.MustCompile(`(?i)<img[^>]*src=["'][^"']*beacon[^"']*["'][^>]*>`),
		// analytics and social scripts
		regexp.MustCompile(`(?i)<script[^>]*google-analytics[^>]*>[\s\S]*?</script>`),
		regexp.MustCompile(`(?i)<script[^>]*gtag[^>]*>[\s\S]*?</script>`),
		regexp.MustCompile(`(?i)<script[^>]*facebook[^>]*>[\s\S]*?</script>`),
		regexp.MustCompile(`(?i)<script[^>]*twitter[^>]*>[\s\S]*?</script>`),
	}

	leakChecks = []struct {
		re      *regexp.Regexp
		warning string
	}{
		{regexp.MustCompile(`@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`), "possible email address leak"},
		{regexp.MustCompile(`\+?[0-9]{10,}`), "possible phone number leak"},
		{regexp.MustCompile(`https?://[^\s"]*user[^\s"]*`), "possible personal URL leak"},
	}
)

type nameSet map[string]struct{}

// fieldSet builds a case-insensitive set of field names.
func fieldSet(names ...string) nameSet {
	s := make(nameSet, len(names))
	for _, n := range names {
		s[strings.ToLower(n)] = struct{}{}
	}
	return s
}

func (s nameSet) has(name string) bool {
	_, ok := s[strings.ToLower(name)]
	return ok
}

func isTimestampField(name string) bool {
	lower := strings.ToLower(name)
	for _, sub := range timestampSubstrings {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

func sanitizeFileName(name string) string {
	for _, r := range fileNameRules {
		name = r.re.ReplaceAllString(name, r.repl)
	}
	return name
}

func removeTracking(s string) string {
	for _, re := range trackingPatterns {
		s = re.ReplaceAllString(s, "")
	}
	return s
}

func replaceIPs(s string) string {
	s = ipv4Pattern.ReplaceAllString(s, "[IP_REMOVED]")
	return ipv6Pattern.ReplaceAllString(s, "[IPv6_REMOVED]")
}
