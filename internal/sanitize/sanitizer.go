package sanitize

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"secure.mail/internal/logging"
	"secure.mail/internal/metrics"
	"secure.mail/internal/models"
)

const (
	minDelay = 500 * time.Millisecond
	maxDelay = 1500 * time.Millisecond
)

// Sanitizer removes identifying metadata from raw envelopes. It never
// fails: every pass is best effort and problems surface as warnings.
type Sanitizer struct {
	log   *zerolog.Logger
	delay func() time.Duration
}

type Option func(*Sanitizer)

// WithDelay overrides the random timing delay, mostly for tests.
func WithDelay(fn func() time.Duration) Option {
	return func(s *Sanitizer) { s.delay = fn }
}

func New(log *zerolog.Logger, opts ...Option) *Sanitizer {
	s := &Sanitizer{
		log:   logging.Component(log, "sanitizer"),
		delay: randomDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func randomDelay() time.Duration {
	return minDelay + rand.N(maxDelay-minDelay)
}

type result struct {
	stripped   []string
	categories []string
	counts     map[Category]int
}

func (r *result) add(c Category, label string, paths []string) {
	if len(paths) == 0 {
		return
	}
	for _, p := range paths {
		r.stripped = append(r.stripped, label+": "+p)
	}
	if _, seen := r.counts[c]; !seen && c != categoryDebug && c != categoryTracking {
		r.categories = append(r.categories, string(c))
	}
	r.counts[c] += len(paths)
}

// Strip returns a sanitized copy of env. The only suspension point is the
// optional random delay, which gives up early when ctx is done.
func (s *Sanitizer) Strip(ctx context.Context, env models.Envelope, cfg models.MetadataStrippingConfig) models.CleanedEnvelope {
	root, _ := normalize(env).(map[string]any)
	if root == nil {
		root = map[string]any{}
	}
	res := &result{counts: make(map[Category]int)}

	if cfg.StripTimestamps {
		res.add(CategoryTimestamps, "Timestamp", dropFields(root, "", isTimestampField))
	}

	if cfg.StripIPAddresses {
		paths := dropFields(root, "", ipFields.has)
		_, replaced := rewriteStrings(root, "", replaceIPs)
		res.add(CategoryIPs, "IP Address", append(paths, replaced...))
	}

	if cfg.StripUserAgent {
		res.add(CategoryUserAgent, "User Agent", dropFields(root, "", userAgentFields.has))
	}

	if cfg.StripDeviceInfo {
		res.add(CategoryDevice, "Device Info", dropFields(root, "", deviceFields.has))
	}

	if cfg.StripLocationData {
		res.add(CategoryLocation, "Location", dropFields(root, "", locationFields.has))
	}

	if cfg.StripFileMetadata {
		res.add(CategoryFiles, "File Metadata", stripAttachments(root))
	}

	if cfg.AnonymizeHeaders {
		res.add(CategoryHeaders, "Header", anonymizeHeaders(root))
	}

	res.add(categoryDebug, "Debug", dropFields(root, "", debugFields.has))

	if _, changed := rewriteStrings(root, "", removeTracking); len(changed) > 0 {
		res.add(categoryTracking, "Tracking Elements", changed)
	}

	if cfg.UseRandomDelay && s.wait(ctx) {
		res.categories = append(res.categories, string(CategoryTiming))
		res.counts[CategoryTiming] = 1
	}

	cleaned := models.CleanedEnvelope{
		Envelope:       models.Envelope(root),
		StrippedFields: res.stripped,
		Categories:     res.categories,
		AnonymityLevel: anonymityLevel(len(res.categories), cfg.EnabledCount()),
		Warnings:       detectLeaks(root),
	}
	if cleaned.StrippedFields == nil {
		cleaned.StrippedFields = []string{}
	}
	if cleaned.Categories == nil {
		cleaned.Categories = []string{}
	}

	for c, n := range res.counts {
		if c != CategoryTiming {
			metrics.AddStripped(string(c), n)
		}
	}

	s.log.Debug().
		Int("stripped", len(cleaned.StrippedFields)).
		Strs("categories", cleaned.Categories).
		Str("anonymity", string(cleaned.AnonymityLevel)).
		Int("warnings", len(cleaned.Warnings)).
		Msg("envelope sanitized")

	return cleaned
}

func (s *Sanitizer) wait(ctx context.Context) bool {
	d := s.delay()
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// stripAttachments keeps only name, size and type of each attachment and
// scrubs dates and camera naming from file names.
func stripAttachments(root map[string]any) []string {
	list, ok := root["attachments"].([]any)
	if !ok {
		return nil
	}

	var removed []string
	for i, item := range list {
		file, ok := item.(map[string]any)
		if !ok {
			continue
		}
		path := "attachments[" + strconv.Itoa(i) + "]"
		kept := make(map[string]any, len(attachmentKeep))
		for _, k := range attachmentKeep {
			if v, ok := file[k]; ok {
				kept[k] = v
			}
		}
		for _, k := range sortedKeys(file) {
			if _, ok := kept[k]; !ok {
				removed = append(removed, join(path, k))
			}
		}
		if name, ok := kept["name"].(string); ok {
			if clean := sanitizeFileName(name); clean != name {
				kept["name"] = clean
				removed = append(removed, join(path, "name"))
			}
		}
		list[i] = kept
	}
	return removed
}

func anonymizeHeaders(root map[string]any) []string {
	headers, ok := root["headers"].(map[string]any)
	if !ok {
		return nil
	}
	var removed []string
	for _, k := range sortedKeys(headers) {
		if sensitiveHeaders.has(k) {
			delete(headers, k)
			removed = append(removed, "headers."+k)
		}
	}
	return removed
}

func anonymityLevel(stripped, enabled int) models.AnonymityLevel {
	if enabled == 0 {
		return models.AnonymityLow
	}
	ratio := float64(stripped) / float64(enabled)
	switch {
	case ratio >= 0.8:
		return models.AnonymityHigh
	case ratio >= 0.5:
		return models.AnonymityMedium
	default:
		return models.AnonymityLow
	}
}

// Summary describes the anonymity of a cleaned envelope in one line.
func Summary(c models.CleanedEnvelope) string {
	n := len(c.StrippedFields)
	switch c.AnonymityLevel {
	case models.AnonymityHigh:
		return "high anonymity: " + strconv.Itoa(n) + " metadata fields removed"
	case models.AnonymityMedium:
		return "medium anonymity: " + strconv.Itoa(n) + " metadata fields removed"
	default:
		return "low anonymity: only " + strconv.Itoa(n) + " metadata fields removed"
	}
}

// detectLeaks scans the serialized envelope for identifying substrings
// that survived the passes above.
func detectLeaks(root map[string]any) []string {
	warnings := []string{}
	data, err := json.Marshal(root)
	if err != nil {
		return append(warnings, "envelope could not be scanned for leaks")
	}
	text := strings.ToLower(string(data))
	for _, check := range leakChecks {
		if check.re.MatchString(text) {
			warnings = append(warnings, check.warning)
		}
	}
	return warnings
}
