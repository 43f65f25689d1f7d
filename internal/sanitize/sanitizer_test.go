package sanitize

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secure.mail/internal/logging"
	"secure.mail/internal/models"
)

func newTestSanitizer() *Sanitizer {
	return New(logging.Nop(), WithDelay(func() time.Duration { return 0 }))
}

// fixture holds at least one removable field for every toggle.
func fixture() models.Envelope {
	return models.Envelope{
		"id":        "secure_1",
		"content":   "hello",
		"from":      "rSender",
		"timestamp": int64(1700000000000),
		"clientIp":  "10.0.0.1",
		"userAgent": "Mozilla/5.0",
		"deviceId":  "device-42",
		"city":      "Athens",
		"attachments": []map[string]any{
			{"name": "IMG_1234.jpg", "size": 10, "type": "image/jpeg", "path": "/home/u/IMG_1234.jpg"},
		},
		"headers": map[string]string{
			"X-Forwarded-For": "proxy",
			"Content-Type":    "text/plain",
		},
	}
}

func TestStripAnonymityByToggleCount(t *testing.T) {
	tests := []struct {
		name string
		cfg  models.MetadataStrippingConfig
		k    int
		want models.AnonymityLevel
	}{
		{
			name: "all eight",
			cfg: models.MetadataStrippingConfig{
				StripTimestamps: true, StripIPAddresses: true, StripUserAgent: true, StripDeviceInfo: true,
				StripLocationData: true, StripFileMetadata: true, AnonymizeHeaders: true, UseRandomDelay: true,
			},
			k:    8,
			want: models.AnonymityHigh,
		},
		{
			name: "ip only",
			cfg:  models.MetadataStrippingConfig{StripIPAddresses: true},
			k:    1,
			want: models.AnonymityHigh,
		},
		{
			name: "high preset",
			cfg:  models.Presets()[models.PresetHigh].MetadataStripping,
			k:    6,
			want: models.AnonymityHigh,
		},
		{
			name: "none",
			cfg:  models.MetadataStrippingConfig{},
			k:    0,
			want: models.AnonymityLow,
		},
	}

	s := newTestSanitizer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cleaned := s.Strip(context.Background(), fixture(), tt.cfg)
			assert.Len(t, cleaned.Categories, tt.k)
			assert.Equal(t, tt.want, cleaned.AnonymityLevel)
		})
	}
}

func TestAnonymityThresholds(t *testing.T) {
	assert.Equal(t, models.AnonymityHigh, anonymityLevel(8, 8))
	assert.Equal(t, models.AnonymityHigh, anonymityLevel(4, 5))
	assert.Equal(t, models.AnonymityMedium, anonymityLevel(3, 5))
	assert.Equal(t, models.AnonymityMedium, anonymityLevel(4, 8))
	assert.Equal(t, models.AnonymityLow, anonymityLevel(3, 10))
	assert.Equal(t, models.AnonymityLow, anonymityLevel(0, 0))
}

func TestStripMissingFieldsLowersAnonymity(t *testing.T) {
	s := newTestSanitizer()
	cfg := models.MetadataStrippingConfig{
		StripUserAgent: true, StripDeviceInfo: true, StripLocationData: true,
	}
	cleaned := s.Strip(context.Background(), models.Envelope{"content": "hi", "city": "Oslo"}, cfg)

	assert.Equal(t, []string{string(CategoryLocation)}, cleaned.Categories)
	assert.Equal(t, models.AnonymityLow, cleaned.AnonymityLevel)
}

func TestStripDoesNotMutateInput(t *testing.T) {
	env := fixture()
	newTestSanitizer().Strip(context.Background(), env, models.Presets()[models.PresetMaximum].MetadataStripping)

	assert.Equal(t, "10.0.0.1", env["clientIp"])
	assert.Contains(t, env, "timestamp")
}

func TestStripTimestampsNested(t *testing.T) {
	env := models.Envelope{
		"content": "x",
		"meta": map[string]any{
			"createdAt": "2024-01-01",
			"keep":      "yes",
			"inner":     map[string]any{"sentTime": 1},
		},
	}
	cleaned := newTestSanitizer().Strip(context.Background(), env, models.MetadataStrippingConfig{StripTimestamps: true})

	meta := cleaned.Envelope["meta"].(map[string]any)
	assert.NotContains(t, meta, "createdAt")
	assert.Equal(t, "yes", meta["keep"])
	assert.Empty(t, meta["inner"])
	assert.Contains(t, cleaned.StrippedFields, "Timestamp: meta.createdAt")
	assert.Contains(t, cleaned.StrippedFields, "Timestamp: meta.inner.sentTime")
}

func TestStripIPAddresses(t *testing.T) {
	env := models.Envelope{
		"content":    "ping me at 192.168.1.20 or fe80:0000:0000:0000:0202:b3ff:fe1e:8329",
		"remoteAddr": "1.2.3.4:5555",
	}
	cleaned := newTestSanitizer().Strip(context.Background(), env, models.MetadataStrippingConfig{StripIPAddresses: true})

	assert.Equal(t, "ping me at [IP_REMOVED] or [IPv6_REMOVED]", cleaned.Envelope["content"])
	assert.NotContains(t, cleaned.Envelope, "remoteAddr")
	assert.Equal(t, []string{string(CategoryIPs)}, cleaned.Categories)
}

func TestStripFileMetadata(t *testing.T) {
	env := models.Envelope{
		"attachments": []any{
			map[string]any{"name": "Screenshot_20240101 2024-01-01 10:11:12.png", "size": 1, "type": "image/png", "lastModified": 1, "webkitRelativePath": "x"},
			map[string]any{"name": "DSC0042.jpg", "size": 2, "type": "image/jpeg"},
		},
	}
	cleaned := newTestSanitizer().Strip(context.Background(), env, models.MetadataStrippingConfig{StripFileMetadata: true})

	files := cleaned.Envelope["attachments"].([]any)
	first := files[0].(map[string]any)
	assert.Equal(t, "Screenshot_XXXX YYYY-MM-DD HH:MM:SS.png", first["name"])
	assert.Len(t, first, 3)
	assert.Equal(t, "DSC_XXXX.jpg", files[1].(map[string]any)["name"])
}

func TestAnonymizeHeaders(t *testing.T) {
	env := models.Envelope{
		"headers": map[string]any{
			"Cookie":        "a=b",
			"Authorization": "Bearer x",
			"X-Real-IP":     "proxy",
			"Content-Type":  "text/plain",
		},
	}
	cleaned := newTestSanitizer().Strip(context.Background(), env, models.MetadataStrippingConfig{AnonymizeHeaders: true})

	assert.Equal(t, map[string]any{"Content-Type": "text/plain"}, cleaned.Envelope["headers"])
}

func TestAlwaysOnPasses(t *testing.T) {
	env := models.Envelope{
		"content":   `hi<img src="https://x.io/track.gif"><img width="1" height="1" src="a.png"><script src="https://www.google-analytics.com/ga.js">ga()</script>!`,
		"sessionId": "s1",
		"nested":    map[string]any{"stack": "trace", "requestId": "r1", "ok": true},
	}
	cleaned := newTestSanitizer().Strip(context.Background(), env, models.MetadataStrippingConfig{})

	assert.Equal(t, "hi!", cleaned.Envelope["content"])
	assert.NotContains(t, cleaned.Envelope, "sessionId")
	assert.Equal(t, map[string]any{"ok": true}, cleaned.Envelope["nested"])
	assert.Empty(t, cleaned.Categories)
	assert.Equal(t, models.AnonymityLow, cleaned.AnonymityLevel)
}

func TestLeakWarnings(t *testing.T) {
	env := models.Envelope{
		"content": "mail me: alice@example.com, call +306912345678, see https://site.io/user/alice",
	}
	cleaned := newTestSanitizer().Strip(context.Background(), env, models.MetadataStrippingConfig{})

	assert.ElementsMatch(t, []string{
		"possible email address leak",
		"possible phone number leak",
		"possible personal URL leak",
	}, cleaned.Warnings)
}

func TestRandomDelay(t *testing.T) {
	s := New(logging.Nop(), WithDelay(func() time.Duration { return 20 * time.Millisecond }))
	cfg := models.MetadataStrippingConfig{UseRandomDelay: true}

	start := time.Now()
	cleaned := s.Strip(context.Background(), models.Envelope{"content": "x"}, cfg)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, []string{string(CategoryTiming)}, cleaned.Categories)
	assert.Equal(t, models.AnonymityHigh, cleaned.AnonymityLevel)
}

func TestRandomDelayHonorsContext(t *testing.T) {
	s := New(logging.Nop(), WithDelay(func() time.Duration { return time.Hour }))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cleaned := s.Strip(ctx, models.Envelope{"content": "x"}, models.MetadataStrippingConfig{UseRandomDelay: true})
	assert.Empty(t, cleaned.Categories)
}

func TestDefaultDelayRange(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := randomDelay()
		require.GreaterOrEqual(t, d, minDelay)
		require.Less(t, d, maxDelay)
	}
}

func TestStripNilEnvelope(t *testing.T) {
	cleaned := newTestSanitizer().Strip(context.Background(), nil, models.MetadataStrippingConfig{StripTimestamps: true})
	assert.NotNil(t, cleaned.Envelope)
	assert.Empty(t, cleaned.StrippedFields)
	assert.Empty(t, cleaned.Warnings)
}

func TestSummary(t *testing.T) {
	cases := []struct {
		level models.AnonymityLevel
		want  string
	}{
		{models.AnonymityHigh, "high anonymity: 2 metadata fields removed"},
		{models.AnonymityMedium, "medium anonymity: 2 metadata fields removed"},
		{models.AnonymityLow, "low anonymity: only 2 metadata fields removed"},
		{"", "low anonymity: only 2 metadata fields removed"},
	}
	for _, tc := range cases {
		t.Run(string(tc.level), func(t *testing.T) {
			got := Summary(models.CleanedEnvelope{
				StrippedFields: []string{"clientIp", "userAgent"},
				AnonymityLevel: tc.level,
			})
			assert.Equal(t, tc.want, got)
		})
	}
}
