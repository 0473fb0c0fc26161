package transport

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jeffersonwarrior/llmtransport/internal/http1"
)

// RateLimitInfo contains parsed rate limit information from response headers.
// Supports OpenAI, Anthropic, and Google Gemini header formats.
type RateLimitInfo struct {
	LimitRequests     int           // Maximum requests allowed in the current window
	RemainingRequests int           // Remaining requests in the current window
	ResetRequests     time.Duration // Time until the request limit resets
	LimitTokens       int           // Maximum tokens allowed in the current window
	RemainingTokens   int           // Remaining tokens in the current window
	ResetTokens       time.Duration // Time until the token limit resets
	RetryAfter        time.Duration // Time to wait before retrying (from Retry-After header)
}

// String returns a human-readable representation of rate limit info.
func (r *RateLimitInfo) String() string {
	var parts []string

	if r.LimitRequests > 0 || r.RemainingRequests > 0 {
		parts = append(parts, "requests="+strconv.Itoa(r.RemainingRequests)+"/"+strconv.Itoa(r.LimitRequests))
	}
	if r.LimitTokens > 0 || r.RemainingTokens > 0 {
		parts = append(parts, "tokens="+strconv.Itoa(r.RemainingTokens)+"/"+strconv.Itoa(r.LimitTokens))
	}
	if r.ResetRequests > 0 {
		parts = append(parts, "reset_req="+r.ResetRequests.String())
	}
	if r.ResetTokens > 0 {
		parts = append(parts, "reset_tok="+r.ResetTokens.String())
	}
	if r.RetryAfter > 0 {
		parts = append(parts, "retry_after="+r.RetryAfter.String())
	}

	if len(parts) == 0 {
		return "RateLimit{}"
	}
	return "RateLimit{" + strings.Join(parts, ", ") + "}"
}

// rateLimitField maps one header to an int field of RateLimitInfo. Later
// vendors only fill fields earlier ones left at zero.
type rateLimitField struct {
	header string
	field  func(*RateLimitInfo) *int
}

var (
	limitRequests     = func(r *RateLimitInfo) *int { return &r.LimitRequests }
	remainingRequests = func(r *RateLimitInfo) *int { return &r.RemainingRequests }
	limitTokens       = func(r *RateLimitInfo) *int { return &r.LimitTokens }
	remainingTokens   = func(r *RateLimitInfo) *int { return &r.RemainingTokens }
)

var countHeaders = []rateLimitField{
	// OpenAI
	{"X-Ratelimit-Limit-Requests", limitRequests},
	{"X-Ratelimit-Remaining-Requests", remainingRequests},
	{"X-Ratelimit-Limit-Tokens", limitTokens},
	{"X-Ratelimit-Remaining-Tokens", remainingTokens},
	// Anthropic
	{"Anthropic-Ratelimit-Requests-Limit", limitRequests},
	{"Anthropic-Ratelimit-Requests-Remaining", remainingRequests},
	{"Anthropic-Ratelimit-Tokens-Limit", limitTokens},
	{"Anthropic-Ratelimit-Tokens-Remaining", remainingTokens},
	// Google Gemini
	{"X-Goog-Ratelimit-Limit", limitRequests},
	{"X-Goog-Ratelimit-Remaining", remainingRequests},
}

// ParseRateLimitHeaders extracts rate limit information from response
// headers, matching names case-insensitively. Returns nil if no rate limit
// headers are found.
//
// Supported header formats:
//   - OpenAI: X-Ratelimit-Limit-Requests, X-Ratelimit-Remaining-Requests, etc.
//   - Anthropic: Anthropic-Ratelimit-Requests-Limit, etc.
//   - Google: X-Goog-Ratelimit-Limit, X-Goog-Ratelimit-Remaining
//   - Standard: Retry-After (seconds or HTTP date)
//
// Invalid values are silently skipped.
func ParseRateLimitHeaders(headers map[string][]string) *RateLimitInfo {
	info := &RateLimitInfo{}
	foundAny := false

	for _, h := range countHeaders {
		dst := h.field(info)
		if *dst != 0 {
			continue
		}
		if val := http1.HeaderValue(headers, h.header); val != "" {
			if n, err := strconv.Atoi(val); err == nil {
				*dst = n
				foundAny = true
			}
		}
	}

	if val := http1.HeaderValue(headers, "X-Ratelimit-Reset-Requests"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			info.ResetRequests = d
			foundAny = true
		}
	}
	if val := http1.HeaderValue(headers, "X-Ratelimit-Reset-Tokens"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			info.ResetTokens = d
			foundAny = true
		}
	}

	// Retry-After header (standard)
	if val := http1.HeaderValue(headers, "Retry-After"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil {
			info.RetryAfter = time.Duration(seconds) * time.Second
			foundAny = true
		} else if t, err := http.ParseTime(val); err == nil {
			info.RetryAfter = max(time.Until(t), 0)
			foundAny = true
		}
	}

	if !foundAny {
		return nil
	}
	return info
}

// sensitiveHeaders are masked before headers are logged.
var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"proxy-authorization": true,
	"x-api-key":           true,
	"api-key":             true,
	"x-goog-api-key":      true,
}

// sanitizeHeaders returns h with credential values masked.
func sanitizeHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if sensitiveHeaders[strings.ToLower(k)] {
			v = sanitizeCredential(v)
		}
		out[k] = v
	}
	return out
}

// sanitizeCredential masks a header value, keeping an auth scheme such as
// "Bearer" readable.
func sanitizeCredential(v string) string {
	if scheme, token, ok := strings.Cut(v, " "); ok {
		return scheme + " " + sanitizeAPIKey(token)
	}
	return sanitizeAPIKey(v)
}

// sanitizeAPIKey masks sensitive parts of an API key for logging.
// Shows first 3 characters and last 7 characters, masks the rest.
// Format: "sk-1234567890abcdef..." -> "sk-***abcdef"
func sanitizeAPIKey(key string) string {
	if key == "" {
		return ""
	}

	keyLen := len(key)

	// For very short keys, show only last few chars
	if keyLen <= 5 {
		return "***" + key[max(0, keyLen-2):]
	}

	// For short keys (6-10 chars), show first 3 and last 3
	if keyLen <= 10 {
		return key[:3] + "***" + key[keyLen-3:]
	}

	// For normal keys, show first 3 and last 7
	return key[:3] + "***" + key[keyLen-7:]
}
