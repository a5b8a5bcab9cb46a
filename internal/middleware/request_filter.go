package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/shikkhaloy/student-records-api/internal/metrics"
)

// Rejection reasons recorded in metrics. The client always receives the
// same generic response regardless of which check tripped.
const (
	rejectPayloadTooLarge = "payload_too_large"
	rejectBadContentType  = "bad_content_type"
	rejectMagicMismatch   = "magic_mismatch"
	rejectSuspiciousInput = "suspicious_input"
	rejectUnreadableBody  = "unreadable_body"
)

// fileSignature ties a content type to the magic bytes its payload must
// start with.
type fileSignature struct {
	contentType string
	prefixes    [][]byte
}

var uploadSignatures = []fileSignature{
	{
		contentType: "application/pdf",
		prefixes:    [][]byte{{0x25, 0x50, 0x44, 0x46}}, // "%PDF"
	},
	{
		contentType: "image/png",
		prefixes:    [][]byte{{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}},
	},
	{
		contentType: "image/jpeg",
		prefixes:    [][]byte{{0xFF, 0xD8, 0xFF}},
	},
	{
		contentType: "image/gif",
		prefixes: [][]byte{
			[]byte("GIF87a"),
			[]byte("GIF89a"),
		},
	},
	{
		// WEBP is RIFF....WEBP; the size bytes at offset 4 vary
		contentType: "image/webp",
		prefixes:    [][]byte{[]byte("RIFF")},
	},
}

// Deny-list patterns for script injection and SQL metacharacter abuse.
// Matching is case-insensitive and runs against every string value in
// the request, however deeply nested.
var (
	xssPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)<\s*script`),
		regexp.MustCompile(`(?i)<\s*/\s*script`),
		regexp.MustCompile(`(?i)javascript\s*:`),
		regexp.MustCompile(`(?i)vbscript\s*:`),
		regexp.MustCompile(`(?i)on(?:load|error|click|focus|blur|mouseover|submit)\s*=`),
		regexp.MustCompile(`(?i)<\s*iframe`),
		regexp.MustCompile(`(?i)<\s*object`),
		regexp.MustCompile(`(?i)<\s*embed`),
		regexp.MustCompile(`(?i)expression\s*\(`),
		regexp.MustCompile(`(?i)data\s*:\s*text/html`),
	}

	sqlPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bunion\b[\s(]+\bselect\b`),
		regexp.MustCompile(`(?i)\bselect\b.+\bfrom\b.+\bwhere\b`),
		regexp.MustCompile(`(?i)\binsert\b\s+\binto\b`),
		regexp.MustCompile(`(?i)\bdelete\b\s+\bfrom\b`),
		regexp.MustCompile(`(?i)\bdrop\b\s+\b(?:table|database)\b`),
		regexp.MustCompile(`(?i)\bor\b\s+['"]?\d+['"]?\s*=\s*['"]?\d+`),
		regexp.MustCompile(`(?i);\s*--`),
		regexp.MustCompile(`(?i)'\s*or\s*'`),
		regexp.MustCompile(`(?i)\bexec\b\s*\(`),
		regexp.MustCompile(`(?i)\bsleep\s*\(\s*\d`),
	}
)

// RequestFilterConfig controls the request filter behavior.
type RequestFilterConfig struct {
	// MaxBodyBytes is the largest accepted request body.
	MaxBodyBytes int64
	// BypassPaths are path prefixes exempt from filtering.
	BypassPaths []string
	// AllowedUploadTypes are the content types accepted in multipart
	// file parts.
	AllowedUploadTypes []string
}

// RequestFilter inspects incoming request bodies and query strings
// before they reach any handler. It fails closed: a body that cannot be
// read or parsed is rejected, never passed through unchecked.
type RequestFilter struct {
	cfg     RequestFilterConfig
	policy  *bluemonday.Policy
	allowed map[string]bool
	logger  *slog.Logger
}

// NewRequestFilter creates a new RequestFilter instance
func NewRequestFilter(cfg RequestFilterConfig, log *slog.Logger) *RequestFilter {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	allowed := make(map[string]bool, len(cfg.AllowedUploadTypes))
	for _, ct := range cfg.AllowedUploadTypes {
		allowed[strings.ToLower(strings.TrimSpace(ct))] = true
	}

	return &RequestFilter{
		cfg:     cfg,
		policy:  bluemonday.StrictPolicy(),
		allowed: allowed,
		logger:  log,
	}
}

// Handler returns the filtering middleware
func (f *RequestFilter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range f.cfg.BypassPaths {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		if r.ContentLength > f.cfg.MaxBodyBytes {
			f.reject(w, r, rejectPayloadTooLarge, http.StatusRequestEntityTooLarge,
				"PAYLOAD_TOO_LARGE", "Request body exceeds the maximum allowed size")
			return
		}

		if !f.scanQuery(r.URL.Query()) {
			f.reject(w, r, rejectSuspiciousInput, http.StatusBadRequest,
				"SUSPICIOUS_INPUT", "Request rejected")
			return
		}

		if r.Body == nil || r.Method == http.MethodGet || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}

		contentType := r.Header.Get("Content-Type")
		mediaType, params, err := mime.ParseMediaType(contentType)
		if err != nil {
			mediaType = ""
		}

		switch {
		case strings.HasPrefix(mediaType, "multipart/"):
			f.handleMultipart(w, r, next, params["boundary"])
		case mediaType == "application/json" || mediaType == "":
			f.handleJSON(w, r, next)
		default:
			// Form and other bodies get the same byte-level scan
			f.handleRaw(w, r, next)
		}
	})
}

// handleJSON reads, scans, and restores a JSON body
func (f *RequestFilter) handleJSON(w http.ResponseWriter, r *http.Request, next http.Handler) {
	body, ok := f.readBody(w, r)
	if !ok {
		return
	}

	if len(body) > 0 {
		var payload interface{}
		if err := json.Unmarshal(body, &payload); err != nil {
			// Not JSON after all; scan the raw bytes instead
			if !f.scanString(string(body)) {
				f.reject(w, r, rejectSuspiciousInput, http.StatusBadRequest,
					"SUSPICIOUS_INPUT", "Request rejected")
				return
			}
		} else if !f.scanValue(payload) {
			f.reject(w, r, rejectSuspiciousInput, http.StatusBadRequest,
				"SUSPICIOUS_INPUT", "Request rejected")
			return
		}
	}

	r.Body = io.NopCloser(bytes.NewReader(body))
	next.ServeHTTP(w, r)
}

// handleRaw scans a non-JSON, non-multipart body as text
func (f *RequestFilter) handleRaw(w http.ResponseWriter, r *http.Request, next http.Handler) {
	body, ok := f.readBody(w, r)
	if !ok {
		return
	}

	if !f.scanString(string(body)) {
		f.reject(w, r, rejectSuspiciousInput, http.StatusBadRequest,
			"SUSPICIOUS_INPUT", "Request rejected")
		return
	}

	r.Body = io.NopCloser(bytes.NewReader(body))
	next.ServeHTTP(w, r)
}

// handleMultipart validates file parts against the content type
// allow-list and magic bytes, and scans text parts like any other input.
func (f *RequestFilter) handleMultipart(w http.ResponseWriter, r *http.Request, next http.Handler, boundary string) {
	if boundary == "" {
		f.reject(w, r, rejectBadContentType, http.StatusBadRequest,
			"SUSPICIOUS_INPUT", "Request rejected")
		return
	}

	body, ok := f.readBody(w, r)
	if !ok {
		return
	}

	reader := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			f.reject(w, r, rejectUnreadableBody, http.StatusBadRequest,
				"SUSPICIOUS_INPUT", "Request rejected")
			return
		}

		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			f.reject(w, r, rejectUnreadableBody, http.StatusBadRequest,
				"SUSPICIOUS_INPUT", "Request rejected")
			return
		}

		if part.FileName() != "" {
			partType := strings.ToLower(part.Header.Get("Content-Type"))
			if mt, _, err := mime.ParseMediaType(partType); err == nil {
				partType = mt
			}

			if len(f.allowed) > 0 && !f.allowed[partType] {
				f.reject(w, r, rejectBadContentType, http.StatusBadRequest,
					"UNSUPPORTED_FILE_TYPE", "File type not allowed")
				return
			}

			if !matchesSignature(partType, data) {
				f.reject(w, r, rejectMagicMismatch, http.StatusBadRequest,
					"UNSUPPORTED_FILE_TYPE", "File content does not match its declared type")
				return
			}
		} else if !f.scanString(string(data)) {
			f.reject(w, r, rejectSuspiciousInput, http.StatusBadRequest,
				"SUSPICIOUS_INPUT", "Request rejected")
			return
		}
	}

	r.Body = io.NopCloser(bytes.NewReader(body))
	next.ServeHTTP(w, r)
}

// readBody slurps the request body up to the size cap and reports
// whether the caller may continue. On failure a response has already
// been written.
func (f *RequestFilter) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	limited := io.LimitReader(r.Body, f.cfg.MaxBodyBytes+1)
	body, err := io.ReadAll(limited)
	r.Body.Close()
	if err != nil {
		f.reject(w, r, rejectUnreadableBody, http.StatusBadRequest,
			"SUSPICIOUS_INPUT", "Request rejected")
		return nil, false
	}

	if int64(len(body)) > f.cfg.MaxBodyBytes {
		f.reject(w, r, rejectPayloadTooLarge, http.StatusRequestEntityTooLarge,
			"PAYLOAD_TOO_LARGE", "Request body exceeds the maximum allowed size")
		return nil, false
	}

	return body, true
}

// scanQuery checks every query parameter name and value
func (f *RequestFilter) scanQuery(values url.Values) bool {
	for key, vals := range values {
		if !f.scanString(key) {
			return false
		}
		for _, v := range vals {
			if !f.scanString(v) {
				return false
			}
		}
	}
	return true
}

// scanValue walks a decoded JSON document and checks every string leaf
func (f *RequestFilter) scanValue(v interface{}) bool {
	switch val := v.(type) {
	case string:
		return f.scanString(val)
	case map[string]interface{}:
		for key, inner := range val {
			if !f.scanString(key) {
				return false
			}
			if !f.scanValue(inner) {
				return false
			}
		}
	case []interface{}:
		for _, inner := range val {
			if !f.scanValue(inner) {
				return false
			}
		}
	}
	return true
}

// scanString reports whether a single string is clean. A string fails
// if a deny-list pattern matches or if HTML stripping changes it while
// it contains markup characters.
func (f *RequestFilter) scanString(s string) bool {
	if s == "" {
		return true
	}

	for _, re := range xssPatterns {
		if re.MatchString(s) {
			return false
		}
	}
	for _, re := range sqlPatterns {
		if re.MatchString(s) {
			return false
		}
	}

	// bluemonday catches markup the regexes miss. Plain text without
	// angle brackets is left alone so names like "O'Brien" survive.
	if strings.ContainsAny(s, "<>") {
		if f.policy.Sanitize(s) != s {
			return false
		}
	}

	return true
}

// matchesSignature checks file data against the magic bytes registered
// for its declared content type. Types without a registered signature
// are accepted as declared.
func matchesSignature(contentType string, data []byte) bool {
	for _, sig := range uploadSignatures {
		if sig.contentType != contentType {
			continue
		}
		for _, prefix := range sig.prefixes {
			if len(data) >= len(prefix) && bytes.Equal(data[:len(prefix)], prefix) {
				return true
			}
		}
		return false
	}
	return true
}

// reject writes the error response and records the rejection. The log
// line carries the reason; the client response never does.
func (f *RequestFilter) reject(w http.ResponseWriter, r *http.Request, reason string, status int, code, message string) {
	metrics.FilterRejectionsTotal.WithLabelValues(reason).Inc()

	f.logger.Warn("request rejected by input filter",
		slog.String("reason", reason),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := ErrorResponse{
		Success: false,
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
		Timestamp: time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}
