package httpkit

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
)

// CORSOptions configures the CORS middleware. Empty lists take the defaults
// the batch API needs: uploads and polls from a browser, with X-Request-ID
// and Retry-After readable by the client.
type CORSOptions struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAgeSeconds    int
	DebugHeader      bool // agrega X-CORS-Debug para validar rápido en dev
}

// corsPolicy holds the pre-joined header values for one CORSOptions.
type corsPolicy struct {
	origins     []string
	anyOrigin   bool
	methods     string
	headers     string
	exposed     string
	maxAge      string
	credentials bool
	debug       bool
}

func orDefault(v []string, def ...string) string {
	if len(v) == 0 {
		v = def
	}
	return strings.Join(v, ", ")
}

func newCORSPolicy(opt CORSOptions) corsPolicy {
	maxAge := opt.MaxAgeSeconds
	if maxAge == 0 {
		maxAge = 600
	}
	origins := NormalizeList(opt.AllowedOrigins)
	return corsPolicy{
		origins:     origins,
		anyOrigin:   slices.Contains(origins, "*"),
		methods:     orDefault(opt.AllowedMethods, "GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"),
		headers:     orDefault(opt.AllowedHeaders, "Content-Type", "Authorization", "Accept", "X-Request-ID"),
		exposed:     orDefault(opt.ExposedHeaders, "X-Request-ID", "Retry-After"),
		maxAge:      strconv.Itoa(maxAge),
		credentials: opt.AllowCredentials,
		debug:       opt.DebugHeader,
	}
}

func (p corsPolicy) allows(origin string) bool {
	return origin != "" && (p.anyOrigin || slices.Contains(p.origins, origin))
}

func (p corsPolicy) apply(h http.Header, origin string) {
	h.Set("Access-Control-Allow-Origin", origin)
	h.Add("Vary", "Origin")
	h.Set("Access-Control-Allow-Methods", p.methods)
	h.Set("Access-Control-Allow-Headers", p.headers)
	h.Set("Access-Control-Max-Age", p.maxAge)
	h.Set("Access-Control-Expose-Headers", p.exposed)
	if p.credentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
}

// CORS echoes allowed origins back and answers every OPTIONS request with
// 204 without reaching the router.
func CORS(opt CORSOptions) func(http.Handler) http.Handler {
	p := newCORSPolicy(opt)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowed := p.allows(origin)

			if p.debug {
				w.Header().Set("X-CORS-Debug", "origin="+origin+" allowed="+strconv.FormatBool(allowed))
			}
			if allowed {
				p.apply(w.Header(), origin)
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NormalizeList trims entries and drops empty ones.
func NormalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
