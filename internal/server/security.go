package server

import "net/http"

// Every route here answers JSON, so the defaults forbid framing, script
// execution, and sniffing outright.
const (
	defaultFrameAncestors     = "'none'"
	defaultFrameOptions       = "DENY"
	defaultReferrerPolicy     = "no-referrer"
	defaultPermissionsPolicy  = "camera=(), microphone=(), geolocation=()"
	defaultContentTypeOptions = "nosniff"
)

// SecurityConfig overrides individual hardening headers. Empty fields keep
// the API defaults; a deployment that embeds the catalog behind a trusted
// studio frontend relaxes FrameAncestors to that origin.
type SecurityConfig struct {
	ContentSecurityPolicy string
	FrameAncestors        string
	FrameOptions          string
	ReferrerPolicy        string
	PermissionsPolicy     string
	ContentTypeOptions    string
}

func (cfg SecurityConfig) withDefaults() SecurityConfig {
	if cfg.FrameAncestors == "" {
		cfg.FrameAncestors = defaultFrameAncestors
	}
	if cfg.FrameOptions == "" {
		cfg.FrameOptions = defaultFrameOptions
	}
	if cfg.ReferrerPolicy == "" {
		cfg.ReferrerPolicy = defaultReferrerPolicy
	}
	if cfg.PermissionsPolicy == "" {
		cfg.PermissionsPolicy = defaultPermissionsPolicy
	}
	if cfg.ContentTypeOptions == "" {
		cfg.ContentTypeOptions = defaultContentTypeOptions
	}
	if cfg.ContentSecurityPolicy == "" {
		cfg.ContentSecurityPolicy = defaultContentSecurityPolicy(cfg.FrameAncestors)
	}
	return cfg
}

// defaultContentSecurityPolicy locks every fetch directive down. The video
// and thumbnail files live on the object-store origin and are linked, not
// embedded, so the API itself loads nothing.
func defaultContentSecurityPolicy(frameAncestors string) string {
	if frameAncestors == "" {
		frameAncestors = defaultFrameAncestors
	}
	return "default-src 'none'; " +
		"frame-ancestors " + frameAncestors + "; " +
		"base-uri 'none'; " +
		"form-action 'none'"
}

func securityHeadersMiddleware(cfg SecurityConfig, next http.Handler) http.Handler {
	effective := cfg.withDefaults()
	headers := [...][2]string{
		{"Content-Security-Policy", effective.ContentSecurityPolicy},
		{"X-Frame-Options", effective.FrameOptions},
		{"X-Content-Type-Options", effective.ContentTypeOptions},
		{"Referrer-Policy", effective.ReferrerPolicy},
		{"Permissions-Policy", effective.PermissionsPolicy},
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, header := range headers {
			if header[1] != "" {
				w.Header().Set(header[0], header[1])
			}
		}
		next.ServeHTTP(w, r)
	})
}
