// Package relay is a pass-through proxy that lets browser clients reach the image
// synthesis endpoint: it answers CORS preflight itself and forwards everything else
// to the vendor host untouched.
package relay

import (
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

const (
	preflightMethods = "POST, GET, OPTIONS"
	preflightHeaders = "Content-Type, Authorization, Accept, Origin, X-Requested-With"
	responseMethods  = "GET, POST, PUT, DELETE, OPTIONS"
	responseHeaders  = "Content-Type, Authorization"
	preflightMaxAge  = "86400"
)

// Options configures the relay. TargetScheme defaults to https.
type Options struct {
	TargetHost   string
	TargetScheme string
	Transport    http.RoundTripper
	Logger       *zap.Logger
}

// NewHandler builds the relay router.
func NewHandler(opts Options) http.Handler {
	if opts.TargetScheme == "" {
		opts.TargetScheme = "https"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.Recoverer)
	r.Use(withRequestLogging(opts.Logger))
	r.Use(preflight)
	r.Handle("/*", newProxy(opts))
	return r
}

func preflight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", preflightMethods)
		h.Set("Access-Control-Allow-Headers", preflightHeaders)
		h.Set("Access-Control-Max-Age", preflightMaxAge)
		w.WriteHeader(http.StatusNoContent)
	})
}

func newProxy(opts Options) *httputil.ReverseProxy {
	logger := opts.Logger
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Scheme = opts.TargetScheme
			pr.Out.URL.Host = opts.TargetHost
			pr.Out.Host = opts.TargetHost
			// The vendor rejects browser-origin requests.
			pr.Out.Header.Del("Origin")
			pr.Out.Header.Del("Referer")
			pr.Out.Header.Set("Content-Type", "application/json")
		},
		Transport: opts.Transport,
		ModifyResponse: func(resp *http.Response) error {
			h := resp.Header
			h.Set("Access-Control-Allow-Origin", "*")
			h.Set("Access-Control-Allow-Methods", responseMethods)
			h.Set("Access-Control-Allow-Headers", responseHeaders)
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("relay upstream failed",
				zap.String("path", r.URL.Path),
				zap.String("target", opts.TargetHost),
				zap.Error(err),
			)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		},
	}
}

func withRequestLogging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("relay request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
