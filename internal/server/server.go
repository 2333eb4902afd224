package server

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// APIKeyHeader carries the admin key on update requests.
const APIKeyHeader = "X-API-KEY"

func NewRouter(server *Server, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(compressMiddleware)
	r.Use(zapLoggerMiddleware(logger))

	r.Get("/health", server.health)
	if server.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(server.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/mics", server.mics)
		v1.Get("/mic2name", server.mic2name)
		v1.Get("/timezone", server.timezone)
		v1.Get("/special_days", server.specialDays)
		v1.Get("/special_days.ics", server.specialDaysICS)
		v1.Get("/classify_day", server.classifyDay)
		v1.Get("/next_special_days", server.nextSpecialDays)
		v1.Get("/next_business_days", server.nextBusinessDays)
	})

	if server.updater != nil {
		r.Post("/update", server.update)
	}

	return r
}

func compressMiddleware(next http.Handler) http.Handler {
	return gzhttp.GzipHandler(next)
}

func zapLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("query", maskQuery(r.URL.RawQuery)),
				zap.String("apiKey", maskKey(r.Header.Get(APIKeyHeader))),
				zap.String("requestID", middleware.GetReqID(r.Context())),
			)
			next.ServeHTTP(w, r)
		})
	}
}

// maskKey keeps the first four characters of a secret.
func maskKey(key string) string {
	switch {
	case key == "":
		return ""
	case len(key) > 4:
		return key[:4] + "****"
	default:
		return "****"
	}
}

// maskQuery masks any "key" parameter in a query string
func maskQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return rawQuery
	}
	if key := values.Get("key"); key != "" {
		values.Set("key", maskKey(key))
	}
	return values.Encode()
}
