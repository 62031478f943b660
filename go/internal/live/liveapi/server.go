package liveapi

import (
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Routes is anything that mounts handlers on a mux.
type Routes interface {
	RegisterRoutes(mux *http.ServeMux)
}

// NewServer serves the given routes plus /health behind CORS with HTTP/2
// cleartext support.
func NewServer(addr string, routes ...Routes) *http.Server {
	mux := http.NewServeMux()

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	for _, r := range routes {
		r.RegisterRoutes(mux)
	}
	setupHealthCheck(mux)

	return &http.Server{
		Addr:    addr,
		Handler: h2c.NewHandler(c.Handler(mux), &http2.Server{}),
	}
}

func setupHealthCheck(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
}
