package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires HTTP routes to the server's handlers.
func NewRouter(s *Server) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/scan", s.handleScan)
	mux.HandleFunc("/reconcile", s.handleReconcile)
	mux.HandleFunc("/reports", s.handleReport)
	mux.HandleFunc("/artifacts/", s.handleArtifactDownload)
	return mux
}
