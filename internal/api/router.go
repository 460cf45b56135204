// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/parkfabric/internal/metrics"
)

// RouterConfig carries the pieces of the Chi middleware stack that vary
// by deployment, mirroring NewChiMiddlewareFromAuth's inputs.
type RouterConfig struct {
	CORSAllowedOrigins []string
	RateLimitDisabled  bool
}

// NewRouter builds the full §6 HTTP/WebSocket surface on top of d.
// Edge-facing endpoints require X-Edge-ID (RequireEdgeIdentity); every
// route is wrapped with request-id logging, panic recovery, CORS,
// security headers and request metrics, and the /api/edge, /api/parking
// and /api/p2p groups add their own rate limit (/healthz, /metrics and
// /ws/* are not rate limited), matching the teacher's layering in
// chi_middleware.go.
func NewRouter(d *Deps, rc RouterConfig) http.Handler {
	mwCfg := DefaultChiMiddlewareConfig()
	mwCfg.CORSAllowedOrigins = rc.CORSAllowedOrigins
	mwCfg.RateLimitDisabled = rc.RateLimitDisabled
	mw := NewChiMiddleware(mwCfg)

	r := chi.NewRouter()
	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.Recoverer)
	r.Use(mw.CORS())
	r.Use(APISecurityHeaders())
	r.Use(metricsMiddleware)

	r.Get("/healthz", handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/edge", func(r chi.Router) {
		r.Use(mw.RateLimitSync())
		r.With(RequireEdgeIdentity()).Post("/event", d.HandleEdgeEvent)
		r.With(RequireEdgeIdentity()).Post("/heartbeat", d.HandleEdgeHeartbeat)
		r.With(RequireEdgeIdentity()).Post("/ocr", d.HandleEdgeOCR)
		r.With(RequireEdgeIdentity()).Get("/status", d.HandleEdgeStatus)
	})

	r.Route("/api/parking", func(r chi.Router) {
		r.Use(mw.RateLimitByIP())
		r.Get("/history", d.HandleListHistory)
		r.With(mw.RateLimitWrite()).Put("/history/{id}", d.HandleUpdateHistory)
		r.With(mw.RateLimitWrite()).Delete("/history/{id}", d.HandleDeleteHistory)
		r.Get("/occupancy", d.HandleOccupancy)
		r.With(mw.RateLimitWrite()).Post("/lots", d.HandleUpsertLot)
		r.With(mw.RateLimitWrite()).Put("/lots", d.HandleUpsertLot)
	})

	r.Route("/api/p2p", func(r chi.Router) {
		r.Use(mw.RateLimitByRealIP())
		r.Post("/register-peer", d.HandleRegisterPeer)
		r.Post("/unregister-peer", d.HandleUnregisterPeer)
		r.Post("/add-peer", d.HandleAddPeer)
		r.Get("/info", d.HandleP2PInfo)
	})

	r.Route("/ws", func(r chi.Router) {
		r.Get("/history", d.HandleWSHistory)
		r.Get("/cameras", d.HandleWSCameras)
		r.Get("/p2p", d.HandleWSPeer)
		r.Get("/edge", d.HandleWSEdge)
	})

	return r
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]string{"status": "ok"})
}

// metricsMiddleware records every request's latency and status under
// RecordAPIRequest, using the route pattern rather than the raw path so
// templated segments like {id} don't blow up metric cardinality.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = r.URL.Path
		}
		metrics.RecordAPIRequest(r.Method, pattern, strconv.Itoa(ww.Status()), time.Since(start))
	})
}
