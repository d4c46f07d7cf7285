// Package httpserver exposes the platform over HTTP: route table, server
// lifecycle and the wiring point for middleware.
package httpserver

import (
	"net/http"

	"chargenet/internal/http/handlers"
	"chargenet/internal/http/middleware"
)

// RouterDeps collects handler dependencies.
type RouterDeps struct {
	Auth      *handlers.AuthHandlers
	Stations  *handlers.StationHandlers
	Sessions  *handlers.SessionHandlers
	Payments  *handlers.PaymentHandlers
	Analytics *handlers.AnalyticsHandlers
	WS        http.Handler
	Health    http.HandlerFunc
}

// NewRouter wires the route table. authMW guards everything under /api/v1
// except the public auth endpoints, which instead go through rateLimitMW.
func NewRouter(deps RouterDeps, authMW, rateLimitMW func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()

	public := func(h http.HandlerFunc) http.Handler {
		return middleware.Chain(h, rateLimitMW)
	}
	protected := func(h http.HandlerFunc) http.Handler {
		return middleware.Chain(h, authMW)
	}

	mux.Handle("GET /health", deps.Health)

	mux.Handle("POST /api/v1/auth/register", public(deps.Auth.Register))
	mux.Handle("POST /api/v1/auth/login", public(deps.Auth.Login))
	mux.Handle("POST /api/v1/auth/refresh", public(deps.Auth.Refresh))
	mux.Handle("GET /api/v1/auth/me", protected(deps.Auth.Me))
	mux.Handle("POST /api/v1/auth/logout", protected(deps.Auth.Logout))
	mux.Handle("POST /api/v1/auth/change-password", protected(deps.Auth.ChangePassword))

	mux.Handle("POST /api/v1/stations", protected(deps.Stations.Create))
	mux.Handle("GET /api/v1/stations", protected(deps.Stations.List))
	mux.Handle("GET /api/v1/stations/nearby", protected(deps.Stations.Nearby))
	mux.Handle("GET /api/v1/stations/stats", protected(deps.Stations.Stats))
	mux.Handle("GET /api/v1/stations/{id}", protected(deps.Stations.Get))
	mux.Handle("PATCH /api/v1/stations/{id}", protected(deps.Stations.Update))
	mux.Handle("DELETE /api/v1/stations/{id}", protected(deps.Stations.Delete))
	mux.Handle("POST /api/v1/stations/{id}/ports", protected(deps.Stations.AddPort))
	mux.Handle("PATCH /api/v1/stations/{id}/ports/{portID}/status", protected(deps.Stations.UpdatePortStatus))

	mux.Handle("POST /api/v1/ports/{id}/reserve", protected(deps.Sessions.Reserve))
	mux.Handle("POST /api/v1/ports/{id}/sessions", protected(deps.Sessions.Start))
	mux.Handle("POST /api/v1/ports/{id}/fault", protected(deps.Sessions.ReportFault))
	mux.Handle("DELETE /api/v1/ports/{id}/fault", protected(deps.Sessions.ClearFault))
	mux.Handle("PATCH /api/v1/sessions/{id}/energy", protected(deps.Sessions.Energy))
	mux.Handle("POST /api/v1/sessions/{id}/end", protected(deps.Sessions.End))
	mux.Handle("GET /api/v1/sessions", protected(deps.Sessions.List))
	mux.Handle("GET /api/v1/sessions/{id}", protected(deps.Sessions.Get))
	mux.Handle("POST /api/v1/bookings/{id}/cancel", protected(deps.Sessions.CancelBooking))
	mux.Handle("GET /api/v1/bookings", protected(deps.Sessions.ListBookings))

	mux.Handle("POST /api/v1/payments/intent", protected(deps.Payments.CreateIntent))
	mux.Handle("POST /api/v1/payments/confirm", protected(deps.Payments.Confirm))
	mux.Handle("GET /api/v1/payments", protected(deps.Payments.History))
	mux.Handle("GET /api/v1/payments/stale", protected(deps.Payments.Stale))
	mux.Handle("POST /api/v1/payments/{id}/refund", protected(deps.Payments.Refund))
	mux.Handle("POST /api/v1/subscriptions", protected(deps.Payments.CreateSubscription))
	mux.Handle("DELETE /api/v1/subscriptions", protected(deps.Payments.CancelSubscription))

	mux.Handle("GET /api/v1/analytics/revenue", protected(deps.Analytics.Revenue))
	mux.Handle("GET /api/v1/analytics/revenue/export", protected(deps.Analytics.RevenueExport))
	mux.Handle("GET /api/v1/analytics/demand", protected(deps.Analytics.Demand))
	mux.Handle("GET /api/v1/analytics/maintenance", protected(deps.Analytics.Maintenance))

	if deps.WS != nil {
		mux.Handle("GET /api/v1/ws", deps.WS)
	}

	return mux
}
