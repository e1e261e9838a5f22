package handler

import (
	"context"
	"net/http"
	"time"

	"voteboard/internal/pkg/logx"
	"voteboard/internal/pkg/resp"
)

const healthCheckTimeout = 3 * time.Second

type healthResponse struct {
	Status             string `json:"status"`
	Database           string `json:"database"`
	ActiveSessions     int    `json:"activeSessions"`
	IdentifiedSessions int    `json:"identifiedSessions"`
	Identities         int    `json:"identities"`
	RecordedVotes      int64  `json:"recordedVotes"`
}

// HandleHealth reports liveness, durable store reachability, session counts and the vote log size.
// A store outage degrades the status but never fails the endpoint.
func HandleHealth(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		res := healthResponse{
			Status:     "ok",
			Database:   "connected",
			Identities: deps.Identities.Count(),
		}

		if err := deps.Store.Ping(ctx); err != nil {
			logx.Warn("Health check: durable store unreachable.", "error", err.Error())
			res.Status = "degraded"
			res.Database = "unreachable"
		} else if n, err := deps.Store.VoteLogLength(ctx); err != nil {
			logx.Warn("Health check: vote log unreadable.", "error", err.Error())
			res.Status = "degraded"
		} else {
			res.RecordedVotes = n
		}

		stats, err := deps.Hub.Stats(ctx)
		if err != nil {
			logx.Warn("Health check: presence hub unavailable.", "error", err.Error())
			res.Status = "degraded"
		}
		res.ActiveSessions = stats.Sessions
		res.IdentifiedSessions = stats.Identified

		resp.RespondSuccess(w, r, res)
	}
}
