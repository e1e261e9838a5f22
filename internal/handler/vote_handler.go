package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"voteboard/internal/app/ledger"
	"voteboard/internal/pkg/errs"
	"voteboard/internal/pkg/resp"
)

// HandleVoteTotals returns every candidate total for late-joining clients.
func HandleVoteTotals(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		totals, err := deps.Ledger.Totals(r.Context())
		if err != nil {
			resp.RespondError(w, r, errs.Wrap(errs.ErrStoreUnavailable, err))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"votes": totals,
		})
	}
}

// HandleVoteCount returns the total of one candidate.
func HandleVoteCount(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		candidateID := chi.URLParam(r, "candidateId")

		count, err := deps.Ledger.Count(r.Context(), candidateID)
		switch {
		case errors.Is(err, ledger.ErrUnknownCandidate), errors.Is(err, ledger.ErrInvalidCandidate):
			resp.RespondError(w, r, errs.Wrap(errs.ErrUnknownCandidate, err))
			return
		case err != nil:
			resp.RespondError(w, r, errs.Wrap(errs.ErrStoreUnavailable, err))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"candidateId": candidateID,
			"count":       count,
		})
	}
}
