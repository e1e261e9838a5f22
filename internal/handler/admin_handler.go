package handler

import (
	"crypto/subtle"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"voteboard/internal/app/presence"
	"voteboard/internal/pkg/errs"
	"voteboard/internal/pkg/limiter"
	"voteboard/internal/pkg/logx"
	"voteboard/internal/pkg/req"
	"voteboard/internal/pkg/resp"
)

type AdminInput struct {
	Password string `json:"password" validate:"required,max=128"`
}

// HandleResetVotes clears the vote ledger and tells every client.
func HandleResetVotes(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !authorizeAdmin(w, r, deps) {
			return
		}

		if err := deps.Ledger.Reset(r.Context()); err != nil {
			resp.RespondError(w, r, errs.Wrap(errs.ErrStoreUnavailable, err))
			return
		}

		notify(deps, presence.TypeVotesReset, "All votes have been reset.")
		logx.Warn("Admin reset votes.", "ip", logx.AnonymizeIP(limiter.ClientIP(r)))

		resp.RespondSuccess(w, r, map[string]any{
			"message": "All votes have been reset.",
		})
	}
}

// HandleResetUsers clears the vote ledger and every identity, then tells every client.
func HandleResetUsers(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !authorizeAdmin(w, r, deps) {
			return
		}

		if err := deps.Ledger.Reset(r.Context()); err != nil {
			resp.RespondError(w, r, errs.Wrap(errs.ErrStoreUnavailable, err))
			return
		}

		if err := deps.Identities.Reset(r.Context()); err != nil {
			// votes are gone already; clients must still drop their totals
			notify(deps, presence.TypeVotesReset, "All votes have been reset.")
			resp.RespondError(w, r, errs.Wrap(errs.ErrStoreUnavailable, err))
			return
		}

		notify(deps, presence.TypeFullReset, "All users and votes have been reset.")
		logx.Warn("Admin reset users and votes.", "ip", logx.AnonymizeIP(limiter.ClientIP(r)))

		resp.RespondSuccess(w, r, map[string]any{
			"message": "All users and votes have been reset.",
		})
	}
}

// authorizeAdmin binds the request body and checks the shared secret, writing the error
// response itself when it returns false.
func authorizeAdmin(w http.ResponseWriter, r *http.Request, deps *AppDeps) bool {
	var input AdminInput
	if customErr := req.BindJSON(w, r, &input); customErr != nil {
		resp.RespondError(w, r, customErr)
		return false
	}

	if !checkAdminPassword(deps, input.Password) {
		logx.Warn("Admin request rejected: wrong password.", "path", r.URL.Path, "ip", logx.AnonymizeIP(limiter.ClientIP(r)))
		resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
		return false
	}
	return true
}

func checkAdminPassword(deps *AppDeps, password string) bool {
	if hash := deps.Config.AdminPasswordBcrypt; hash != "" {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(deps.Config.AdminPassword)) == 1
}

func notify(deps *AppDeps, msgType presence.MessageType, message string) {
	if err := deps.Hub.Broadcast(msgType, presence.ResetPayload{Message: message}); err != nil {
		logx.Error(err, "Failed to broadcast reset notice", "msg_type", string(msgType))
	}
}
