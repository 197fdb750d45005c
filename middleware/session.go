package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/fingerprint"
)

// SessionHandlers serves the login and session endpoints an admin UI needs.
// Mount Login and Refresh unauthenticated and the others behind
// RequireSession with a nil ActionFunc, so that polling Status does not count
// as activity.
type SessionHandlers struct {
	Engine *goGuard.Engine
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	SessionID    string    `json:"session_id"`
	Deadline     time.Time `json:"deadline"`
	RiskLevel    string    `json:"risk_level"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type extendRequest struct {
	Minutes int `json:"minutes"`
}

type statusResponse struct {
	State            string    `json:"state"`
	TimeRemainingSec int64     `json:"time_remaining_sec"`
	WarningVisible   bool      `json:"warning_visible"`
	RiskLevel        string    `json:"risk_level"`
	Deadline         time.Time `json:"deadline"`
}

// Register mounts the handlers under prefix. Routes other than login and
// refresh are wrapped with RequireSession.
func (h SessionHandlers) Register(mux *http.ServeMux, prefix string) {
	auth := RequireSession(h.Engine, nil)
	mux.HandleFunc(prefix+"/login", h.Login)
	mux.HandleFunc(prefix+"/refresh", h.Refresh)
	mux.Handle(prefix+"/session", auth(http.HandlerFunc(h.Status)))
	mux.Handle(prefix+"/session/extend", auth(http.HandlerFunc(h.Extend)))
	mux.Handle(prefix+"/session/dismiss", auth(http.HandlerFunc(h.Dismiss)))
	mux.Handle(prefix+"/logout", auth(http.HandlerFunc(h.Logout)))
}

// Login handles POST {"email","password"}.
func (h SessionHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Engine.Login(requestContext(r), req.Email, req.Password, fingerprint.FromRequest(r))
	switch {
	case err == nil:
	case errors.Is(err, goGuard.ErrLoginRateLimited):
		http.Error(w, "too many attempts", http.StatusTooManyRequests)
		return
	default:
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		SessionID:    res.SessionID,
		Deadline:     res.Deadline,
		RiskLevel:    res.RiskLevel.String(),
	})
}

// Refresh handles POST {"refresh_token"} and returns a new access token.
func (h SessionHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decode(w, r, &req) {
		return
	}
	access, err := h.Engine.Refresh(requestContext(r), req.RefreshToken, fingerprint.FromRequest(r))
	switch {
	case err == nil:
	case errors.Is(err, goGuard.ErrRefreshRateLimited):
		http.Error(w, "slow down", http.StatusTooManyRequests)
		return
	default:
		unauthorized(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": access})
}

// Status reports the session state for the warning banner.
func (h SessionHandlers) Status(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		unauthorized(w)
		return
	}
	st, err := h.Engine.Status(claims.SessionID)
	if err != nil || st.State.Terminal() || st.State == goGuard.StateAnonymous {
		unauthorized(w)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		State:            string(st.State),
		TimeRemainingSec: int64(st.TimeRemaining / time.Second),
		WarningVisible:   st.WarningVisible,
		RiskLevel:        st.RiskLevel.String(),
		Deadline:         st.Deadline,
	})
}

// Extend handles POST {"minutes"} from the warning banner.
func (h SessionHandlers) Extend(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		unauthorized(w)
		return
	}
	var req extendRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Engine.ExtendSession(requestContext(r), claims.SessionID, req.Minutes)
	switch {
	case err == nil:
	case errors.Is(err, goGuard.ErrRefreshRateLimited):
		http.Error(w, "slow down", http.StatusTooManyRequests)
		return
	default:
		unauthorized(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": res.AccessToken,
		"deadline":     res.Deadline,
	})
}

// Dismiss hides the warning banner until it is due again.
func (h SessionHandlers) Dismiss(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		unauthorized(w)
		return
	}
	if err := h.Engine.DismissWarning(requestContext(r), claims.SessionID); err != nil {
		unauthorized(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Logout ends the session.
func (h SessionHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		unauthorized(w)
		return
	}
	if err := h.Engine.Logout(requestContext(r), claims.SessionID); err != nil {
		http.Error(w, "logout failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	if err := dec.Decode(dst); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
