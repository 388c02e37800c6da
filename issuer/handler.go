package issuer

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const maxRequestBody = 1 << 20

// Handler serves a [Backend] over the JSON binding.
type Handler struct {
	backend Backend
	logger  *zap.Logger
	router  *mux.Router
}

// NewHandler routes every binding path to backend.
func NewHandler(backend Backend, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{backend: backend, logger: logger, router: mux.NewRouter()}
	h.Register(h.router)
	return h
}

// Register mounts the binding on r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc(PathToken, h.token).Methods(http.MethodPost)
	r.HandleFunc(PathSignup, h.signup).Methods(http.MethodPost)
	r.HandleFunc(PathRevoke, h.revoke).Methods(http.MethodPost)
	r.HandleFunc(PathUser, h.user).Methods(http.MethodGet)
	r.HandleFunc(PathLogout, h.logout).Methods(http.MethodPost)
	r.HandleFunc(PathRecover, h.recoverPassword).Methods(http.MethodPost)
	r.HandleFunc(PathReset, h.resetPassword).Methods(http.MethodPost)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) token(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("grant_type") {
	case grantPassword:
		var in Credentials
		if !h.decode(w, r, &in) {
			return
		}
		b, err := h.backend.Login(r.Context(), in)
		if err != nil {
			h.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toTokenBody(b))
	case grantRefresh:
		var in refreshRequest
		if !h.decode(w, r, &in) {
			return
		}
		b, err := h.backend.Refresh(r.Context(), in.RefreshToken)
		if err != nil {
			h.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toTokenBody(b))
	default:
		writeJSON(w, http.StatusBadRequest, newError(http.StatusBadRequest, CodeValidation, "unsupported grant_type"))
	}
}

func (h *Handler) signup(w http.ResponseWriter, r *http.Request) {
	var in Credentials
	if !h.decode(w, r, &in) {
		return
	}
	res, err := h.backend.Register(r.Context(), in)
	if err != nil {
		h.fail(w, err)
		return
	}
	out := signupBody{User: userBody{ID: res.Principal.ID, Email: res.Principal.Email}}
	if res.Bundle != nil {
		tb := toTokenBody(*res.Bundle)
		out.Session = &tb
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	var in revokeRequest
	if !h.decode(w, r, &in) {
		return
	}
	if err := h.backend.Revoke(r.Context(), bearer(r), in.Reason); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) user(w http.ResponseWriter, r *http.Request) {
	p, err := h.backend.Validate(r.Context(), bearer(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userBody{ID: p.ID, Email: p.Email})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.backend.SignOut(r.Context(), bearer(r)); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) recoverPassword(w http.ResponseWriter, r *http.Request) {
	var in recoverRequest
	if !h.decode(w, r, &in) {
		return
	}
	if err := h.backend.ForgotPassword(r.Context(), in.Email); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var in resetRequest
	if !h.decode(w, r, &in) {
		return
	}
	if err := h.backend.ResetPassword(r.Context(), in.Token, in.Password); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, into any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(into); err != nil {
		writeJSON(w, http.StatusBadRequest, newError(http.StatusBadRequest, CodeValidation, "malformed request body"))
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	var e *Error
	if errors.As(err, &e) {
		writeJSON(w, e.Status, e)
		return
	}
	h.logger.Error("issuer: backend failure", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, newError(http.StatusInternalServerError, CodeUnexpected, MsgUnexpected))
}

func bearer(r *http.Request) string {
	v := r.Header.Get("Authorization")
	if len(v) > 7 && strings.EqualFold(v[:7], "Bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
