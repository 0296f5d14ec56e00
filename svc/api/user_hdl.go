package api

import (
	"encoding/json"
	"io"
	"net/http"

	"clipd/pkg/domain"

	"github.com/rs/zerolog/hlog"
)

type credentialsReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (*credentialsReq, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, 16*1024)
	var req credentialsReq
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if err != io.EOF {
			hlog.FromRequest(r).Warn().Err(err).Msg("invalid request body")
		}
		writeErr(w, r, domain.ErrInvalidRequest)
		return nil, false
	}
	return &req, true
}

func (h *Hdl) CreateUser(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	req, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	user, err := h.user.Create(r.Context(), req.Username, req.Password)
	if err != nil {
		log.Warn().Err(err).Msg("registration failed")
		writeErr(w, r, err)
		return
	}
	log.Info().Str("user_id", user.ID).Msg("user registered")
	json.NewEncoder(w).Encode(map[string]string{"user_id": user.ID})
}

func (h *Hdl) Login(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	req, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	user, err := h.user.Verify(r.Context(), req.Username, req.Password)
	if err != nil {
		// Failure detail stays in the logs; the client sees one message
		// whether the username or the password was wrong.
		writeErr(w, r, err)
		return
	}
	log.Info().Str("user_id", user.ID).Msg("login succeeded")
	json.NewEncoder(w).Encode(user)
}

func (h *Hdl) GetUser(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeErr(w, r, domain.ErrInvalidRequest)
		return
	}
	user, err := h.user.Get(r.Context(), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	json.NewEncoder(w).Encode(user)
}
