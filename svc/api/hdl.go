package api

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"clipd/cfg"
	"clipd/pkg/domain"
	"clipd/svc/lim"
	"clipd/svc/svc"
	"clipd/svc/util"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
)

type Hdl struct {
	clip *svc.Clip
	user *svc.User
	cfg  *cfg.Cfg
}

type createClipReq struct {
	Content    string   `json:"content"`
	Expiration *float64 `json:"expiration,omitempty"`
	UserID     string   `json:"user_id,omitempty"`
}

type createClipResp struct {
	ClipID  string `json:"clip_id"`
	ExpDate string `json:"exp_date"`
}

func (h *Hdl) CreateClip(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "application/json" {
		log.Warn().Str("content_type", contentType).Msg("invalid Content-Type header")
		writeErr(w, r, domain.ErrInvalidRequest)
		return
	}

	// The JSON envelope adds overhead on top of the raw content, so the
	// body cap is looser than the content cap checked below.
	limit := h.cfg.MaxClipSize * 2
	if clHeader := r.Header.Get("Content-Length"); clHeader != "" {
		cl, err := strconv.ParseInt(clHeader, 10, 64)
		if err != nil || cl < 0 {
			writeErr(w, r, domain.ErrInvalidRequest)
			return
		}
		if cl > limit {
			log.Warn().Int64("content_length", cl).Msg("request body exceeds maximum")
			writeErr(w, r, domain.ErrContentTooLarge)
			return
		}
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	var req createClipReq
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if err == io.EOF {
			log.Warn().Msg("empty request body")
		} else {
			log.Warn().Err(err).Msg("invalid request body")
		}
		writeErr(w, r, domain.ErrInvalidRequest)
		return
	}
	if req.Content == "" {
		writeErr(w, r, domain.ErrContentRequired)
		return
	}

	hours := h.cfg.DefaultTTLHours
	if req.Expiration != nil {
		hours = *req.Expiration
		if hours <= 0 || hours > h.cfg.MaxTTLHours {
			log.Warn().Float64("expiration", hours).Msg("invalid expiration")
			writeErr(w, r, domain.ErrInvalidExpiration)
			return
		}
	}

	clip, err := h.clip.Create(r.Context(), domain.CreateParams{
		Content:  req.Content,
		Hours:    hours,
		ClientIP: lim.GetRealIP(r, h.cfg.TrustedProxies),
		UserID:   req.UserID,
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to create clip")
		writeErr(w, r, err)
		return
	}

	log.Info().
		Str("clip_id", clip.ID).
		Float64("hours", hours).
		Bool("owned", req.UserID != "").
		Msg("clip created")
	json.NewEncoder(w).Encode(createClipResp{
		ClipID:  clip.ID,
		ExpDate: clip.ExpiresAt.Format(time.RFC3339),
	})
}

func (h *Hdl) GetClip(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	id := r.URL.Query().Get("id")
	if id == "" {
		id = r.URL.Query().Get("clip_id")
	}
	if id == "" {
		writeErr(w, r, domain.ErrInvalidRequest)
		return
	}

	clip, err := h.clip.Get(r.Context(), id)
	if err != nil {
		if !errors.Is(err, domain.ErrClipNotFound) {
			log.Warn().Err(err).Str("clip_id", id).Msg("get failed")
		}
		writeErr(w, r, err)
		return
	}
	json.NewEncoder(w).Encode(clip)
}

func (h *Hdl) UserClips(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeErr(w, r, domain.ErrInvalidRequest)
		return
	}

	clips, err := h.clip.ListByUser(r.Context(), userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("list failed")
		writeErr(w, r, err)
		return
	}
	if clips == nil {
		clips = []domain.Clip{}
	}
	json.NewEncoder(w).Encode(map[string][]domain.Clip{"clips": clips})
}

// writeErr translates a service error into the wire shape {"error": msg}.
// Internals are masked and logged; the request id travels in the
// X-Request-ID response header, never the body.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	statusCode := domain.Status(err)
	msg := domain.Message(err)
	if statusCode >= 500 {
		msg = domain.ErrInternalServer.Msg
		util.Error().
			Err(err).
			Str("request_id", util.GetRequestID(r.Context())).
			Msg("internal error")
	}
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
