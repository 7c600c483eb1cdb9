package api

import (
	"net/http"
	"pastebox/cfg"
	"pastebox/pkg/domain"
	"pastebox/svc/svc"
	"pastebox/svc/util"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
)

const (
	maxRequestSize = 1 << 20
	testNowHeader  = "X-Test-Now-Ms"
)

type Hdl struct {
	paste *svc.Paste
	cfg   *cfg.Cfg
	pages *pages
}

type CreateReq struct {
	Content    *string `json:"content"`
	TTLSeconds *int    `json:"ttl_seconds"`
	MaxViews   *int    `json:"max_views"`
}

func (c *CreateReq) Bind(*http.Request) error {
	if c.Content == nil {
		return domain.Validation("content is required")
	}
	return nil
}

type CreateResp struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type GetResp struct {
	Content        string     `json:"content"`
	RemainingViews *int       `json:"remaining_views"`
	ExpiresAt      *time.Time `json:"expires_at"`
}

func (h *Hdl) CreatePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestSize)
	var req CreateReq
	if err := render.Bind(r, &req); err != nil {
		var de *domain.Err
		if !errors.As(err, &de) {
			log.Warn().Err(err).Msg("invalid create request")
			err = domain.ErrInvalidRequest
		}
		writeErr(w, r, err)
		return
	}
	params := domain.CreateParams{
		Content:    *req.Content,
		TTLSeconds: req.TTLSeconds,
		MaxViews:   req.MaxViews,
	}
	paste, err := h.paste.Create(r.Context(), params)
	if err != nil {
		if !errors.Is(err, domain.ErrValidation) {
			log.Error().Err(err).Msg("failed to create paste")
		}
		writeErr(w, r, err)
		return
	}
	log.Info().
		Str("paste_id", paste.ID).
		Bool("ttl", paste.ExpiresAt != nil).
		Bool("max_views", paste.MaxViews != nil).
		Msg("paste created")
	render.Status(r, http.StatusOK)
	render.JSON(w, r, CreateResp{ID: paste.ID, URL: h.pasteURL(r, paste.ID)})
}

func (h *Hdl) GetPaste(w http.ResponseWriter, r *http.Request) {
	paste, err := h.consume(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	render.JSON(w, r, GetResp{
		Content:        paste.Content,
		RemainingViews: paste.RemainingViews(),
		ExpiresAt:      paste.ExpiresAt,
	})
}

// consume runs the shared read path of the JSON and HTML endpoints.
func (h *Hdl) consume(r *http.Request) (*domain.Paste, error) {
	log := hlog.FromRequest(r)
	id := chi.URLParam(r, "id")
	if !util.ValidID(id) {
		return nil, domain.ErrPasteNotFound
	}
	now, err := h.nowOverride(r)
	if err != nil {
		return nil, err
	}
	paste, err := h.paste.Get(r.Context(), id, now)
	if err != nil {
		if !domain.Gone(err) && !errors.Is(err, domain.ErrValidation) {
			log.Error().Err(err).Str("paste_id", id).Msg("get failed")
		}
		return nil, err
	}
	log.Info().
		Str("paste_id", id).
		Int("views", paste.ViewCount).
		Msg("paste retrieved")
	return paste, nil
}

// nowOverride reads the test clock header. Outside test mode it is ignored.
func (h *Hdl) nowOverride(r *http.Request) (*time.Time, error) {
	if !h.cfg.TestMode {
		return nil, nil
	}
	raw := strings.TrimSpace(r.Header.Get(testNowHeader))
	if raw == "" {
		return nil, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, domain.Validation("invalid " + testNowHeader + " header")
	}
	t := time.UnixMilli(ms).UTC()
	return &t, nil
}

func (h *Hdl) pasteURL(r *http.Request, id string) string {
	base := h.cfg.BaseURL
	if base == "" {
		proto := "http"
		if r.TLS != nil {
			proto = "https"
		}
		if fwd := r.Header.Get("X-Forwarded-Proto"); fwd == "http" || fwd == "https" {
			proto = fwd
		}
		base = proto + "://" + r.Host
	}
	return base + "/p/" + id
}

func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := domain.Status(err)
	if status >= http.StatusInternalServerError {
		util.Error().
			Err(err).
			Str("request_id", util.GetRequestID(r.Context())).
			Msg("internal error")
	}
	render.Status(r, status)
	render.JSON(w, r, domain.ToResp(err))
}
