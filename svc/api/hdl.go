package api

import (
	"bettergist/cfg"
	"bettergist/pkg/domain"
	"bettergist/svc/challenge"
	"bettergist/svc/lim"
	"bettergist/svc/svc"
	"bettergist/svc/util"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
)

// JSON escaping can blow content up well past its raw size.
const bodyOverhead = 64 * 1024

var errNoRoute = domain.NewErr("NOT_FOUND", "not found", http.StatusNotFound)

type Hdl struct {
	snippets *svc.Snippets
	cfg      *cfg.Cfg
}
type ChallengeReq struct {
	Token   string `json:"token"`
	Answer  string `json:"answer"`
	Website string `json:"website"`
}
type CreateReq struct {
	Files        []domain.File `json:"files"`
	Code         string        `json:"code"`
	FileName     string        `json:"fileName"`
	Challenge    ChallengeReq  `json:"challenge"`
	CaptchaToken string        `json:"captchaToken"`
}
type CreateResp struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Remaining int    `json:"remaining"`
}
type SnippetResp struct {
	ID    string        `json:"id"`
	Files []domain.File `json:"files"`
}
type StatsResp struct {
	Snippets int `json:"snippets"`
}

func NewHdl(s *svc.Snippets, c *cfg.Cfg) *Hdl {
	return &Hdl{snippets: s, cfg: c}
}
func (h *Hdl) CreateSnippet(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "application/json" {
		log.Warn().
			Str("content_type", contentType).
			Str("request_id", requestID).
			Msg("invalid Content-Type header")
		w.WriteHeader(http.StatusUnsupportedMediaType)
		json.NewEncoder(w).Encode(map[string]string{
			"error":      "expected Content-Type: application/json",
			"request_id": requestID,
		})
		return
	}
	limit := h.cfg.MaxSnippetSize*4 + bodyOverhead
	if r.ContentLength > limit {
		log.Warn().Int64("content_length", r.ContentLength).Msg("Content-Length exceeds maximum")
		writeErr(w, domain.ErrSnippetTooLarge, requestID)
		return
	}
	if ce := r.Header.Get("Content-Encoding"); ce != "" && ce != "identity" {
		log.Warn().Str("content_encoding", ce).Msg("compressed content not allowed")
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	var req CreateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeErr(w, domain.ErrSnippetTooLarge, requestID)
		case err == io.EOF:
			log.Warn().Msg("empty request body")
			writeErr(w, domain.ErrInvalidRequest, requestID)
		default:
			log.Warn().Err(err).Msg("invalid request")
			writeErr(w, domain.ErrInvalidRequest, requestID)
		}
		return
	}
	files := req.Files
	if len(files) == 0 && req.Code != "" {
		name := req.FileName
		if name == "" {
			name = "untitled.txt"
		}
		files = []domain.File{{Name: name, Content: req.Code}}
	}
	token := req.Challenge.Token
	if token == "" {
		token = req.CaptchaToken
	}
	res, err := h.snippets.Share(r.Context(), svc.ShareParams{
		Files: files,
		Proof: challenge.Proof{
			Token:    token,
			Answer:   req.Challenge.Answer,
			Honeypot: req.Challenge.Website,
			RemoteIP: lim.RemoteKey(r, h.cfg.TrustProxyHeaders),
		},
		ClientID: lim.ClientID(r),
	})
	if err != nil {
		var limited *svc.RateLimitedError
		if errors.As(err, &limited) {
			setLimitHeaders(w, limited.Limit)
			w.Header().Set("Retry-After", strconv.Itoa(int(limited.Limit.RetryAfter(time.Now()).Seconds())))
		}
		log.Warn().Err(err).Str("request_id", requestID).Msg("share failed")
		writeErr(w, err, requestID)
		return
	}
	setLimitHeaders(w, res.Limit)
	log.Info().
		Str("id", res.ID).
		Int("files", len(files)).
		Bool("fail_open", res.Limit.FailOpen).
		Msg("snippet created")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(CreateResp{
		ID:        res.ID,
		URL:       res.URL,
		Remaining: res.Limit.Remaining,
	})
}
func (h *Hdl) GetSnippet(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	sn, err := h.snippets.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrSnippetNotFound) {
			writeErr(w, domain.ErrSnippetNotFound, requestID)
			return
		}
		hlog.FromRequest(r).Error().Err(err).Str("id", id).Msg("get failed")
		if _, ok := domain.AsErr(err); ok {
			writeErr(w, err, requestID)
			return
		}
		writeErr(w, domain.ErrFetchFailed, requestID)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	json.NewEncoder(w).Encode(SnippetResp{ID: sn.ID, Files: sn.Files})
}
func (h *Hdl) GetChallenge(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	p, err := h.snippets.Verifier().Prompt()
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to issue challenge")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(p)
}
func (h *Hdl) GetStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=60")
	json.NewEncoder(w).Encode(StatsResp{Snippets: h.snippets.Count(r.Context())})
}
func writeErr(w http.ResponseWriter, err error, requestID string) {
	statusCode := domain.Status(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	errorMsg := domain.ToResp(err).Error.Msg
	if statusCode >= 500 {
		if statusCode == http.StatusInternalServerError && errorMsg != domain.ErrShareFailed.Msg {
			errorMsg = "internal server error"
		}
		util.Error().
			Err(err).
			Str("request_id", requestID).
			Msg("internal error with detailed info")
	}
	json.NewEncoder(w).Encode(map[string]string{
		"error":      errorMsg,
		"request_id": requestID,
	})
}
