// Package v1 is the JSON HTTP surface of the pull engine.
package v1

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/xtding233/gacha-pity/internal/errs"
	"github.com/xtding233/gacha-pity/internal/gacha"
	"github.com/xtding233/gacha-pity/internal/service/pull"
	"github.com/xtding233/gacha-pity/internal/service/simulation"
	"github.com/xtding233/gacha-pity/internal/storage"
)

const maxBodyBytes = 1 << 20

type PullService interface {
	ExecutePull(ctx context.Context, req pull.Request) (*pull.Response, error)
	PityOf(ctx context.Context, playerID, bannerID string) (gacha.PityState, error)
	History(ctx context.Context, playerID, bannerID string, limit int) ([]storage.PullRecord, error)
}

type SimulationService interface {
	Simulate(ctx context.Context, req simulation.Request) (*gacha.SimResult, error)
}

type BannerService interface {
	Create(ctx context.Context, b *gacha.Banner) (*gacha.Banner, error)
	Update(ctx context.Context, id string, b *gacha.Banner) (*gacha.Banner, error)
	Get(ctx context.Context, id string) (*gacha.Banner, error)
	ResetPity(ctx context.Context, playerID, bannerID string) error
}

type HandlerDeps struct {
	Pulls       PullService
	Simulations SimulationService
	Banners     BannerService
	Logger      *slog.Logger
}

type Handler struct {
	pulls   PullService
	sims    SimulationService
	banners BannerService
	log     *slog.Logger
}

func NewHandler(deps HandlerDeps) *Handler {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Handler{pulls: deps.Pulls, sims: deps.Simulations, banners: deps.Banners, log: log}
}

func decode[T any](w http.ResponseWriter, r *http.Request) (T, error) {
	var v T
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			return v, errs.Validation(errs.InvalidRequest, "request body is required")
		}
		return v, errs.Wrap(err, errs.InvalidRequest, errs.KindValidation, "malformed request body")
	}
	return v, nil
}

func (h *Handler) Pull(w http.ResponseWriter, r *http.Request) {
	payload, err := decode[PullRequest](w, r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	req := pull.Request{PlayerID: payload.PlayerID, BannerID: chi.URLParam(r, "bannerID"), Count: 1}
	if payload.Count != nil {
		if *payload.Count < 1 {
			writeError(w, r, h.log, errs.Validation(errs.InvalidCount, "count must be in 1..%d, got %d", pull.MaxPullCount, *payload.Count))
			return
		}
		req.Count = *payload.Count
	}
	res, err := h.pulls.ExecutePull(r.Context(), req)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, PullResponse{Results: res.Results, UpdatedPity: res.UpdatedPity, TotalCost: res.TotalCost})
}

func (h *Handler) Simulate(w http.ResponseWriter, r *http.Request) {
	payload, err := decode[SimulationRequest](w, r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	res, err := h.sims.Simulate(r.Context(), simulation.Request{
		BannerID: chi.URLParam(r, "bannerID"),
		Count:    payload.Count,
		Seed:     payload.Seed,
	})
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toSimulationResponse(res))
}

func (h *Handler) Pity(w http.ResponseWriter, r *http.Request) {
	st, err := h.pulls.PityOf(r.Context(), chi.URLParam(r, "playerID"), chi.URLParam(r, "bannerID"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, r, h.log, errs.Validation(errs.InvalidRequest, "limit must be a positive integer"))
			return
		}
		limit = n
	}
	recs, err := h.pulls.History(r.Context(), chi.URLParam(r, "playerID"), chi.URLParam(r, "bannerID"), limit)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if recs == nil {
		recs = []storage.PullRecord{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Pulls: recs})
}

func (h *Handler) CreateBanner(w http.ResponseWriter, r *http.Request) {
	payload, err := decode[gacha.Banner](w, r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	b, err := h.banners.Create(r.Context(), &payload)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *Handler) UpdateBanner(w http.ResponseWriter, r *http.Request) {
	payload, err := decode[gacha.Banner](w, r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	b, err := h.banners.Update(r.Context(), chi.URLParam(r, "bannerID"), &payload)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) GetBanner(w http.ResponseWriter, r *http.Request) {
	b, err := h.banners.Get(r.Context(), chi.URLParam(r, "bannerID"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) ResetPity(w http.ResponseWriter, r *http.Request) {
	err := h.banners.ResetPity(r.Context(), chi.URLParam(r, "playerID"), chi.URLParam(r, "bannerID"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
