package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/fateline/internal/common"
	"github.com/ternarybob/fateline/internal/interfaces"
	"github.com/ternarybob/fateline/internal/models"
	"github.com/ternarybob/fateline/internal/services/calendar"
	"github.com/ternarybob/fateline/internal/services/export"
	"github.com/ternarybob/fateline/internal/services/fate"
	"github.com/ternarybob/fateline/internal/services/kline"
)

// FateHandler serves the fate analysis endpoints
type FateHandler struct {
	fate     FateGenerator
	sessions SessionCache
	exporter interfaces.ExportService
	logger   arbor.ILogger
}

// NewFateHandler creates a new FateHandler
func NewFateHandler(fateService FateGenerator, sessions SessionCache, exporter interfaces.ExportService, logger arbor.ILogger) *FateHandler {
	return &FateHandler{
		fate:     fateService,
		sessions: sessions,
		exporter: exporter,
		logger:   logger,
	}
}

// writeServiceError maps service errors to status codes
func (h *FateHandler) writeServiceError(w http.ResponseWriter, requestID string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, fate.ErrGenerationFailed):
		status = http.StatusBadGateway
	case errors.Is(err, calendar.ErrInvalidDate),
		errors.Is(err, kline.ErrInvalidLength),
		errors.Is(err, kline.ErrInvalidBaseline):
		status = http.StatusBadRequest
	}

	h.logger.Error().
		Str("request_id", requestID).
		Int("status", status).
		Err(err).
		Msg("Fate request failed")
	WriteError(w, status, err.Error())
}

// decodeBirthRequest decodes and validates a birth request body
func (h *FateHandler) decodeBirthRequest(w http.ResponseWriter, r *http.Request) (*models.BirthRequest, bool) {
	var req models.BirthRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	if err := req.Validate(); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	req.RequestID = common.EnsureRequestID(req.RequestID)
	return &req, true
}

// AnalyzeHandler handles POST /api/fate/analyze
func (h *FateHandler) AnalyzeHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	req, ok := h.decodeBirthRequest(w, r)
	if !ok {
		return
	}

	resp, err := h.fate.Analyze(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, req.RequestID, err)
		return
	}

	if err := h.sessions.UpsertKLine(r.Context(), resp.RequestID, resp.BaZiInfo, nil, resp.KLineData); err != nil {
		h.logger.Warn().Err(err).Str("request_id", resp.RequestID).Msg("Failed to cache K-line")
	}
	if err := h.sessions.UpsertReport(r.Context(), resp.RequestID, nil, resp.AnalysisReport); err != nil {
		h.logger.Warn().Err(err).Str("request_id", resp.RequestID).Msg("Failed to cache report")
	}

	WriteJSON(w, http.StatusOK, resp)
}

// BaZiHandler handles POST /api/fate/bazi. It computes the chart, generates the
// baseline and caches both for the K-line step.
func (h *FateHandler) BaZiHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	req, ok := h.decodeBirthRequest(w, r)
	if !ok {
		return
	}

	bazi, err := h.fate.CalculateBaZi(req)
	if err != nil {
		h.writeServiceError(w, req.RequestID, err)
		return
	}

	baseline, err := h.fate.GenerateBaseline(r.Context(), bazi, req.GenderLabel(), req.RequestID)
	if err != nil {
		h.writeServiceError(w, req.RequestID, err)
		return
	}

	if err := h.sessions.UpsertBaseline(r.Context(), req.RequestID, bazi, baseline.Baseline, baseline.Analysis); err != nil {
		h.writeServiceError(w, req.RequestID, err)
		return
	}

	WriteJSON(w, http.StatusOK, models.StepResponse{
		RequestID: req.RequestID,
		BaZiInfo:  bazi,
	})
}

// ReportHandler handles POST /api/fate/report
func (h *FateHandler) ReportHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	req, ok := h.decodeBirthRequest(w, r)
	if !ok {
		return
	}

	bazi, err := h.cachedBaZi(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, req.RequestID, err)
		return
	}

	report, err := h.fate.GenerateReport(r.Context(), bazi, req.GenderLabel(), req.RequestID)
	if err != nil {
		h.writeServiceError(w, req.RequestID, err)
		return
	}

	if err := h.sessions.UpsertReport(r.Context(), req.RequestID, bazi, report); err != nil {
		h.logger.Warn().Err(err).Str("request_id", req.RequestID).Msg("Failed to cache report")
	}

	WriteJSON(w, http.StatusOK, models.StepResponse{
		RequestID:      req.RequestID,
		AnalysisReport: report,
	})
}

// cachedBaZi returns the chart cached for the request, computing it on a miss
func (h *FateHandler) cachedBaZi(ctx context.Context, req *models.BirthRequest) (*models.BaZiInfo, error) {
	if session, err := h.sessions.Get(ctx, req.RequestID); err == nil && session.BaZi != nil {
		return session.BaZi, nil
	}
	return h.fate.CalculateBaZi(req)
}

// KLineHandler handles POST /api/fate/kline. It reuses the cached chart and
// baseline (generating the baseline on a miss), then either walks the fact
// table (mode "rules") or repairs supplied or generated yearly scores.
func (h *FateHandler) KLineHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var body models.KLineRequest
	if err := DecodeJSON(w, r, &body); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	req := &body.Request
	if err := req.Validate(); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	requestID := strings.TrimSpace(body.RequestID)
	if requestID == "" {
		requestID = req.RequestID
	}
	requestID = common.EnsureRequestID(requestID)
	req.RequestID = requestID

	ctx := r.Context()
	gender := req.GenderLabel()

	var bazi *models.BaZiInfo
	var baseline *int
	if session, err := h.sessions.Get(ctx, requestID); err == nil {
		bazi = session.BaZi
		baseline = session.Baseline
	}

	if bazi == nil {
		computed, err := h.fate.CalculateBaZi(req)
		if err != nil {
			h.writeServiceError(w, requestID, err)
			return
		}
		bazi = computed
	}

	if baseline == nil {
		result, err := h.fate.GenerateBaseline(ctx, bazi, gender, requestID)
		if err != nil {
			h.writeServiceError(w, requestID, err)
			return
		}
		if err := h.sessions.UpsertBaseline(ctx, requestID, bazi, result.Baseline, result.Analysis); err != nil {
			h.logger.Warn().Err(err).Str("request_id", requestID).Msg("Failed to cache baseline")
		}
		baseline = &result.Baseline
	}

	var (
		items  []kline.CandidateItem
		points []kline.Point
		err    error
	)
	if strings.EqualFold(strings.TrimSpace(body.Mode), models.KLineModeRules) {
		var facts []kline.YearlyFact
		facts, err = h.fate.GenerateFacts(ctx, bazi, gender, requestID)
		if err == nil {
			points, err = h.fate.BuildRuleKLine(facts, bazi, *baseline, requestID)
		}
	} else {
		items = body.YearlyItems
		if len(items) == 0 {
			items, err = h.fate.GenerateYearlyScores(ctx, bazi, gender, *baseline, requestID)
		}
		if err == nil {
			points, err = h.fate.BuildRepairedKLine(items, bazi, *baseline, requestID)
		}
	}
	if err != nil {
		h.writeServiceError(w, requestID, err)
		return
	}

	if err := h.sessions.UpsertKLine(ctx, requestID, bazi, items, points); err != nil {
		h.logger.Warn().Err(err).Str("request_id", requestID).Msg("Failed to cache K-line")
	}

	summary, err := kline.Summarize(points)
	if err != nil {
		h.writeServiceError(w, requestID, err)
		return
	}

	WriteJSON(w, http.StatusOK, models.StepResponse{
		RequestID: requestID,
		KLineData: points,
		Summary:   &summary,
	})
}

// writeCacheMiss answers 409 so clients know to run the K-line step first
func writeCacheMiss(w http.ResponseWriter, requestID string) {
	WriteJSON(w, http.StatusConflict, map[string]string{
		"status":    "error",
		"error":     "no cached K-line for request; call /api/fate/kline first",
		"requestId": requestID,
	})
}

// cachedKLine loads a live session that has a K-line
func (h *FateHandler) cachedKLine(ctx context.Context, requestID string) (*models.FateSession, bool) {
	session, err := h.sessions.Get(ctx, requestID)
	if err != nil {
		if !errors.Is(err, interfaces.ErrSessionNotFound) {
			h.logger.Warn().Err(err).Str("request_id", requestID).Msg("Session lookup failed")
		}
		return nil, false
	}
	return session, len(session.KLine) > 0
}

// YearlyHandler handles POST /api/fate/yearly; it only reads the cache
func (h *FateHandler) YearlyHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var body struct {
		RequestID string `json:"requestId"`
	}
	if err := DecodeJSON(w, r, &body); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	requestID := strings.TrimSpace(body.RequestID)
	if requestID == "" {
		WriteError(w, http.StatusBadRequest, "requestId is required")
		return
	}

	session, ok := h.cachedKLine(r.Context(), requestID)
	if !ok {
		writeCacheMiss(w, requestID)
		return
	}

	summary, err := kline.Summarize(session.KLine)
	if err != nil {
		h.writeServiceError(w, requestID, err)
		return
	}

	WriteJSON(w, http.StatusOK, models.StepResponse{
		RequestID:   requestID,
		YearlyItems: session.YearlyItems,
		KLineData:   session.KLine,
		Summary:     &summary,
	})
}

// ExportHandler handles GET /api/fate/export?requestId=...&format=pdf|html
func (h *FateHandler) ExportHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	requestID := strings.TrimSpace(r.URL.Query().Get("requestId"))
	if requestID == "" {
		WriteError(w, http.StatusBadRequest, "requestId is required")
		return
	}
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "pdf"
	}
	if format != "pdf" && format != "html" {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("unsupported format %q", format))
		return
	}

	session, ok := h.cachedKLine(r.Context(), requestID)
	if !ok {
		writeCacheMiss(w, requestID)
		return
	}

	doc := &models.ExportDocument{
		RequestID: requestID,
		BaZi:      session.BaZi,
		Points:    session.KLine,
		Report:    session.Report,
	}

	var (
		out         []byte
		err         error
		contentType string
	)
	if format == "html" {
		out, err = h.exporter.RenderHTML(doc)
		contentType = "text/html; charset=utf-8"
	} else {
		out, err = h.exporter.RenderPDF(doc)
		contentType = "application/pdf"
	}
	if err != nil {
		if errors.Is(err, export.ErrNothingToExport) {
			writeCacheMiss(w, requestID)
			return
		}
		h.writeServiceError(w, requestID, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="fateline-%s.%s"`, requestID, format))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out); err != nil {
		h.logger.Warn().Err(err).Str("request_id", requestID).Msg("Failed to write export")
	}
}
