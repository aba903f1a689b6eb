package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/fateline/internal/common"
	"github.com/ternarybob/fateline/internal/interfaces"
)

// SystemHandler serves version and health endpoints
type SystemHandler struct {
	llm      interfaces.LLMService
	sessions interfaces.SessionStorage
	logger   arbor.ILogger
}

// NewSystemHandler creates a new SystemHandler
func NewSystemHandler(llm interfaces.LLMService, sessions interfaces.SessionStorage, logger arbor.ILogger) *SystemHandler {
	return &SystemHandler{
		llm:      llm,
		sessions: sessions,
		logger:   logger,
	}
}

// VersionHandler handles GET /api/version
func (h *SystemHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version":    common.GetVersion(),
		"build":      common.GetBuild(),
		"git_commit": common.GetGitCommit(),
	})
}

// HealthHandler handles GET /api/health. Storage failures are fatal to health;
// an unavailable LLM provider is reported but keeps the service up since the
// offline engine paths still work.
func (h *SystemHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	count, err := h.sessions.Count(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Health check: session storage unavailable")
		WriteError(w, http.StatusServiceUnavailable, "session storage unavailable")
		return
	}

	llmStatus := "ok"
	if h.llm == nil {
		llmStatus = "disabled"
	} else if err := h.llm.HealthCheck(r.Context()); err != nil {
		llmStatus = "unavailable: " + err.Error()
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": count,
		"llm":      llmStatus,
	})
}
