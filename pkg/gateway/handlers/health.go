package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/vocalis-ai/vocalis/pkg/core"
	"github.com/vocalis-ai/vocalis/pkg/gateway/config"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config config.Config

	// Feature flags resolved at wiring time.
	StoreReady    bool
	EmailReady    bool
	ResearchReady bool
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK            bool     `json:"ok"`
		AuthMode      string   `json:"auth_mode"`
		StoreReady    bool     `json:"store_ready"`
		EmailReady    bool     `json:"email_ready"`
		ResearchReady bool     `json:"research_ready"`
		Issues        []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 2)
	if err := h.Config.Validate(); err != nil {
		issues = append(issues, err.Error())
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, readyResp{
		OK:            ok,
		AuthMode:      string(h.Config.AuthMode),
		StoreReady:    h.StoreReady,
		EmailReady:    h.EmailReady,
		ResearchReady: h.ResearchReady,
		Issues:        issues,
	})
}

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_ = json.NewEncoder(w).Encode(map[string]*core.Error{
		"error": core.NewNotFoundError("unknown route"),
	})
}
