package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/iac-studio/dbstack/internal/api/types"
	"github.com/iac-studio/dbstack/internal/schedule"
	"github.com/iac-studio/dbstack/internal/synth"
	"github.com/iac-studio/dbstack/pkg/config"
	appErr "github.com/iac-studio/dbstack/pkg/errors"
)

const maxScheduleCount = 50

// StackHandler serves the declared stack: its template and its schedules.
type StackHandler struct {
	cfg *config.StackConfig
	now func() time.Time
}

func NewStackHandler(cfg *config.StackConfig) *StackHandler {
	return &StackHandler{cfg: cfg, now: time.Now}
}

// Template renders the synthesized template as JSON (default) or YAML.
func (h *StackHandler) Template(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "yaml" {
		writeErrorStr(w, r, http.StatusBadRequest, "format must be json or yaml")
		return
	}

	tpl, err := synth.BuildDevDatabase(h.cfg.StackName, h.cfg.StackProps())
	if err != nil {
		writeError(w, r, err)
		return
	}
	digest, err := tpl.Digest()
	if err != nil {
		writeError(w, r, appErr.Wrap(err, appErr.CodeInternal, "digest template failed"))
		return
	}

	var body []byte
	contentType := "application/json"
	if format == "yaml" {
		body, err = tpl.YAML()
		contentType = "application/yaml"
	} else {
		body, err = tpl.JSON()
	}
	if err != nil {
		writeError(w, r, appErr.Wrap(err, appErr.CodeInternal, "render template failed"))
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Template-Digest", digest)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// Schedules lists the next fire times of the stop and start schedules.
func (h *StackHandler) Schedules(w http.ResponseWriter, r *http.Request) {
	count := 5
	if s := r.URL.Query().Get("count"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxScheduleCount {
			writeErrorStr(w, r, http.StatusBadRequest, "count must be between 1 and "+strconv.Itoa(maxScheduleCount))
			return
		}
		count = n
	}

	infos, err := schedule.Upcoming(h.cfg.StopSchedule, h.cfg.StartSchedule, h.now(), count)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: infos})
}
