// -----------------------------------------------------------------------
// Last Modified: Thursday, 15th October 2026 2:31:48 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package server

import (
	"net/http"
	"strings"

	"github.com/ternarybob/tempo/internal/common"
	"github.com/ternarybob/tempo/internal/models"
	"github.com/ternarybob/tempo/internal/services/scheduler"
)

// StatusResponse is the body of GET /api/status
type StatusResponse struct {
	Version string                 `json:"version"`
	Events  *models.StatusCounts   `json:"events"`
	Queues  map[string]int64       `json:"queues,omitempty"`
	Jobs    []*scheduler.JobStatus `json:"jobs,omitempty"`
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", GetOnly(s.handleHealth))
	mux.Handle("/metrics", s.app.Metrics.Handler())

	mux.HandleFunc("/api/usage", GetOnly(s.handleUsage))   // geocoding quota
	mux.HandleFunc("/api/status", GetOnly(s.handleStatus)) // raw record counts, queue depth, jobs
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes)        // POST /api/jobs/{name}/run

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.app.VenueResolver == nil {
		WriteError(w, http.StatusServiceUnavailable, "venue resolver not configured")
		return
	}
	stats, err := s.app.VenueResolver.UsageStats(r.Context())
	if err != nil {
		s.app.Logger.Error().Err(err).Msg("Failed to read usage stats")
		WriteError(w, http.StatusInternalServerError, "failed to read usage stats")
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	counts, err := s.app.StorageManager.EventStorage().CountByStatus(ctx)
	if err != nil {
		s.app.Logger.Error().Err(err).Msg("Failed to count raw records")
		WriteError(w, http.StatusInternalServerError, "failed to count records")
		return
	}

	resp := &StatusResponse{
		Version: common.GetVersion(),
		Events:  counts,
	}

	if s.app.Queues != nil {
		resp.Queues = make(map[string]int64, 2)
		for _, q := range s.app.Queues.All() {
			n, err := q.Len(ctx)
			if err != nil {
				s.app.Logger.Warn().Err(err).Str("queue", q.Name()).Msg("Failed to read queue length")
				n = -1
			}
			resp.Queues[q.Name()] = n
		}
	}

	if s.app.SchedulerService != nil {
		resp.Jobs = s.app.SchedulerService.Statuses()
	}

	WriteJSON(w, http.StatusOK, resp)
}

// handleJobRoutes triggers a scheduled job outside its schedule
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	name, action, ok := strings.Cut(path, "/")
	if !ok || name == "" || action != "run" {
		http.NotFound(w, r)
		return
	}

	RouteByMethod(w, r, MethodRouter{
		http.MethodPost: func(w http.ResponseWriter, r *http.Request) {
			if s.app.SchedulerService == nil {
				WriteError(w, http.StatusServiceUnavailable, "scheduler not running")
				return
			}
			if err := s.app.SchedulerService.TriggerJob(name); err != nil {
				WriteError(w, http.StatusNotFound, err.Error())
				return
			}
			s.app.Logger.Info().Str("job_name", name).Msg("Job triggered via HTTP")
			WriteJSON(w, http.StatusAccepted, map[string]string{
				"status": "started",
				"job":    name,
			})
		},
	})
}
