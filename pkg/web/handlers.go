package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sprintgate/sprintgate-go/pkg/model"
	"github.com/sprintgate/sprintgate-go/pkg/race"
	"github.com/sprintgate/sprintgate-go/pkg/store"
	"github.com/sprintgate/sprintgate-go/pkg/timing"
)

// TimingStatusResponse is the body of /api/timing_status.
type TimingStatusResponse struct {
	TimingMode       string  `json:"timing_mode"`
	GPSStatus        string  `json:"gps_status"`
	Satellites       int     `json:"satellites"`
	Precision        string  `json:"precision"`
	PrecisionSeconds float64 `json:"precision_seconds"`
}

// RunnerTimes is one entry of GET /admin/runners.
type RunnerTimes struct {
	ID    int64           `json:"id"`
	Name  string          `json:"name"`
	Times []store.RunTime `json:"times"`
}

func (s *Server) snapshot() race.Snapshot {
	if s.config.Live == nil {
		return race.Snapshot{
			TimingMode: timing.ModeSystem.String(),
			GPSStatus:  timing.GPSStatusUnknown,
			State:      race.StateIdle.String(),
		}
	}
	return s.config.Live.Snapshot()
}

func (s *Server) liveData(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	if s.config.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "no store configured")
		return
	}
	lb, err := s.config.Store.Leaderboard(r.Context())
	if err != nil {
		s.logger.Error("leaderboard query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "leaderboard unavailable")
		return
	}
	if lb.Top == nil {
		lb.Top = []store.Entry{}
	}
	writeJSON(w, http.StatusOK, lb)
}

func (s *Server) timingStatus(w http.ResponseWriter, _ *http.Request) {
	var (
		mode timing.Mode
		gps  timing.GPSStatus
	)
	if s.config.Timing != nil {
		mode = s.config.Timing.Mode()
		gps = s.config.Timing.GPSStatus()
	} else {
		snap := s.snapshot()
		parsed, err := timing.ParseMode(snap.TimingMode)
		if err != nil {
			parsed = timing.ModeSystem
		}
		mode = parsed
		gps = timing.GPSStatus{Status: snap.GPSStatus}
	}
	writeJSON(w, http.StatusOK, TimingStatusResponse{
		TimingMode:       mode.String(),
		GPSStatus:        gps.Status,
		Satellites:       gps.Satellites,
		Precision:        mode.PrecisionClass(),
		PrecisionSeconds: mode.Precision(),
	})
}

// liveStream pushes every published snapshot to a websocket client.
func (s *Server) liveStream(w http.ResponseWriter, r *http.Request) {
	if s.config.Live == nil {
		writeError(w, http.StatusServiceUnavailable, "no live source")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	s.streams.Add(1)
	defer s.streams.Done()
	defer conn.Close()

	updates, cancel := s.config.Live.Subscribe()
	defer cancel()

	ctx, stop := context.WithCancel(r.Context())
	defer stop()

	// Reader: detects client close and discards inbound messages.
	go func() {
		defer stop()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(s.config.PingInterval)
	defer ping.Stop()

	s.logger.Debug("live stream opened", "remote", r.RemoteAddr)
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(s.config.WriteTimeout))
			s.logger.Debug("live stream closed", "remote", r.RemoteAddr)
			return
		case snap := <-updates:
			_ = conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := conn.WriteJSON(snap); err != nil {
				s.logger.Debug("live stream write failed", "error", err)
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) listRunners(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	runners, err := s.config.Store.GetAllRunners(r.Context())
	if err != nil {
		s.logger.Error("runner query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "runner query failed")
		return
	}
	out := make([]RunnerTimes, 0, len(runners))
	for _, runner := range runners {
		times, err := s.config.Store.GetRunnerTimes(r.Context(), runner.ID)
		if err != nil {
			s.logger.Error("time query failed", "runner_id", runner.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "time query failed")
			return
		}
		if times == nil {
			times = []store.RunTime{}
		}
		out = append(out, RunnerTimes{ID: runner.ID, Name: runner.Name, Times: times})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) addRunner(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := s.config.Store.AddRunner(r.Context(), req.Name)
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.logger.Info("runner added", "runner_id", id, "name", req.Name)
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "id": id})
}

func (s *Server) updateTime(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	var req struct {
		ID   int64    `json:"id"`
		Time *float64 `json:"time"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Time == nil {
		writeError(w, http.StatusBadRequest, "time is required")
		return
	}
	if err := s.config.Store.UpdateRunTime(r.Context(), req.ID, *req.Time); err != nil {
		s.storeError(w, err)
		return
	}
	s.logger.Info("run time updated", "time_id", req.ID, "time", *req.Time)
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) deleteTime(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	var req struct {
		ID int64 `json:"id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.config.Store.DeleteRunTime(r.Context(), req.ID); err != nil {
		s.storeError(w, err)
		return
	}
	s.logger.Info("run time deleted", "time_id", req.ID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.config.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "no store configured")
		return false
	}
	return true
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrInvalidTime), errors.Is(err, model.ErrInvalidRunner):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("store operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "store operation failed")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}
