package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/prevant-go/prevant/internal/apperr"
	"github.com/prevant-go/prevant/internal/infra"
	"github.com/prevant-go/prevant/internal/model"
	"github.com/prevant-go/prevant/internal/queue"
)

const (
	maxRequestBody  = 1 << 20
	defaultLogLimit = 500
	defaultSyncWait = 10 * time.Second
)

func parseAppName(r *http.Request) (model.AppName, error) {
	return model.NewAppName(mux.Vars(r)["appName"])
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleCreateOrUpdate implements `POST /apps/{appName}?replicateFrom=…`.
func (s *Server) handleCreateOrUpdate(w http.ResponseWriter, r *http.Request) {
	appName, err := parseAppName(r)
	if err != nil {
		writeError(w, err)
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, apperr.InvalidServiceConfig("reading request body: "+err.Error()))
		return
	}

	var body createOrUpdateBody
	switch trimmed := bytes.TrimSpace(raw); {
	case len(trimmed) == 0:
		// No body: a bare replicateFrom request.
	case trimmed[0] == '[':
		if err := json.Unmarshal(trimmed, &body.Services); err != nil {
			writeError(w, apperr.InvalidServiceConfig("decoding service config list: "+err.Error()))
			return
		}
	default:
		if err := json.Unmarshal(trimmed, &body); err != nil {
			writeError(w, apperr.InvalidServiceConfig("decoding request body: "+err.Error()))
			return
		}
	}

	var replicateFrom *model.AppName
	if raw := r.URL.Query().Get("replicateFrom"); raw != "" {
		name, err := model.NewAppName(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		replicateFrom = &name
	}

	payload := model.CreateOrUpdatePayload{
		ReplicateFrom:         replicateFrom,
		ServiceConfigs:        body.Services,
		Owners:                body.Owners,
		UserDefinedParameters: body.UserDefined,
	}

	statusID, err := s.orchestrator.CreateOrUpdate(r.Context(), appName, payload)
	if err != nil {
		writeError(w, err)
		return
	}
	s.respondToTask(w, r, appName, statusID)
}

// handleDelete implements `DELETE /apps/{appName}`.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	appName, err := parseAppName(r)
	if err != nil {
		writeError(w, err)
		return
	}
	statusID, err := s.orchestrator.Delete(r.Context(), appName)
	if err != nil {
		writeError(w, err)
		return
	}
	s.respondToTask(w, r, appName, statusID)
}

// respondToTask applies the sync/async selection spec.md's Prefer header
// describes to a freshly enqueued task, setting Location regardless of the
// outcome so an async caller can still poll it.
func (s *Server) respondToTask(w http.ResponseWriter, r *http.Request, appName model.AppName, statusID string) {
	location := fmt.Sprintf("/apps/%s/status-changes/%s", appName, statusID)
	w.Header().Set("Location", location)

	wait, async := parsePrefer(r.Header.Get("Prefer"))
	if async {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	result, status, found, err := s.orchestrator.TryWaitForTask(r.Context(), statusID, wait)
	if err != nil {
		writeError(w, err)
		return
	}
	if !found || status != queue.StatusDone {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if result.Err != nil {
		writeError(w, result.Err)
		return
	}
	writeJSON(w, http.StatusOK, toAppView(s.cache, *result.App))
}

// parsePrefer parses an RFC 7240-style `Prefer: respond-async, wait=N`
// header. A missing wait= defaults to defaultSyncWait.
func parsePrefer(header string) (wait time.Duration, async bool) {
	wait = defaultSyncWait
	if header == "" {
		return wait, false
	}
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "respond-async":
			async = true
		case strings.HasPrefix(part, "wait="):
			if secs, err := strconv.Atoi(strings.TrimPrefix(part, "wait=")); err == nil && secs >= 0 {
				wait = time.Duration(secs) * time.Second
			}
		}
	}
	return wait, async
}

// handleStatusChange implements `GET /apps/{appName}/status-changes/{id}`.
func (s *Server) handleStatusChange(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	result, status, found, err := s.orchestrator.TryWaitForTask(r.Context(), id, 0)
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if status != queue.StatusDone {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if result.Err != nil {
		writeError(w, result.Err)
		return
	}
	writeJSON(w, http.StatusOK, toAppView(s.cache, *result.App))
}

// handleListApps implements `GET /apps`.
func (s *Server) handleListApps(w http.ResponseWriter, r *http.Request) {
	apps, err := s.orchestrator.Apps(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]appView, 0, len(apps))
	for _, app := range apps {
		views = append(views, toAppView(s.cache, app))
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Name < views[j].Name })
	writeJSON(w, http.StatusOK, views)
}

// handleLogs implements
// `GET /apps/{appName}/logs/{service}?since&limit&asAttachment`.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	appName, err := parseAppName(r)
	if err != nil {
		writeError(w, err)
		return
	}
	serviceName := mux.Vars(r)["service"]

	opts := infra.LogOptions{Limit: defaultLogLimit}
	q := r.URL.Query()
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeError(w, apperr.InvalidServiceConfig("invalid since parameter: "+err.Error()))
			return
		}
		opts.Since = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, apperr.InvalidServiceConfig("invalid limit parameter"))
			return
		}
		opts.Limit = n
	}

	streaming := r.Header.Get("Accept") == "text/event-stream"
	opts.Follow = streaming

	lines, err := s.orchestrator.GetLogs(r.Context(), appName, serviceName, opts)
	if err != nil {
		writeError(w, err)
		return
	}

	if q.Get("asAttachment") == "true" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s-%s.log", appName, serviceName))
	}

	if streaming {
		streamLogsSSE(w, r, lines)
		return
	}
	writeLogChunk(w, appName, serviceName, lines, opts)
}

// writeLogChunk buffers a non-follow log stream fully before writing any
// headers, since the Link continuation header depends on the last line
// observed.
func writeLogChunk(w http.ResponseWriter, appName model.AppName, serviceName string, lines <-chan infra.LogLine, opts infra.LogOptions) {
	var buf bytes.Buffer
	var last time.Time
	count := 0
	for line := range lines {
		buf.WriteString(line.Line)
		buf.WriteByte('\n')
		last = line.Timestamp
		count++
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if count > 0 && !last.IsZero() {
		next := fmt.Sprintf("/apps/%s/logs/%s?since=%s&limit=%d",
			appName, serviceName, last.Add(time.Nanosecond).UTC().Format(time.RFC3339Nano), opts.Limit)
		w.Header().Set("Link", fmt.Sprintf(`<%s>; rel="next"`, next))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// streamLogsSSE relays a follow log stream as Server-Sent Events until the
// channel closes or the client disconnects.
func streamLogsSSE(w http.ResponseWriter, r *http.Request, lines <-chan infra.LogLine) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	for {
		select {
		case line, open := <-lines:
			if !open {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", line.Line)
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}

// handleChangeStatus implements `PUT /apps/{appName}/states/{service}`.
func (s *Server) handleChangeStatus(w http.ResponseWriter, r *http.Request) {
	appName, err := parseAppName(r)
	if err != nil {
		writeError(w, err)
		return
	}
	serviceName := mux.Vars(r)["service"]

	var body changeStatusBody
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&body); err != nil {
		writeError(w, apperr.InvalidServiceConfig("decoding request body: "+err.Error()))
		return
	}
	status, err := parseServiceStatus(body.Status)
	if err != nil {
		writeError(w, err)
		return
	}

	svc, err := s.orchestrator.ChangeStatus(r.Context(), appName, serviceName, status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toServiceView(s.cache, appName, *svc))
}

func parseServiceStatus(raw string) (model.ServiceStatus, error) {
	switch strings.ToLower(raw) {
	case "running":
		return model.ServiceStatusRunning, nil
	case "paused":
		return model.ServiceStatusPaused, nil
	default:
		return 0, apperr.InvalidServiceConfig(fmt.Sprintf("unknown service status %q", raw))
	}
}
