package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"provisionr/internal/command"
	"provisionr/internal/types"
)

// maxBodyBytes caps template uploads and values bodies.
const maxBodyBytes = 10 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": msg})
}

func writeOK(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": msg})
}

// enqueue submits a command without blocking. A full queue is reported
// as 503 so installers retry instead of hanging.
func (s *Server) enqueue(w http.ResponseWriter, cmd command.Command) bool {
	select {
	case s.queue <- cmd:
		return true
	default:
		writeError(w, http.StatusServiceUnavailable, "command queue full")
		return false
	}
}

// await waits for the dispatcher's reply. ok=false means the error
// response has already been written.
func await[T any](w http.ResponseWriter, reply <-chan T) (T, bool) {
	var zero T
	select {
	case v, open := <-reply:
		if !open {
			writeError(w, http.StatusInternalServerError, "dispatcher stopped")
			return zero, false
		}
		return v, true
	case <-time.After(replyTimeout):
		writeError(w, http.StatusGatewayTimeout, "command timed out")
		return zero, false
	}
}

func (s *Server) postTemplateHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart request: %v", err))
		return
	}

	content, err := firstFile(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reply := make(chan error, 1)
	if !s.enqueue(w, command.SetTemplate{Name: name, Content: content, Reply: reply}) {
		return
	}
	errReply, ok := await(w, reply)
	if !ok {
		return
	}
	if errReply != nil {
		writeError(w, http.StatusBadRequest, errReply.Error())
		return
	}
	writeOK(w, fmt.Sprintf("Template %s uploaded successfully", name))
}

// firstFile returns the content of the first file field in the form.
func firstFile(r *http.Request) (string, error) {
	if r.MultipartForm == nil {
		return "", fmt.Errorf("no multipart form in request")
	}
	for _, headers := range r.MultipartForm.File {
		for _, header := range headers {
			f, err := header.Open()
			if err != nil {
				return "", fmt.Errorf("reading uploaded file: %w", err)
			}
			defer f.Close()
			data, err := io.ReadAll(io.LimitReader(f, maxBodyBytes))
			if err != nil {
				return "", fmt.Errorf("reading uploaded file: %w", err)
			}
			return string(data), nil
		}
	}
	return "", fmt.Errorf("no file field in multipart request")
}

func (s *Server) renderHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	// First value wins for repeated query parameters.
	query := make(map[string]string)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			query[key] = values[0]
		}
	}

	reply := make(chan command.RenderReply, 1)
	if !s.enqueue(w, command.Render{Name: name, Query: query, Reply: reply}) {
		return
	}
	rendered, ok := await(w, reply)
	if !ok {
		return
	}
	if rendered.Err != nil {
		writeError(w, http.StatusBadRequest, rendered.Err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, rendered.Content)
}

func (s *Server) deleteTemplateHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	reply := make(chan error, 1)
	if !s.enqueue(w, command.DeleteTemplate{Name: name, Reply: reply}) {
		return
	}
	errReply, ok := await(w, reply)
	if !ok {
		return
	}
	if errReply != nil {
		writeError(w, http.StatusBadRequest, errReply.Error())
		return
	}
	writeOK(w, fmt.Sprintf("Template %s deleted", name))
}

func (s *Server) putValuesHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("reading request body: %v", err))
		return
	}
	if !utf8.Valid(body) {
		writeError(w, http.StatusBadRequest, "request body is not valid UTF-8")
		return
	}

	reply := make(chan error, 1)
	if !s.enqueue(w, command.SetValues{Name: name, YAML: string(body), Reply: reply}) {
		return
	}
	errReply, ok := await(w, reply)
	if !ok {
		return
	}
	if errReply != nil {
		writeError(w, http.StatusBadRequest, errReply.Error())
		return
	}
	writeOK(w, fmt.Sprintf("Values for template %s updated", name))
}

func (s *Server) getConfigHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	reply := make(chan command.GetConfigReply, 1)
	if !s.enqueue(w, command.GetConfig{Name: name, Reply: reply}) {
		return
	}
	got, ok := await(w, reply)
	if !ok {
		return
	}
	if !got.Found {
		writeError(w, http.StatusNotFound, fmt.Sprintf("template %s not found", name))
		return
	}
	writeJSON(w, http.StatusOK, got.Config)
}

func (s *Server) putConfigHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("reading request body: %v", err))
		return
	}

	var cfg types.TemplateConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid config JSON: %v", err))
		return
	}
	if cfg.IDField == "" {
		cfg.IDField = types.DefaultIDField
	}

	reply := make(chan error, 1)
	if !s.enqueue(w, command.SetConfig{Name: name, Config: cfg, Reply: reply}) {
		return
	}
	errReply, ok := await(w, reply)
	if !ok {
		return
	}
	if errReply != nil {
		writeError(w, http.StatusBadRequest, errReply.Error())
		return
	}
	writeOK(w, fmt.Sprintf("Config for template %s updated", name))
}

func (s *Server) listRenderedHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	reply := make(chan command.ListRenderedReply, 1)
	if !s.enqueue(w, command.ListRendered{Name: name, Reply: reply}) {
		return
	}
	got, ok := await(w, reply)
	if !ok {
		return
	}
	if got.Err != nil {
		writeError(w, http.StatusInternalServerError, got.Err.Error())
		return
	}
	if got.Summaries == nil {
		got.Summaries = []types.RenderedSummary{}
	}
	writeJSON(w, http.StatusOK, got.Summaries)
}

func (s *Server) getRenderedHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	idValue := r.PathValue("id_value")

	reply := make(chan command.GetRenderedReply, 1)
	if !s.enqueue(w, command.GetRendered{Name: name, IDValue: idValue, Reply: reply}) {
		return
	}
	got, ok := await(w, reply)
	if !ok {
		return
	}
	if got.Err != nil {
		writeError(w, http.StatusInternalServerError, got.Err.Error())
		return
	}
	if !got.Found {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no rendered artifact for %s/%s", name, idValue))
		return
	}
	writeJSON(w, http.StatusOK, got.Artifact)
}
