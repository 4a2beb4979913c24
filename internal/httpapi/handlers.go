// Package httpapi exposes the playground over a small JSON API.
package httpapi

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gowebpki/jcs"
	"github.com/invopop/jsonschema"

	"github.com/aixgo-dev/playground/pkg/interp"
	"github.com/aixgo-dev/playground/pkg/observability"
	"github.com/aixgo-dev/playground/pkg/playground"
	"github.com/aixgo-dev/playground/pkg/security"
)

// DefaultMaxBodyBytes bounds request bodies when Options.MaxBodyBytes is unset.
const DefaultMaxBodyBytes = 2 << 20

// Options configures the API handler.
type Options struct {
	// MaxBodyBytes bounds request bodies.
	MaxBodyBytes int64
	// Limiter throttles requests per client. Nil disables rate limiting.
	Limiter *security.RateLimiter
}

// TextRequest is the body of PUT /api/program and PUT /api/environment.
type TextRequest struct {
	Text string `json:"text"`
}

// EvalRequest is the body of POST /api/eval.
type EvalRequest struct {
	Line string `json:"line"`
}

// OpenRequest is the body of POST /api/open. Token wins when both are set.
type OpenRequest struct {
	Token string `json:"token,omitempty"`
	URL   string `json:"url,omitempty"`
}

// ShareResponse is returned by GET /api/share.
type ShareResponse struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

type handler struct {
	pg      *playground.Playground
	limiter *security.RateLimiter
	maxBody int64
	schema  []byte
}

// NewHandler returns the API routes for pg.
func NewHandler(pg *playground.Playground, opts Options) (http.Handler, error) {
	if pg == nil {
		return nil, errors.New("missing playground")
	}
	schema, err := EnvironmentSchema()
	if err != nil {
		return nil, err
	}

	h := &handler{
		pg:      pg,
		limiter: opts.Limiter,
		maxBody: opts.MaxBodyBytes,
		schema:  append(schema, '\n'),
	}
	if h.maxBody <= 0 {
		h.maxBody = DefaultMaxBodyBytes
	}

	mux := http.NewServeMux()
	h.route(mux, "/api/state", h.handleState)
	h.route(mux, "/api/program", h.handleProgram)
	h.route(mux, "/api/environment", h.handleEnvironment)
	h.route(mux, "/api/environment/schema", h.handleSchema)
	h.route(mux, "/api/run", h.handleRun)
	h.route(mux, "/api/eval", h.handleEval)
	h.route(mux, "/api/clear", h.handleClear)
	h.route(mux, "/api/share", h.handleShare)
	h.route(mux, "/api/open", h.handleOpen)
	return mux, nil
}

// EnvironmentSchema returns the JSON Schema of the environment document.
func EnvironmentSchema() ([]byte, error) {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := reflector.Reflect(&interp.Environment{})
	schema.Title = "Playground environment"
	encoded, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode environment schema: %w", err)
	}
	return encoded, nil
}

// StateETag returns the strong entity tag of a snapshot: the sha256 of its
// canonical JSON.
func StateETag(snapshot playground.Snapshot) (string, error) {
	encoded, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	canonical, err := jcs.Transform(encoded)
	if err != nil {
		return "", fmt.Errorf("canonicalize snapshot: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return `"` + hex.EncodeToString(sum[:]) + `"`, nil
}

func (h *handler) route(mux *http.ServeMux, path string, fn http.HandlerFunc) {
	mux.Handle(path, h.instrument(path, fn))
}

// instrument applies per-client rate limiting and records request metrics
// under the route path.
func (h *handler) instrument(path string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: writer, status: http.StatusOK}

		if h.limiter != nil && !h.limiter.Allow(clientID(request)) {
			writeError(recorder, http.StatusTooManyRequests, "rate limit exceeded")
		} else {
			next(recorder, request)
		}

		observability.RecordHTTPRequest(request.Method, path, strconv.Itoa(recorder.status), time.Since(start))
	})
}

func (h *handler) handleState(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		writeError(writer, http.StatusMethodNotAllowed, "expected GET")
		return
	}

	snapshot := h.pg.Snapshot()
	etag, err := StateETag(snapshot)
	if err != nil {
		log.Printf("[HTTP] WARNING: state: %v", err)
		writeError(writer, http.StatusInternalServerError, security.PublicMessage(err))
		return
	}
	writer.Header().Set("ETag", etag)
	if matchesETag(request.Header.Get("If-None-Match"), etag) {
		writer.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(writer, http.StatusOK, snapshot)
}

func (h *handler) handleProgram(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPut {
		writeError(writer, http.StatusMethodNotAllowed, "expected PUT")
		return
	}
	var body TextRequest
	if !h.decode(writer, request, &body) {
		return
	}
	writeJSON(writer, http.StatusOK, h.pg.Dispatch(request.Context(), playground.ProgramEdited{Text: body.Text}))
}

func (h *handler) handleEnvironment(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPut {
		writeError(writer, http.StatusMethodNotAllowed, "expected PUT")
		return
	}
	var body TextRequest
	if !h.decode(writer, request, &body) {
		return
	}
	writeJSON(writer, http.StatusOK, h.pg.Dispatch(request.Context(), playground.EnvironmentEdited{Text: body.Text}))
}

func (h *handler) handleSchema(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		writeError(writer, http.StatusMethodNotAllowed, "expected GET")
		return
	}
	writer.Header().Set("Content-Type", "application/schema+json")
	writer.WriteHeader(http.StatusOK)
	_, _ = writer.Write(h.schema)
}

func (h *handler) handleRun(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writeError(writer, http.StatusMethodNotAllowed, "expected POST")
		return
	}
	writeJSON(writer, http.StatusOK, h.pg.Dispatch(request.Context(), playground.RunRequested{}))
}

func (h *handler) handleEval(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writeError(writer, http.StatusMethodNotAllowed, "expected POST")
		return
	}
	var body EvalRequest
	if !h.decode(writer, request, &body) {
		return
	}
	writeJSON(writer, http.StatusOK, h.pg.Dispatch(request.Context(), playground.LineSubmitted{Line: body.Line}))
}

func (h *handler) handleClear(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writeError(writer, http.StatusMethodNotAllowed, "expected POST")
		return
	}
	writeJSON(writer, http.StatusOK, h.pg.Dispatch(request.Context(), playground.ClearRequested{}))
}

func (h *handler) handleShare(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		writeError(writer, http.StatusMethodNotAllowed, "expected GET")
		return
	}
	token, url, err := h.pg.Share()
	if err != nil {
		log.Printf("[HTTP] WARNING: share: %v", err)
		writeError(writer, http.StatusInternalServerError, "encode document")
		return
	}
	writeJSON(writer, http.StatusOK, ShareResponse{Token: token, URL: url})
}

func (h *handler) handleOpen(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writeError(writer, http.StatusMethodNotAllowed, "expected POST")
		return
	}
	var body OpenRequest
	if !h.decode(writer, request, &body) {
		return
	}
	token := strings.TrimSpace(body.Token)
	if token == "" {
		token = strings.TrimSpace(body.URL)
	}
	if token == "" {
		writeError(writer, http.StatusBadRequest, "token or url is required")
		return
	}

	snapshot, err := h.pg.Load(request.Context(), token)
	switch {
	case errors.Is(err, playground.ErrInvalidToken):
		writeError(writer, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, playground.ErrClosed):
		writeError(writer, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		log.Printf("[HTTP] WARNING: open: %v", err)
		writeError(writer, http.StatusInternalServerError, security.PublicMessage(err))
		return
	}
	writeJSON(writer, http.StatusOK, snapshot)
}

func (h *handler) decode(writer http.ResponseWriter, request *http.Request, target any) bool {
	request.Body = http.MaxBytesReader(writer, request.Body, h.maxBody)
	payload, err := io.ReadAll(request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(writer, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(writer, http.StatusBadRequest, "read request body")
		return false
	}
	if err := json.Unmarshal(payload, target); err != nil {
		writeError(writer, http.StatusBadRequest, "decode request JSON")
		return false
	}
	return true
}

func matchesETag(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

func clientID(request *http.Request) string {
	host, _, err := net.SplitHostPort(request.RemoteAddr)
	if err != nil {
		return request.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeError(writer http.ResponseWriter, status int, message string) {
	writeJSON(writer, status, map[string]any{
		"ok":    false,
		"error": strings.TrimSpace(message),
	})
}

func writeJSON(writer http.ResponseWriter, status int, value any) {
	encoded, err := json.Marshal(value)
	if err != nil {
		http.Error(writer, `{"ok":false,"error":"encode response"}`, http.StatusInternalServerError)
		return
	}
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_, _ = writer.Write(append(encoded, '\n'))
}
