package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/twilio/twilio-go/client"

	"github.com/fabfab/campus-assistant/chat"
	"github.com/fabfab/campus-assistant/ingestion"
	"github.com/fabfab/campus-assistant/knowledge"
)

const (
	statusSuccess = "success"
	statusError   = "error"

	// InternalErrorMessage is the webhook message when a reply could not be sent.
	InternalErrorMessage = "Error interno"
	// UnexpectedErrorMessage is sent to the user, best effort, when delivering
	// the real reply failed.
	UnexpectedErrorMessage = "Lo siento, ocurrió un error inesperado. Por favor, intenta de nuevo más tarde."

	signatureHeader = "X-Twilio-Signature"
	bearerPrefix    = "Bearer "
)

// ErrOutsideDataDir is returned for ingestion paths that resolve outside DataDir.
var ErrOutsideDataDir = errors.New("path is outside the data directory")

// Conversation turns an inbound message into a reply.
type Conversation interface {
	Handle(ctx context.Context, sender, message string) string
}

// Sender delivers a reply to a WhatsApp number.
type Sender interface {
	Send(ctx context.Context, to, body string) (string, error)
}

type Answerer interface {
	Answer(ctx context.Context, question string) chat.Response
}

type Ingester interface {
	Run(ctx context.Context, paths []string, opts ingestion.RunOptions) (ingestion.Report, error)
	IngestDirectory(ctx context.Context, dir string, opts ingestion.RunOptions) (ingestion.Report, error)
}

type SourceLister interface {
	Sources(ctx context.Context) ([]knowledge.SourceSummary, error)
}

// SignatureValidator checks the X-Twilio-Signature of a webhook call.
type SignatureValidator interface {
	Validate(url string, params map[string]string, expectedSignature string) bool
}

// NewTwilioValidator validates signatures with the account auth token.
func NewTwilioValidator(authToken string) SignatureValidator {
	validator := client.NewRequestValidator(authToken)
	return &validator
}

// Deps are the services the HTTP API exposes. Conversation and Sender are
// required for /hook; the others may be nil and their endpoints then answer 503.
type Deps struct {
	Conversation Conversation
	Sender       Sender
	Answerer     Answerer
	Ingester     Ingester
	Sources      SourceLister

	// Validator, when set, rejects /hook calls without a valid signature.
	Validator SignatureValidator
	// PublicURL is the scheme and host Twilio calls, e.g. https://bot.example.edu.
	PublicURL string

	// AdminToken guards the /v1 routes as a bearer token. When empty those
	// routes are disabled, since /hook has to stay reachable from the internet.
	AdminToken string

	// DataDir bounds the files /v1/ingest may read. DataFiles are the
	// configured defaults used when a request names no sources.
	DataDir   string
	DataFiles []string
}

// Server exposes the WhatsApp webhook and the JSON API.
type Server struct {
	deps    Deps
	logger  *log.Logger
	handler http.Handler
}

type hookResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type askRequest struct {
	Question string `json:"question"`
}

type ingestRequest struct {
	Dir   string   `json:"dir"`
	Files []string `json:"files"`
	Reset bool     `json:"reset"`
}

type sourcesResponse struct {
	Sources []knowledge.SourceSummary `json:"sources"`
}

func New(deps Deps, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{deps: deps, logger: logger}
	s.handler = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/hook", s.handleHook)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/openapi.yaml", s.handleOpenAPI)
	mux.HandleFunc("/v1/ask", s.requireAdmin(s.handleAsk))
	mux.HandleFunc("/v1/ingest", s.requireAdmin(s.handleIngest))
	mux.HandleFunc("/v1/sources", s.requireAdmin(s.handleSources))
	return mux
}

func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.AdminToken == "" {
			s.writeError(w, http.StatusForbidden, fmt.Errorf("admin api disabled, set ADMIN_TOKEN to enable it"))
			return
		}

		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, bearerPrefix)
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.deps.AdminToken)) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="campus-assistant"`)
			s.writeError(w, http.StatusUnauthorized, fmt.Errorf("missing or invalid admin token"))
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	if err := r.ParseForm(); err != nil {
		s.writeJSON(w, http.StatusBadRequest, hookResponse{Status: statusError, Message: "Formulario inválido", Details: err.Error()})
		return
	}

	if s.deps.Validator != nil && !s.validSignature(r) {
		s.logger.Printf("rejected webhook call with invalid signature from %s", r.RemoteAddr)
		s.writeJSON(w, http.StatusForbidden, hookResponse{Status: statusError, Message: "Firma inválida"})
		return
	}

	body := r.PostForm.Get("Body")
	from := r.PostForm.Get("From")
	if strings.TrimSpace(from) == "" {
		s.writeJSON(w, http.StatusBadRequest, hookResponse{Status: statusError, Message: "Remitente requerido"})
		return
	}
	if s.deps.Conversation == nil || s.deps.Sender == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, hookResponse{Status: statusError, Message: InternalErrorMessage, Details: "webhook is not configured"})
		return
	}

	ctx := r.Context()
	s.logger.Printf("webhook message from %s", from)

	reply := s.deps.Conversation.Handle(ctx, from, body)
	result, err := s.deps.Sender.Send(ctx, from, reply)
	if err != nil {
		s.logger.Printf("send reply to %s failed: %v", from, err)
		if _, notifyErr := s.deps.Sender.Send(ctx, from, UnexpectedErrorMessage); notifyErr != nil {
			s.logger.Printf("send apology to %s failed: %v", from, notifyErr)
		}
		s.writeJSON(w, http.StatusInternalServerError, hookResponse{Status: statusError, Message: InternalErrorMessage, Details: err.Error()})
		return
	}

	s.writeJSON(w, http.StatusOK, hookResponse{Status: statusSuccess, Message: result})
}

func (s *Server) validSignature(r *http.Request) bool {
	signature := r.Header.Get(signatureHeader)
	if signature == "" {
		return false
	}

	params := make(map[string]string, len(r.PostForm))
	for key, values := range r.PostForm {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	return s.deps.Validator.Validate(s.requestURL(r), params, signature)
}

// requestURL rebuilds the URL Twilio signed. Behind a proxy the Host header
// differs from the public one, so PublicURL takes precedence.
func (s *Server) requestURL(r *http.Request) string {
	base := strings.TrimRight(s.deps.PublicURL, "/")
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if forwarded := r.Header.Get("X-Forwarded-Proto"); forwarded != "" {
			scheme = forwarded
		}
		base = scheme + "://" + r.Host
	}
	return base + r.URL.RequestURI()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	s.writeJSON(w, http.StatusOK, messageResponse{Message: "ok"})
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	w.Header().Set("Content-Type", "text/yaml; charset=utf-8")
	w.Header().Set("Content-Disposition", "inline; filename=\"openapi.yaml\"")
	_, _ = w.Write(openAPISpecYAML)
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	if s.deps.Answerer == nil {
		s.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("answer generator not configured"))
		return
	}

	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("question is required"))
		return
	}

	s.writeJSON(w, http.StatusOK, s.deps.Answerer.Answer(r.Context(), req.Question))
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	if s.deps.Ingester == nil {
		s.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("ingestion not configured"))
		return
	}

	var req ingestRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	opts := ingestion.RunOptions{Reset: req.Reset}
	files := req.Files
	dir := strings.TrimSpace(req.Dir)
	if len(files) == 0 && dir == "" {
		files = s.deps.DataFiles
		dir = s.deps.DataDir
	} else {
		var err error
		if files, dir, err = s.confine(files, dir); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	var (
		report ingestion.Report
		err    error
	)
	if len(files) > 0 {
		report, err = s.deps.Ingester.Run(r.Context(), files, opts)
	} else {
		report, err = s.deps.Ingester.IngestDirectory(r.Context(), dir, opts)
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("ingestion failed: %w", err))
		return
	}

	s.writeJSON(w, http.StatusOK, report)
}

// confine resolves request paths against DataDir and rejects any that
// escape it. Relative paths are taken relative to DataDir.
func (s *Server) confine(files []string, dir string) ([]string, string, error) {
	if s.deps.DataDir == "" {
		return nil, "", fmt.Errorf("DATA_DIR is not configured")
	}
	base, err := resolvePath(s.deps.DataDir)
	if err != nil {
		return nil, "", fmt.Errorf("resolve data directory: %w", err)
	}

	inside := func(p string) (string, error) {
		if !filepath.IsAbs(p) {
			p = filepath.Join(base, p)
		}
		resolved, err := resolvePath(p)
		if err != nil {
			return "", err
		}
		rel, err := filepath.Rel(base, resolved)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("%w: %s", ErrOutsideDataDir, p)
		}
		return resolved, nil
	}

	confined := make([]string, 0, len(files))
	for _, f := range files {
		resolved, err := inside(strings.TrimSpace(f))
		if err != nil {
			return nil, "", err
		}
		confined = append(confined, resolved)
	}
	if dir != "" {
		if dir, err = inside(dir); err != nil {
			return nil, "", err
		}
	}
	return confined, dir, nil
}

// resolvePath makes p absolute and follows symlinks in p, or in its parent
// when p does not exist yet.
func resolvePath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	if parent, err := filepath.EvalSymlinks(filepath.Dir(abs)); err == nil {
		return filepath.Join(parent, filepath.Base(abs)), nil
	}
	return abs, nil
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	if s.deps.Sources == nil {
		s.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("knowledge graph not configured"))
		return
	}

	sources, err := s.deps.Sources.Sources(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("list sources: %w", err))
		return
	}

	s.writeJSON(w, http.StatusOK, sourcesResponse{Sources: sources})
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed, use %s", allowed))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Printf("encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Printf("api error (%d): %v", status, err)
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}
