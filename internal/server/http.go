package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/zot/uigen/internal/bundle"
	"github.com/zot/uigen/internal/logging"
	"github.com/zot/uigen/internal/metrics"
	"github.com/zot/uigen/internal/project"
	"github.com/zot/uigen/internal/protocol"
	"github.com/zot/uigen/internal/session"
	"github.com/zot/uigen/internal/vfs"
	"go.uber.org/zap"
)

// maxUploadSize bounds snapshot and archive uploads.
const maxUploadSize = 64 << 20

// HTTPEndpoint handles HTTP requests.
type HTTPEndpoint struct {
	sessions   *session.Manager
	handler    *protocol.Handler
	wsEndpoint *WebSocketEndpoint
	mux        *http.ServeMux
}

// NewHTTPEndpoint creates a new HTTP endpoint.
func NewHTTPEndpoint(sessions *session.Manager, handler *protocol.Handler, wsEndpoint *WebSocketEndpoint) *HTTPEndpoint {
	if handler == nil {
		handler = protocol.NewHandler()
	}
	h := &HTTPEndpoint{
		sessions:   sessions,
		handler:    handler,
		wsEndpoint: wsEndpoint,
		mux:        http.NewServeMux(),
	}
	h.setupRoutes()
	return h
}

// setupRoutes configures HTTP routes.
func (h *HTTPEndpoint) setupRoutes() {
	h.mux.HandleFunc("/", h.handleRoot)
	h.mux.HandleFunc("/api/", h.handleAPI)
	h.mux.HandleFunc("/ws/", h.handleWebSocket)
	h.mux.Handle("/metrics", metrics.Handler())
	h.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"status": "ok", "sessions": h.sessions.Count()})
	})
	if registry := h.sessions.Registry(); registry != nil {
		h.mux.Handle("/modules/", registry)
	}
}

// ServeHTTP implements http.Handler.
func (h *HTTPEndpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Upgrade requests need the raw ResponseWriter for Hijack.
	if r.Header.Get("Upgrade") != "" {
		h.mux.ServeHTTP(w, r)
		metrics.RecordHTTPRequest(r.Method, route(r.URL.Path), http.StatusSwitchingProtocols)
		return
	}
	rec := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	h.mux.ServeHTTP(rec, r)
	metrics.RecordHTTPRequest(r.Method, route(r.URL.Path), rec.status)
}

// statusWriter records the response status for metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// route collapses a request path to a low-cardinality metrics label.
func route(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case parts[0] == "":
		return "/"
	case parts[0] == "api" && len(parts) >= 3:
		return "/api/:session/" + parts[2]
	case parts[0] == "ws":
		return "/ws/:session"
	case parts[0] == "modules" || parts[0] == "metrics" || parts[0] == "healthz":
		return "/" + parts[0]
	case len(parts) == 1:
		return "/:session"
	}
	return "/:session/" + parts[1]
}

// session finds or opens the session named in a URL. Unknown ids open a
// new session restored from storage, so bookmarked URLs survive restarts.
func (h *HTTPEndpoint) session(w http.ResponseWriter, r *http.Request, id string) (*session.Session, bool) {
	if sess, ok := h.sessions.GetSession(id); ok {
		sess.Touch()
		return sess, true
	}
	sess, err := h.sessions.OpenSession(r.Context(), id)
	if errors.Is(err, session.ErrInvalidID) {
		http.NotFound(w, r)
		return nil, false
	}
	if err != nil {
		logging.WithContext(r.Context()).Error("open session failed", zap.String("session", id), zap.Error(err))
		http.Error(w, "Failed to open session", http.StatusInternalServerError)
		return nil, false
	}
	return sess, true
}

// handleRoot handles root and session paths.
func (h *HTTPEndpoint) handleRoot(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if path == "/" {
		sess, err := h.sessions.CreateSession(r.Context())
		if err != nil {
			http.Error(w, "Failed to create session", http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, "/"+sess.ID, http.StatusTemporaryRedirect)
		return
	}

	// /SESSION-ID or /SESSION-ID/page
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 2)
	sess, ok := h.session(w, r, parts[0])
	if !ok {
		return
	}
	h.setSessionCookie(w, sess.ID)

	page := ""
	if len(parts) > 1 {
		page = parts[1]
	}
	switch page {
	case "":
		h.serveShell(w, sess)
	case "preview":
		h.servePreview(w, r, sess)
	case "download":
		h.serveDownload(w, r, sess)
	default:
		http.NotFound(w, r)
	}
}

// setSessionCookie sets the uigen-session cookie.
func (h *HTTPEndpoint) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     "uigen-session",
		Value:    sessionID,
		Path:     "/",
		HttpOnly: false, // JS needs to read it
		SameSite: http.SameSiteLaxMode,
	})
}

// serveShell serves the page that frames the preview and follows
// generation pushes.
func (h *HTTPEndpoint) serveShell(w http.ResponseWriter, sess *session.Session) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	src := "/" + sess.ID + "/preview"
	if latest := sess.Latest(); latest != nil {
		src = PreviewURL(sess.ID, latest.Seq)
	}
	fmt.Fprintf(w, shellHTML, escapeHTML(sess.ID), escapeHTML(src), escapeHTML(sess.ID))
}

// servePreview serves the active preview document, waiting for the first
// generation of a fresh session.
func (h *HTTPEndpoint) servePreview(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	latest := sess.Latest()
	if latest == nil {
		sess.Project().Pipeline().Wait()
		latest = sess.Latest()
	}
	if latest == nil || latest.Document == nil {
		http.Error(w, "No preview available yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Generation", fmt.Sprint(latest.Seq))
	io.WriteString(w, latest.Document.HTML)
}

// serveDownload streams the project as a zip archive.
func (h *HTTPEndpoint) serveDownload(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	snap, err := sess.Project().Snapshot()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := bundle.Export(&buf, snap); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", sess.ID+".zip"))
	w.Write(buf.Bytes())
}

// handleWebSocket handles WebSocket upgrade requests.
func (h *HTTPEndpoint) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Extract session ID from path: /ws/SESSION-ID
	path := strings.TrimPrefix(r.URL.Path, "/ws/")
	sessionID := strings.Split(path, "/")[0]

	sess, ok := h.sessions.GetSession(sessionID)
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	if h.wsEndpoint == nil {
		http.Error(w, "WebSocket not available", http.StatusServiceUnavailable)
		return
	}
	h.wsEndpoint.HandleWebSocket(w, r, sess)
}

// handleAPI handles REST API requests:
//
//	POST    /api/SESSION/tools/COMMAND   one editor command, body is its data
//	POST    /api/SESSION/batch           a message array or batch wrapper
//	GET|PUT /api/SESSION/snapshot        the whole project as path -> content
//	POST    /api/SESSION/import          replace the project with a zip archive
//	GET     /api/SESSION/diagnostics     compile errors of the active generation
func (h *HTTPEndpoint) handleAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/api/"), "/", 3)
	if len(parts) < 2 {
		h.writeError(w, protocol.CodeBadRequest, "missing session or endpoint", http.StatusNotFound)
		return
	}
	sess, ok := h.session(w, r, parts[0])
	if !ok {
		return
	}

	switch parts[1] {
	case "tools":
		if len(parts) < 3 || parts[2] == "" {
			h.writeError(w, protocol.CodeBadRequest, "missing command", http.StatusNotFound)
			return
		}
		if !h.requireMethod(w, r, http.MethodPost) {
			return
		}
		h.handleTool(w, r, sess, protocol.MessageType(parts[2]))
	case "batch":
		if !h.requireMethod(w, r, http.MethodPost) {
			return
		}
		h.handleBatch(w, r, sess)
	case "snapshot":
		h.handleSnapshot(w, r, sess)
	case "import":
		if !h.requireMethod(w, r, http.MethodPost) {
			return
		}
		h.handleImport(w, r, sess)
	case "diagnostics":
		sess.Project().Pipeline().Wait()
		json.NewEncoder(w).Encode(protocol.Diagnostics(sess.Latest()))
	default:
		h.writeError(w, protocol.CodeBadRequest, "unknown endpoint: "+parts[1], http.StatusNotFound)
	}
}

func (h *HTTPEndpoint) requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		h.writeError(w, protocol.CodeBadRequest, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (h *HTTPEndpoint) handleTool(w http.ResponseWriter, r *http.Request, sess *session.Session, cmd protocol.MessageType) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadSize))
	if err != nil {
		h.writeError(w, protocol.CodeBadRequest, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	msg := &protocol.Message{Type: cmd, Data: body}
	resp := h.handler.Handle(sess.Project(), []*protocol.Message{msg}, false)[0]
	w.WriteHeader(StatusForCode(resp.Code))
	json.NewEncoder(w).Encode(resp)
}

func (h *HTTPEndpoint) handleBatch(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadSize))
	if err != nil {
		h.writeError(w, protocol.CodeBadRequest, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	msgs, atomic, err := protocol.ParseMessages(body)
	if err != nil {
		h.writeError(w, protocol.CodeBadRequest, "Invalid JSON", http.StatusBadRequest)
		return
	}
	json.NewEncoder(w).Encode(h.handler.Handle(sess.Project(), msgs, atomic))
}

func (h *HTTPEndpoint) handleSnapshot(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	switch r.Method {
	case http.MethodGet:
		snap, err := sess.Project().Snapshot()
		if err != nil {
			h.writeStoreError(w, err)
			return
		}
		json.NewEncoder(w).Encode(snap)
	case http.MethodPut:
		var snap vfs.Snapshot
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUploadSize)).Decode(&snap); err != nil {
			h.writeError(w, protocol.CodeBadRequest, "Invalid JSON", http.StatusBadRequest)
			return
		}
		if err := sess.Project().Restore(snap); err != nil {
			h.writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		h.writeError(w, protocol.CodeBadRequest, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *HTTPEndpoint) handleImport(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadSize))
	if err != nil {
		h.writeError(w, protocol.CodeBadRequest, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	snap, err := bundle.Import(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if err := sess.Project().Restore(snap); err != nil {
		h.writeStoreError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]int{"files": len(snap)})
}

// StatusForCode maps a protocol error code to an HTTP status.
func StatusForCode(code string) int {
	switch code {
	case "":
		return http.StatusOK
	case "PathError", protocol.CodeBadRequest:
		return http.StatusBadRequest
	case "NotFoundError":
		return http.StatusNotFound
	case "ConflictError", protocol.CodeAborted:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *HTTPEndpoint) writeStoreError(w http.ResponseWriter, err error) {
	code := protocol.Code(err)
	if code == protocol.CodeInternal && !errors.Is(err, project.ErrClosed) {
		// archive and decoding failures are the caller's fault
		code = protocol.CodeBadRequest
	}
	h.writeError(w, code, err.Error(), StatusForCode(code))
}

// writeError writes an error response.
func (h *HTTPEndpoint) writeError(w http.ResponseWriter, code, message string, status int) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(protocol.Response{Error: message, Code: code})
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&#39;")
	return s
}

// shellHTML frames the preview in a sandboxed iframe and swaps its src on
// every generation push. Arguments: title, initial src, session id.
const shellHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>uigen %s</title>
  <style>
    html, body { margin: 0; height: 100%%; font-family: system-ui, sans-serif; }
    body { display: flex; flex-direction: column; }
    #bar { padding: 4px 10px; font-size: 12px; color: #555; background: #f4f4f5; border-bottom: 1px solid #ddd; }
    #bar.error { color: #b91c1c; }
    iframe { flex: 1; border: 0; width: 100%%; }
  </style>
</head>
<body>
  <div id="bar">connecting</div>
  <iframe id="preview" src="%s" sandbox="allow-scripts allow-modals allow-forms allow-popups"></iframe>
  <script>
    (function () {
      var session = "%s";
      var bar = document.getElementById("bar");
      var frame = document.getElementById("preview");
      var seq = 0;
      function connect() {
        var proto = location.protocol === "https:" ? "wss:" : "ws:";
        var ws = new WebSocket(proto + "//" + location.host + "/ws/" + session);
        ws.onopen = function () { bar.textContent = "connected"; };
        ws.onmessage = function (ev) {
          var msg = JSON.parse(ev.data);
          if (msg.type !== "generation" || msg.data.seq <= seq) return;
          seq = msg.data.seq;
          frame.src = msg.data.url;
          var diags = msg.data.diagnostics || [];
          bar.className = diags.length ? "error" : "";
          bar.textContent = diags.length
            ? diags.length + " error(s): " + diags[0].file + ":" + diags[0].line + " " + diags[0].message
            : "generation " + seq + " (" + msg.data.durationMs + " ms)";
        };
        ws.onclose = function () { bar.textContent = "disconnected"; setTimeout(connect, 1000); };
      }
      connect();
    })();
  </script>
</body>
</html>
`
