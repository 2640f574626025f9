// ABOUTME: HTTP API handlers for characters, prompts, completions and update streams
// ABOUTME: Maps domain sentinel errors to status codes with a JSON error body

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/2389/worldgpt/internal/about"
	"github.com/2389/worldgpt/internal/character"
	"github.com/2389/worldgpt/internal/conversation"
	"github.com/2389/worldgpt/internal/database"
	"github.com/2389/worldgpt/internal/store"
	"github.com/2389/worldgpt/internal/subsystem"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// sseKeepAlive is how often an idle event stream gets a comment line.
const sseKeepAlive = 15 * time.Second

// Error bodies returned to clients.
const (
	msgDuplicate      = "Character already exists."
	msgNotFound       = "Character does not exist."
	msgNotImplemented = "Not implemented."
	msgUnavailable    = "Service unavailable."
	msgRateLimited    = "Too many completion requests."
	msgUpstream       = "Language model request failed."
	msgInternal       = "Internal server error."
)

// AboutResponse is the JSON response for GET /.
type AboutResponse struct {
	Title   string `json:"title"`
	Tag     string `json:"tag"`
	Version string `json:"version"`
	Author  string `json:"author"`
}

// ReadyResponse is the JSON response for GET /health/ready.
type ReadyResponse struct {
	Status      string          `json:"status"`
	Subsystems  map[string]bool `json:"subsystems"`
	DeadLetters int             `json:"dead_letters"`
	Pending     int             `json:"pending"`
	Uptime      string          `json:"uptime"`
}

// AcceptedResponse is returned when a write has been queued.
type AcceptedResponse struct {
	Status string `json:"status"`
	Name   string `json:"name"`
}

func (g *Gateway) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", g.handleAbout)
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	mux.HandleFunc("GET /characters", g.handleListCharacters)
	mux.HandleFunc("POST /characters", g.handleCreateCharacter)
	mux.HandleFunc("POST /characters/new", g.handleCreateCharacter)
	mux.HandleFunc("GET /characters/{name}", g.handleGetCharacter)
	mux.HandleFunc("DELETE /characters/{name}", g.handleDeleteCharacter)
	mux.HandleFunc("GET /characters/{name}/prompt", g.handlePrompt)
	mux.HandleFunc("POST /characters/{name}/completion", g.handleCompletion)
	mux.HandleFunc("GET /characters/{name}/usage", g.handleUsage)
	mux.HandleFunc("GET /characters/{name}/events", g.handleEvents)
	mux.HandleFunc("GET /events", g.handleEvents)
}

// handleAbout reports product identity.
func (g *Gateway) handleAbout(w http.ResponseWriter, r *http.Request) {
	g.sendJSON(w, http.StatusOK, AboutResponse{
		Title:   about.Title,
		Tag:     about.Tag,
		Version: about.Version,
		Author:  about.Author,
	})
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 once every subsystem is active.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := ReadyResponse{
		Status:      "ready",
		Subsystems:  g.subsystems.Status(),
		DeadLetters: len(g.db.DeadLetters()) + len(g.conf.DeadLetters()),
		Pending:     g.db.Pending() + g.conf.Pending(),
		Uptime:      time.Since(g.startedAt).Round(time.Second).String(),
	}
	status := http.StatusOK
	if !g.subsystems.Active() {
		resp.Status = "not ready"
		status = http.StatusServiceUnavailable
	}
	g.sendJSON(w, status, resp)
}

// handleListCharacters returns every character keyed by name.
func (g *Gateway) handleListCharacters(w http.ResponseWriter, r *http.Request) {
	g.sendJSON(w, http.StatusOK, g.db.Snapshot())
}

// handleGetCharacter returns a single character.
func (g *Gateway) handleGetCharacter(w http.ResponseWriter, r *http.Request) {
	c, err := g.db.Get(r.PathValue("name"))
	if err != nil {
		g.sendDomainError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, c)
}

// handleCreateCharacter validates and queues a new character. The write is
// accepted, not yet applied, when this returns 202.
func (g *Gateway) handleCreateCharacter(w http.ResponseWriter, r *http.Request) {
	var c character.Character
	if err := decodeBody(w, r, &c); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := c.Validate(); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if c.Messages == nil {
		c.Messages = []character.Message{}
	}
	if c.Summaries == nil {
		c.Summaries = []string{}
	}
	if c.Meta == nil {
		c.Meta = []character.Message{}
	}

	if err := g.db.Create(&c); err != nil {
		g.sendDomainError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusAccepted, AcceptedResponse{Status: "queued", Name: c.Name})
}

// handleDeleteCharacter reports 404 for unknown names and 501 otherwise.
func (g *Gateway) handleDeleteCharacter(w http.ResponseWriter, r *http.Request) {
	g.sendDomainError(w, r, g.db.Delete(r.PathValue("name")))
}

// handlePrompt returns the messages a completion would send.
func (g *Gateway) handlePrompt(w http.ResponseWriter, r *http.Request) {
	msgs, err := g.conversation.Prompt(r.PathValue("name"))
	if err != nil {
		g.sendDomainError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, msgs)
}

// handleCompletion runs a chat completion for the character.
func (g *Gateway) handleCompletion(w http.ResponseWriter, r *http.Request) {
	var req conversation.CompletionRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := g.conversation.Complete(r.Context(), r.PathValue("name"), &req)
	if err != nil {
		g.sendDomainError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, res)
}

// handleUsage returns token totals for the character, optionally since an
// RFC 3339 timestamp.
func (g *Gateway) handleUsage(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, err := g.db.Get(name); err != nil {
		g.sendDomainError(w, r, err)
		return
	}

	filter := store.UsageFilter{Character: &name}
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "invalid since: must be RFC 3339")
			return
		}
		filter.Since = &since
	}

	stats, err := g.db.GetUsageStats(r.Context(), filter)
	if err != nil {
		g.sendDomainError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, stats)
}

// handleEvents streams character updates as server-sent events until the
// client disconnects or the server shuts down.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		name = conversation.AllCharacters
	} else if _, err := g.db.Get(name); err != nil {
		g.sendDomainError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	updates, subID := g.broadcaster.Subscribe(r.Context(), name)
	defer g.broadcaster.Unsubscribe(name, subID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	_ = g.writeSSEEvent(w, SSEEvent{Event: "subscribed", Data: map[string]string{"name": name, "subscription_id": subID}})
	flusher.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case u, ok := <-updates:
			if !ok {
				return
			}
			if err := g.writeSSEEvent(w, updateToSSEEvent(u)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// decodeBody reads a bounded JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// sendDomainError maps sentinel errors to status codes.
func (g *Gateway) sendDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, database.ErrDuplicateName):
		g.sendJSONError(w, http.StatusConflict, msgDuplicate)
	case errors.Is(err, database.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, msgNotFound)
	case errors.Is(err, database.ErrUnsupported):
		g.sendJSONError(w, http.StatusNotImplemented, msgNotImplemented)
	case errors.Is(err, conversation.ErrValidation):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, conversation.ErrRateLimited):
		g.sendJSONError(w, http.StatusTooManyRequests, msgRateLimited)
	case errors.Is(err, conversation.ErrUpstream):
		g.logger.Error("completion failed", "error", err, "request_id", requestIDFrom(r.Context()))
		g.sendJSONError(w, http.StatusBadGateway, msgUpstream)
	case errors.Is(err, subsystem.ErrNotActive):
		g.sendJSONError(w, http.StatusServiceUnavailable, msgUnavailable)
	default:
		g.logger.Error("request failed", "error", err, "request_id", requestIDFrom(r.Context()))
		g.sendJSONError(w, http.StatusInternalServerError, msgInternal)
	}
}

// sendJSON writes v as a JSON response.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}
