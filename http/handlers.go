package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/fwojciec/relay"
	"github.com/fwojciec/relay/agent"
	"github.com/fwojciec/relay/export"
	relayjson "github.com/fwojciec/relay/json"
	"github.com/fwojciec/relay/provider"
	"github.com/fwojciec/relay/sse"
)

type messageRequest struct {
	Message string `json:"message"`
	Model   string `json:"model,omitempty"`
}

type eventsResponse struct {
	ConversationID string          `json:"conversation_id"`
	TailKey        string          `json:"tail_key"`
	Events         json.RawMessage `json:"events"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// handleChat starts a new conversation and streams its first turn.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[messageRequest](w, r)
	if !ok {
		return
	}
	if req.Message == "" {
		writeError(w, r, http.StatusBadRequest, "message is required")
		return
	}
	s.streamTurn(w, r, relay.NewID(), req, true)
}

// handleMessage continues a stored conversation.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[messageRequest](w, r)
	if !ok {
		return
	}
	if req.Message == "" {
		writeError(w, r, http.StatusBadRequest, "message is required")
		return
	}
	s.streamTurn(w, r, chi.URLParam(r, "id"), req, false)
}

func (s *Server) streamTurn(w http.ResponseWriter, r *http.Request, conversationID string, req messageRequest, isNew bool) {
	ctx := r.Context()
	log := zerolog.Ctx(ctx).With().Str("conversation_id", conversationID).Logger()
	ctx = log.WithContext(ctx)

	model := s.model(req.Model)
	adapter, err := s.cfg.Adapters.Create(model)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, provider.ErrUnknownModel) {
			status = http.StatusBadRequest
		}
		writeError(w, r, status, err.Error())
		return
	}

	defer s.lockConversation(conversationID)()

	var (
		history []relay.Event
		tail    string
	)
	if !isNew {
		var ok bool
		history, tail, ok = s.load(w, r, conversationID)
		if !ok {
			return
		}
	}

	enc := sse.NewEncoder(w)
	if isNew {
		if err := enc.ConversationCreated(conversationID); err != nil {
			log.Warn().Err(err).Msg("write conversation notice")
		}
	}

	// The turn outlives a disconnected client so tool calls and
	// persistence complete; the encoder just stops writing.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-r.Context().Done():
			enc.Close()
		case <-done:
		}
	}()

	ws := s.cfg.Workspace
	turn := agent.Turn{
		ConversationID: conversationID,
		Adapter:        adapter,
		History:        history,
		TailKey:        tail,
		Input:          relay.UserText(req.Message),
		Request: relay.Request{
			Model:            model,
			SystemPrompt:     ws.SystemPrompt,
			Tools:            ws.FilterTools(s.cfg.Tools),
			ReasoningEffort:  ws.ReasoningEffort,
			ReasoningSummary: ws.ReasoningSummary,
		},
	}

	res, err := s.cfg.Loop.Run(context.WithoutCancel(ctx), turn, agent.WithEventHandler(func(evt relay.StreamEvent) {
		if err := enc.Encode(evt); err != nil {
			log.Debug().Err(err).Msg("encode stream event")
		}
	}))
	if err != nil {
		log.Error().Err(err).Msg("turn failed")
		_ = enc.Error(err)
		return
	}
	log.Info().
		Str("model", model).
		Int("iterations", res.Iterations).
		Bool("exhausted", res.Exhausted).
		Int("input_tokens", res.Usage.InputTokens).
		Int("output_tokens", res.Usage.OutputTokens).
		Msg("turn complete")
	_ = enc.Complete()
}

// model picks the workspace override, then the requested model, then the
// server default.
func (s *Server) model(requested string) string {
	switch {
	case s.cfg.Workspace.ModelOverride != "":
		return s.cfg.Workspace.ModelOverride
	case requested != "":
		return requested
	default:
		return s.cfg.DefaultModel
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	events, tail, ok := s.load(w, r, id)
	if !ok {
		return
	}
	data, err := relayjson.MarshalEvents(events)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("marshal events")
		writeError(w, r, http.StatusInternalServerError, "failed to encode events")
		return
	}
	writeJSON(w, r, http.StatusOK, eventsResponse{ConversationID: id, TailKey: tail, Events: data})
}

// handleExport renders the replay script of the last assistant turn. The
// model is taken from the query, then from the turn's metadata.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	events, _, ok := s.load(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	model := r.URL.Query().Get("model")
	if model == "" {
		model = recordedModel(events)
	}
	if model == "" {
		model = s.model("")
	}
	vendor, mode, err := s.cfg.Adapters.Resolve(model)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	ws := s.cfg.Workspace
	script, err := export.Script(vendor, format, model, events, export.Options{
		Mode:             mode,
		SystemPrompt:     ws.SystemPrompt,
		ReasoningEffort:  ws.ReasoningEffort,
		ReasoningSummary: ws.ReasoningSummary,
	})
	if errors.Is(err, export.ErrNothingToReplay) {
		writeError(w, r, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("export conversation")
		writeError(w, r, http.StatusInternalServerError, "failed to export conversation")
		return
	}
	w.Header().Set("Content-Type", "text/x-python; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(script))
}

// load fetches a conversation, answering 404 when it is unknown or empty.
func (s *Server) load(w http.ResponseWriter, r *http.Request, id string) ([]relay.Event, string, bool) {
	events, tail, err := s.cfg.Conversations.Load(r.Context(), id)
	if errors.Is(err, relay.ErrConversationNotFound) || (err == nil && len(events) == 0) {
		writeError(w, r, http.StatusNotFound, "conversation not found")
		return nil, "", false
	}
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("conversation_id", id).Msg("load conversation")
		writeError(w, r, http.StatusInternalServerError, "failed to load conversation")
		return nil, "", false
	}
	return events, tail, true
}

func recordedModel(events []relay.Event) string {
	for i := len(events) - 1; i >= 0; i-- {
		if md := events[i].ResponseMetadata; md != nil && md.Model != "" {
			return md.Model
		}
	}
	return ""
}
