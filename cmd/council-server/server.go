package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/Dbillionaer/llm-council-local/pkg/ckerrors"
	"github.com/Dbillionaer/llm-council-local/pkg/config"
	"github.com/Dbillionaer/llm-council-local/pkg/council"
	"github.com/Dbillionaer/llm-council-local/pkg/events"
	"github.com/Dbillionaer/llm-council-local/pkg/llmclient"
	"github.com/Dbillionaer/llm-council-local/pkg/logging"
	"github.com/Dbillionaer/llm-council-local/pkg/models"
	"github.com/Dbillionaer/llm-council-local/pkg/persistence"
	"github.com/Dbillionaer/llm-council-local/pkg/title"
	"github.com/google/uuid"
)

type server struct {
	cfg   *config.Config
	store persistence.Store
	ctrl  *council.Controller
	title *title.Service
}

func newServer(cfg *config.Config, store persistence.Store, ctrl *council.Controller, titleSvc *title.Service) *server {
	return &server{cfg: cfg, store: store, ctrl: ctrl, title: titleSvc}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/conversations", s.handleConversations)
	mux.HandleFunc("/conversations/deleted", s.handleListDeleted)
	mux.HandleFunc("/conversations/", s.handleConversationSubroutes)
	mux.HandleFunc("/titles/subscribe", s.handleTitleSubscribe)
	return mux
}

func (s *server) handleConversations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		conv := models.NewConversation()
		if err := s.store.Create(r.Context(), &conv); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, conv)
	case http.MethodGet:
		list, err := s.store.List(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *server) handleListDeleted(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	list, err := s.store.ListDeleted(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleConversationSubroutes dispatches /conversations/{id}[/messages|/restore|/permanent].
func (s *server) handleConversationSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/conversations/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.getConversation(w, r, id)
		case http.MethodDelete:
			s.softDelete(w, r, id)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	switch parts[1] {
	case "messages":
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.postMessage(w, r, id)
	case "restore":
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.restore(w, r, id)
	case "permanent":
		if r.Method != http.MethodDelete {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.permanentDelete(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *server) getConversation(w http.ResponseWriter, r *http.Request, id string) {
	conv, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *server) softDelete(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.store.SoftDelete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) restore(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.store.Restore(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) permanentDelete(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.store.PermanentlyDelete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type postMessageRequest struct {
	Content string `json:"content"`
}

func (s *server) postMessage(w http.ResponseWriter, r *http.Request, id string) {
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	conv, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	userMsg := models.Message{ID: uuid.NewString(), Role: models.RoleUser, Content: req.Content}
	if err := s.store.AppendMessage(r.Context(), id, userMsg); err != nil {
		writeError(w, err)
		return
	}

	history := buildHistory(conv, req.Content)
	streamRequested := r.URL.Query().Get("stream") == "1"

	requestID := uuid.NewString()
	bus := events.NewBus()

	councilModels := s.cfg.Deliberation.CouncilModels
	if len(councilModels) == 0 {
		councilModels = councilModelIDs(s.cfg)
	}
	cfg := models.DeliberationConfig{
		CouncilModels: councilModels,
		Chairman:      s.cfg.Models.Chairman,
		Rounds:        s.cfg.Deliberation.Rounds,
		MaxRounds:     s.cfg.Deliberation.MaxRounds,
		EnableCrossReview: s.cfg.Deliberation.EnableCrossReview,
		QualityThreshold:  s.cfg.Deliberation.QualityThreshold,
	}.WithDefaults()

	resultCh := make(chan *models.DeliberationRecord, 1)
	go func() {
		record, err := s.ctrl.Run(r.Context(), requestID, history, cfg, bus)
		if err != nil {
			logging.Warn("deliberation %s finished with error: %v", requestID, err)
		}
		bus.Close()
		resultCh <- record
	}()

	if streamRequested {
		s.streamSSE(w, r, bus)
	} else {
		for range bus.Events() {
			// drain silently for non-streaming callers
		}
	}

	record := <-resultCh
	assistantMsg := models.Message{ID: uuid.NewString(), Role: models.RoleAssistant, Content: record.Synthesis.Content, Deliberation: record}
	if err := s.store.AppendMessage(r.Context(), id, assistantMsg); err != nil {
		logging.Error("failed to persist assistant message for %s: %v", id, err)
	}

	if title.IsPlaceholderTitle(conv.Title) {
		if seed, ok := conv.FirstUserMessage(); ok {
			s.title.Enqueue(id, seed, title.PriorityImmediate)
		} else {
			s.title.Enqueue(id, req.Content, title.PriorityImmediate)
		}
	}

	if !streamRequested {
		writeJSON(w, http.StatusOK, assistantMsg)
	}
}

func buildHistory(conv *models.Conversation, latest string) []llmclient.ChatMessage {
	history := make([]llmclient.ChatMessage, 0, len(conv.Messages)+1)
	for _, m := range conv.Messages {
		history = append(history, llmclient.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	history = append(history, llmclient.ChatMessage{Role: string(models.RoleUser), Content: latest})
	return history
}

func councilModelIDs(cfg *config.Config) []string {
	ids := make([]string, len(cfg.Models.CouncilMembers))
	for i, m := range cfg.Models.CouncilMembers {
		ids[i] = m.ModelID
	}
	return ids
}

func (s *server) streamSSE(w http.ResponseWriter, r *http.Request, bus *events.Bus) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for ev := range bus.Events() {
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
		select {
		case <-r.Context().Done():
			return
		default:
		}
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (s *server) handleTitleSubscribe(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ch, unsubscribe := s.title.Broker().Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-ch:
			if !ok {
				return
			}
			payload, _ := json.Marshal(update)
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if ckerrors.Is(err, ckerrors.KindNotFound) {
		status = http.StatusNotFound
	} else if ckerrors.Is(err, ckerrors.KindConfigInvalid) {
		status = http.StatusBadRequest
	}
	http.Error(w, err.Error(), status)
}
