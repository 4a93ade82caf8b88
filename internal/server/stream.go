package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/conduit-ai/conduit/internal/chat"
	"github.com/conduit-ai/conduit/internal/routing"
)

// sendRequest is the body of a streaming message submission.
type sendRequest struct {
	Prompt      string   `json:"prompt"`
	Model       string   `json:"model,omitempty"`
	Provider    string   `json:"provider,omitempty"`
	Temperature float64  `json:"temperature,omitempty"`
	Images      []string `json:"images,omitempty"`
}

// handleStream submits a prompt and streams the response as Server-Sent
// Events. Frames are named after the chat.Event type: routing first, then
// delta frames, then exactly one done or error frame. Closing the request
// cancels the upstream call.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	c := s.loadOwnedChat(w, r)
	if c == nil {
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	_, tier := caller(r)
	events, err := s.manager.Send(r.Context(), c, req.Prompt, chat.SendOptions{
		Tier:        tier,
		ModelID:     req.Model,
		Provider:    req.Provider,
		Temperature: req.Temperature,
		Images:      req.Images,
	})
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrChatBusy):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, routing.ErrNoEligibleModel):
			writeError(w, http.StatusUnprocessableEntity, "no model is eligible for your subscription tier")
		default:
			s.log.Error().Err(err).Str("chat", c.ID).Msg("send failed")
			writeError(w, http.StatusInternalServerError, "could not start response")
		}
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			s.log.Error().Err(err).Msg("marshal stream event")
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
		flusher.Flush()
	}
}
