// Package server exposes the command router over HTTP so that a chat host
// can forward messages to the plugin.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"

	"drawbot/command"
	"drawbot/middleware"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// maxMessageSize bounds the request body of a forwarded message.
const maxMessageSize = 1 << 20

// MessageHandler handles one chat message.
type MessageHandler interface {
	Handle(ctx context.Context, user, text string) (command.Reply, bool)
}

// MessageRequest is a chat message forwarded by the host.
type MessageRequest struct {
	User string `json:"user"`
	Text string `json:"text"`
}

// MessageResponse is the reply envelope returned to the host.
type MessageResponse struct {
	Type        command.ReplyType `json:"type"`
	Text        string            `json:"text,omitempty"`
	ImageBase64 string            `json:"image_base64,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
	Path        string            `json:"path,omitempty"`
	HostedURL   string            `json:"hosted_url,omitempty"`
	Stop        bool              `json:"stop"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewRouter builds the HTTP routes.
func NewRouter(h MessageHandler, apiKey string, log *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(log))
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(apiKey, log))
		r.Post("/messages", messagesHandler(h, log))
	})

	return r
}

func messagesHandler(h MessageHandler, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MessageRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageSize))
		if err := dec.Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
			return
		}
		if req.User == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "user is required"})
			return
		}

		reply, handled := h.Handle(r.Context(), req.User, req.Text)
		if !handled {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		resp := MessageResponse{
			Type:        reply.Type,
			Text:        reply.Text,
			ContentType: reply.ContentType,
			Path:        reply.Path,
			HostedURL:   reply.HostedURL,
			Stop:        true,
		}
		if len(reply.Image) > 0 {
			resp.ImageBase64 = base64.StdEncoding.EncodeToString(reply.Image)
		}

		log.Debug("message handled", "request_id", chimiddleware.GetReqID(r.Context()), "type", reply.Type)
		writeJSON(w, http.StatusOK, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
