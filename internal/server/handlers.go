package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"modelgate/internal/core"
	"modelgate/internal/credentials"
	"modelgate/internal/metrics"
	"modelgate/internal/registry"
	"modelgate/internal/storage"
	"modelgate/internal/stream"
)

type chatRequest struct {
	Model    string             `json:"model"`
	ChatID   string             `json:"chat_id,omitempty"`
	Messages []core.ChatMessage `json:"messages"`
	Stream   bool               `json:"stream,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content string `json:"content"`
	Status  string `json:"status"`
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listModels(c echo.Context) error {
	models := s.dispatcher.Models(c.Request().Context(), userID(c))
	return c.JSON(http.StatusOK, map[string]any{"models": models})
}

func (s *Server) chat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return invalidRequest(c, "invalid request body: "+err.Error())
	}
	if req.Model == "" || len(req.Messages) == 0 {
		return invalidRequest(c, "model and messages are required")
	}

	if req.Stream {
		return s.chatStream(c, &req)
	}

	ctx := c.Request().Context()
	uid := userID(c)
	content, err := s.dispatcher.Send(ctx, req.Model, req.Messages, uid)
	if err != nil {
		return s.handleError(c, err)
	}

	msg := &storage.AssistantMessage{
		ID:       uuid.NewString(),
		ChatID:   req.ChatID,
		Model:    req.Model,
		Provider: s.providerOf(ctx, req.Model, uid),
		Content:  content,
		Status:   string(stream.StateCompleted),
	}
	if err := s.store.SaveAssistantMessage(ctx, msg); err != nil {
		return s.handleError(c, err)
	}

	return c.JSON(http.StatusOK, chatResponse{
		ID:      msg.ID,
		Model:   req.Model,
		Content: content,
		Status:  msg.Status,
	})
}

// chatStream forwards increments over SSE as they arrive. A client
// disconnect cancels the upstream call; whatever accumulated is persisted
// either way.
func (s *Server) chatStream(c echo.Context, req *chatRequest) error {
	ctx := c.Request().Context()
	uid := userID(c)

	upstream, err := s.dispatcher.Stream(ctx, req.Model, req.Messages, uid)
	if err != nil {
		return s.handleError(c, err)
	}

	messageID := uuid.NewString()
	provider := s.providerOf(ctx, req.Model, uid)
	orch := stream.New(upstream, stream.FinalizerFunc(func(ctx context.Context, res stream.Result) error {
		metrics.StreamsFinished.WithLabelValues(string(res.State)).Inc()
		msg := &storage.AssistantMessage{
			ID:       messageID,
			ChatID:   req.ChatID,
			Model:    req.Model,
			Provider: provider,
			Content:  res.Content,
			Status:   string(res.State),
		}
		if res.Err != nil {
			msg.ErrorMessage = res.Err.Message
		}
		return s.store.SaveAssistantMessage(ctx, msg)
	}))

	// Finalization must survive the client going away.
	persistCtx := context.WithoutCancel(ctx)
	go func() {
		<-ctx.Done()
		orch.Cancel(persistCtx)
	}()

	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for {
		chunk, err := orch.Recv(persistCtx)
		if err == io.EOF {
			if orch.State() == stream.StateCompleted {
				writeEvent(w, "done", map[string]string{
					"id":     messageID,
					"status": string(stream.StateCompleted),
				})
			}
			return nil
		}
		if err != nil {
			perr := core.AsProviderError("", err)
			metrics.UpstreamErrors.WithLabelValues(perr.Provider, strconv.FormatBool(perr.Retryable)).Inc()
			writeEvent(w, "error", map[string]any{
				"id":          messageID,
				"provider":    perr.Provider,
				"message":     perr.Message,
				"retryable":   perr.Retryable,
				"status_code": perr.StatusCode,
			})
			return nil
		}
		writeEvent(w, "delta", map[string]string{"content": chunk})
	}
}

type imageRequest struct {
	Model         string `json:"model"`
	Prompt        string `json:"prompt"`
	Size          string `json:"size,omitempty"`
	Quality       string `json:"quality,omitempty"`
	PartialImages int    `json:"partial_images,omitempty"`
	Stream        bool   `json:"stream,omitempty"`
}

func (s *Server) generateImage(c echo.Context) error {
	var req imageRequest
	if err := c.Bind(&req); err != nil {
		return invalidRequest(c, "invalid request body: "+err.Error())
	}
	if req.Model == "" || req.Prompt == "" {
		return invalidRequest(c, "model and prompt are required")
	}

	partials := req.PartialImages
	if partials == 0 {
		partials = s.cfg.ImagePartials
	}

	// A generation that never reaches a terminal event is failed after the
	// pending timeout rather than held open forever.
	ctx, cancel := context.WithTimeout(c.Request().Context(), s.cfg.ImagePendingTimeout)
	defer cancel()

	events, err := s.dispatcher.GenerateImage(ctx, req.Model, req.Prompt, core.ImageOptions{
		Size:          req.Size,
		Quality:       req.Quality,
		PartialImages: partials,
	}, userID(c))
	if err != nil {
		return s.handleError(c, err)
	}
	defer events.Close()

	if req.Stream {
		return s.imageStream(c, events)
	}

	// Drain to the terminal event.
	for {
		ev, err := events.Recv()
		if err == io.EOF {
			return s.handleError(c, core.NewProviderError("", "image stream ended without a result", nil))
		}
		if err != nil {
			return s.handleError(c, err)
		}
		switch ev.Type {
		case core.ImageComplete:
			return c.JSON(http.StatusOK, core.ImageResult{
				B64:           ev.B64,
				URL:           ev.URL,
				RevisedPrompt: ev.RevisedPrompt,
			})
		case core.ImageFailed:
			return s.handleError(c, ev.Err)
		}
	}
}

func (s *Server) imageStream(c echo.Context, events core.ImageStream) error {
	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	for {
		ev, err := events.Recv()
		if err != nil {
			return nil
		}
		switch ev.Type {
		case core.ImagePartial:
			writeEvent(w, "partial", map[string]any{"index": ev.Index, "b64": ev.B64})
		case core.ImageComplete:
			writeEvent(w, "complete", core.ImageResult{
				B64:           ev.B64,
				URL:           ev.URL,
				RevisedPrompt: ev.RevisedPrompt,
			})
			return nil
		case core.ImageFailed:
			msg := "image generation failed"
			if ev.Err != nil {
				msg = ev.Err.Message
			}
			writeEvent(w, "error", map[string]string{"message": msg})
			return nil
		}
	}
}

func (s *Server) getMessage(c echo.Context) error {
	msg, err := s.store.GetAssistantMessage(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.handleError(c, err)
	}
	if msg == nil {
		return c.JSON(http.StatusNotFound, errorBody("not_found", "message not found"))
	}
	return c.JSON(http.StatusOK, msg)
}

type keyRequest struct {
	Key string `json:"key"`
}

func (s *Server) putKey(c echo.Context) error {
	var req keyRequest
	if err := c.Bind(&req); err != nil {
		return invalidRequest(c, "invalid request body: "+err.Error())
	}
	if req.Key == "" {
		return invalidRequest(c, "key is required")
	}

	provider := c.Param("provider")
	if _, ok := s.registry.Adapter(provider); !ok {
		return c.JSON(http.StatusNotFound, errorBody("not_found", "unknown provider: "+provider))
	}
	if err := s.creds.PutUserKey(c.Request().Context(), userID(c), provider, req.Key); err != nil {
		return s.handleError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "stored"})
}

func (s *Server) deleteKey(c echo.Context) error {
	if err := s.creds.DeleteUserKey(c.Request().Context(), userID(c), c.Param("provider")); err != nil {
		return s.handleError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// validateKey checks a key against the provider's cheapest authenticated
// endpoint. The key comes from the body, or falls back to the caller's
// resolved credential.
func (s *Server) validateKey(c echo.Context) error {
	var req keyRequest
	if err := c.Bind(&req); err != nil {
		return invalidRequest(c, "invalid request body: "+err.Error())
	}

	provider := c.Param("provider")
	adapter, ok := s.registry.Adapter(provider)
	if !ok {
		return c.JSON(http.StatusNotFound, errorBody("not_found", "unknown provider: "+provider))
	}

	ctx := c.Request().Context()
	key := req.Key
	if key == "" {
		cred, err := s.creds.Resolve(ctx, provider, userID(c))
		if err != nil {
			return s.handleError(c, err)
		}
		key = cred.Key
	}

	valid, err := adapter.ValidateCredential(ctx, key)
	if err != nil {
		return s.handleError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"valid": valid})
}

type instructionsBody struct {
	Instructions string `json:"instructions"`
}

func (s *Server) getInstructions(c echo.Context) error {
	instructions, err := s.store.GetCustomInstructions(c.Request().Context(), userID(c))
	if err != nil {
		return s.handleError(c, err)
	}
	return c.JSON(http.StatusOK, instructionsBody{Instructions: instructions})
}

func (s *Server) putInstructions(c echo.Context) error {
	var req instructionsBody
	if err := c.Bind(&req); err != nil {
		return invalidRequest(c, "invalid request body: "+err.Error())
	}
	if err := s.store.SetCustomInstructions(c.Request().Context(), userID(c), req.Instructions); err != nil {
		return s.handleError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "stored"})
}

// providerOf resolves the first-party provider name for persistence. Best
// effort only; an aggregator fallback still records the first-party name.
func (s *Server) providerOf(ctx context.Context, modelID, uid string) string {
	model, _, err := s.registry.Lookup(ctx, modelID, uid)
	if err != nil {
		return ""
	}
	return model.Provider
}

// handleError maps gateway errors onto HTTP responses. The provider error
// shape crosses the wire unchanged so clients can branch on retryable.
func (s *Server) handleError(c echo.Context, err error) error {
	var perr *core.ProviderError
	if errors.As(err, &perr) {
		metrics.UpstreamErrors.WithLabelValues(perr.Provider, strconv.FormatBool(perr.Retryable)).Inc()
		return c.JSON(perr.HTTPStatusCode(), map[string]any{"error": perr})
	}
	if errors.Is(err, registry.ErrModelNotFound) {
		return c.JSON(http.StatusNotFound, errorBody("not_found", err.Error()))
	}
	if errors.Is(err, credentials.ErrNoCredential) {
		return c.JSON(http.StatusUnauthorized, errorBody("authentication_error", err.Error()))
	}
	return c.JSON(http.StatusInternalServerError, errorBody("internal_error", "an unexpected error occurred"))
}

func invalidRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, errorBody("invalid_request", message))
}

func errorBody(kind, message string) map[string]any {
	return map[string]any{
		"error": map[string]string{
			"type":    kind,
			"message": message,
		},
	}
}

// writeEvent writes one SSE frame and flushes it to the client.
func writeEvent(w *echo.Response, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	w.Flush()
}
