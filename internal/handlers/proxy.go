// Package handlers adapts the middleware.Bridge to an HTTP proxy boundary:
// it accepts an Anthropic Messages-API-shaped request naming tools a
// single upstream text-only model cannot natively invoke, drives the
// bridge's transformParams/wrapGenerate/wrapStream, and renders the result
// back in Anthropic wire shape via internal/providers' outputshape helpers.
//
// Grounded on the teacher's internal/handlers/proxy.go request/response
// plumbing (token counting, SSE framing, decompression), generalized from
// "route across 5 providers" to "run the one configured upstream through
// the tool-call middleware".
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/pkoukk/tiktoken-go"

	"github.com/mihaisavezi/toolcall-bridge/internal/config"
	"github.com/mihaisavezi/toolcall-bridge/internal/idgen"
	"github.com/mihaisavezi/toolcall-bridge/internal/middleware"
	"github.com/mihaisavezi/toolcall-bridge/internal/protocol"
	"github.com/mihaisavezi/toolcall-bridge/internal/providers"
)

type ProxyHandler struct {
	config *config.Manager
	logger *slog.Logger
}

func NewProxyHandler(cfg *config.Manager, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{config: cfg, logger: logger}
}

func resolveProtocol(name string, coercion config.CoercionPolicy) (protocol.Protocol, error) {
	switch name {
	case "hermes", "":
		return protocol.NewHermes(), nil
	case "gemma":
		return protocol.NewGemma(), nil
	case "xml-element":
		throw := coercion.ThrowOnDuplicateStringTags == nil || *coercion.ThrowOnDuplicateStringTags
		return protocol.NewXMLElementWithPolicy(throw), nil
	case "ui-tars":
		return protocol.NewUITARS(), nil
	default:
		return nil, fmt.Errorf("unknown protocol %q", name)
	}
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cfg := h.config.Get()

	body, err := readBody(r)
	if err != nil {
		h.httpError(w, http.StatusBadRequest, "failed to read request body: %v", err)
		return
	}

	inputTokens := h.countInputTokens(string(body))

	req, err := parseIncomingRequest(body)
	if err != nil {
		h.httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	proto, err := resolveProtocol(cfg.Protocol, cfg.Coercion)
	if err != nil {
		h.httpError(w, http.StatusInternalServerError, "%v", err)
		return
	}

	registry, err := buildToolRegistry(req.Tools)
	if err != nil {
		h.httpError(w, http.StatusBadRequest, "invalid tool schema: %v", err)
		return
	}

	messages, err := buildMessages(req, proto)
	if err != nil {
		h.httpError(w, http.StatusBadRequest, "invalid messages: %v", err)
		return
	}

	forced, toolName := toolChoiceFromRequest(req.ToolChoice)
	choice := middleware.ToolChoice{Forced: forced, ToolName: toolName}

	bridge := &middleware.Bridge{
		Protocol: proto,
		Registry: registry,
		Upstream: providers.NewOpenAICompatibleUpstream(cfg.Upstream, h.logger),
	}

	model := cfg.Upstream.Model
	if req.Model != "" {
		model = req.Model
	}
	messageID := idgen.PartID()

	h.logger.Info("Proxying request", "protocol", cfg.Protocol, "model", model, "input_tokens", inputTokens, "stream", req.Stream, "tools", len(req.Tools))

	if req.Stream {
		h.handleStream(r.Context(), w, bridge, messages, choice, messageID, model)
		return
	}

	h.handleGenerate(r.Context(), w, bridge, messages, choice, messageID, model)
}

func (h *ProxyHandler) handleGenerate(ctx context.Context, w http.ResponseWriter, bridge *middleware.Bridge, messages []protocol.Message, choice middleware.ToolChoice, messageID, model string) {
	parts, err := bridge.WrapGenerate(ctx, messages, choice)
	if err != nil {
		h.httpError(w, http.StatusBadGateway, "upstream call failed: %v", err)
		return
	}

	msg := providers.ToAnthropicMessage(messageID, model, parts)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(msg); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}

	h.logger.Info("Completed response", "stop_reason", msg.StopReason)
}

type flushWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func (fw flushWriter) Write(p []byte) (int, error) { return fw.w.Write(p) }
func (fw flushWriter) Flush() {
	if fw.f != nil {
		fw.f.Flush()
	}
}

func (h *ProxyHandler) handleStream(ctx context.Context, w http.ResponseWriter, bridge *middleware.Bridge, messages []protocol.Message, choice middleware.ToolChoice, messageID, model string) {
	events, err := bridge.WrapStream(ctx, messages, choice)
	if err != nil {
		h.httpError(w, http.StatusBadGateway, "upstream call failed: %v", err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	fw := flushWriter{w: w, f: flusher}

	if err := providers.StreamAnthropicEvents(fw, messageID, model, events); err != nil {
		h.logger.Error("stream write error", "error", err)
	}

	h.logger.Info("Completed streaming response")
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

func (h *ProxyHandler) countInputTokens(text string) int {
	tke, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		h.logger.Error("Failed to get tiktoken encoding", "error", err)
		return 0
	}
	return len(tke.Encode(text, nil, nil))
}

func (h *ProxyHandler) httpError(w http.ResponseWriter, code int, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	h.logger.Error("HTTP Error", "code", code, "message", msg)
	http.Error(w, msg, code)
}
