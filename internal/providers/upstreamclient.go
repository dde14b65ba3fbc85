package providers

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"

	"github.com/mihaisavezi/toolcall-bridge/internal/config"
	"github.com/mihaisavezi/toolcall-bridge/internal/protocol"
)

// OpenAICompatibleUpstream implements middleware.UpstreamModel against any
// OpenAI chat-completions-shaped endpoint — the one upstream text-only
// model this proxy forwards to, per SPEC_FULL.md's single-Upstream domain.
// Grounded on the teacher's (now-removed) providers/openai.go request/
// response handling and its gzip/brotli decompressReader, retained here
// since a local or self-hosted OpenAI-compatible server is free to answer
// compressed regardless of what this client requests.
type OpenAICompatibleUpstream struct {
	cfg    config.Upstream
	client *http.Client
	logger *slog.Logger
}

func NewOpenAICompatibleUpstream(cfg config.Upstream, logger *slog.Logger) *OpenAICompatibleUpstream {
	return &OpenAICompatibleUpstream{cfg: cfg, client: http.DefaultClient, logger: logger}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func toChatMessages(messages []protocol.Message) []chatMessage {
	out := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, chatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func (u *OpenAICompatibleUpstream) newRequest(ctx context.Context, messages []protocol.Message, stream bool) (*http.Request, error) {
	body := map[string]any{
		"model":    u.cfg.Model,
		"messages": toChatMessages(messages),
		"stream":   stream,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal upstream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.cfg.APIBase, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Encoding", "gzip, br")
	if u.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+u.cfg.APIKey)
	}

	return req, nil
}

func (u *OpenAICompatibleUpstream) decompress(resp *http.Response) (io.ReadCloser, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		r, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip decode upstream response: %w", err)
		}
		return r, nil
	case "br":
		return io.NopCloser(brotli.NewReader(resp.Body)), nil
	default:
		return resp.Body, nil
	}
}

// Generate performs one non-streaming upstream call and returns the
// assistant message's raw text, still in whatever in-band protocol syntax
// the upstream model chose to emit — parsing that is internal/textparser's
// job, not this client's.
func (u *OpenAICompatibleUpstream) Generate(ctx context.Context, messages []protocol.Message) (string, error) {
	req, err := u.newRequest(ctx, messages, false)
	if err != nil {
		return "", err
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upstream call: %w", err)
	}
	defer resp.Body.Close()

	body, err := u.decompress(resp)
	if err != nil {
		return "", err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("read upstream response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upstream returned %d: %s", resp.StatusCode, string(data))
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("unmarshal upstream response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("upstream response had no choices")
	}

	return parsed.Choices[0].Message.Content, nil
}

// Stream performs a streaming upstream call and returns a channel of raw
// text deltas, exactly as received — chunk-boundary safety for the
// in-band protocol sentinel is internal/streamparser's job, not this
// client's.
func (u *OpenAICompatibleUpstream) Stream(ctx context.Context, messages []protocol.Message) (<-chan string, error) {
	req, err := u.newRequest(ctx, messages, true)
	if err != nil {
		return nil, err
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream call: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("upstream returned %d: %s", resp.StatusCode, string(data))
	}

	body, err := u.decompress(resp)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}

	out := make(chan string)

	go func() {
		defer close(out)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, ": ") {
				continue
			}
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			payload := strings.TrimPrefix(line, "data: ")
			if payload == "[DONE]" {
				return
			}

			var chunk chatCompletionChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				if u.logger != nil {
					u.logger.Warn("discarding malformed upstream SSE chunk", "error", err)
				}
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}

			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				select {
				case out <- delta:
				case <-ctx.Done():
					return
				}
			}
		}

		if err := scanner.Err(); err != nil && u.logger != nil {
			u.logger.Error("upstream stream scan error", "error", err)
		}
	}()

	return out, nil
}
