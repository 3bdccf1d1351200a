package media

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// HTTPSummarizer produces call summaries through a summarization endpoint.
// The endpoint may answer with a single JSON object or stream deltas as
// SSE/NDJSON lines; both arrive on the returned channel.
type HTTPSummarizer struct {
	url    string
	client *http.Client
}

func NewHTTPSummarizer(url string, timeout time.Duration) *HTTPSummarizer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSummarizer{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type summarizeRequest struct {
	Instructions string   `json:"instructions"`
	Transcript   []string `json:"transcript"`
}

func (s *HTTPSummarizer) Summarize(ctx context.Context, instructions string, transcript []string) (<-chan string, error) {
	payload, err := json.Marshal(summarizeRequest{
		Instructions: instructions,
		Transcript:   transcript,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal summarize request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create summarize request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send summarize request: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		res.Body.Close()
		return nil, fmt.Errorf("summarizer http status %d: %s", res.StatusCode, string(body))
	}

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	if strings.Contains(ct, "text/event-stream") || strings.Contains(ct, "application/x-ndjson") {
		ch := make(chan string, 16)
		go func() {
			defer close(ch)
			defer res.Body.Close()
			s.consumeStream(ctx, res.Body, ch)
		}()
		return ch, nil
	}

	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read summarize response: %w", err)
	}

	text := strings.TrimSpace(string(body))
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err == nil {
		text = strings.TrimSpace(extractSummaryText(obj))
	}

	ch := make(chan string, 1)
	if text != "" {
		ch <- text
	}
	close(ch)
	return ch, nil
}

func (s *HTTPSummarizer) consumeStream(ctx context.Context, body io.Reader, ch chan<- string) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
		if line == "" || line == "[DONE]" {
			continue
		}

		delta := line
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err == nil {
			// Keep delta whitespace intact; the caller concatenates them.
			delta = extractSummaryText(obj)
		}
		if strings.TrimSpace(delta) == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case ch <- delta:
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("summarizer stream read: %v", err)
	}
}

func extractSummaryText(obj map[string]any) string {
	for _, k := range []string{"summary", "text", "delta", "output"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
