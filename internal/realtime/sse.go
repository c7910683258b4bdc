package realtime

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// sseTransport is the fallback framing: server-to-client frames arrive on a
// text/event-stream response, client-to-server verbs are POSTed to the
// realtime command endpoint.
type sseTransport struct {
	origin string
	meta   DialMeta
	client *http.Client

	cancel context.CancelFunc
	body   interface{ Close() error }
	reader *bufio.Reader
}

// DialSSE establishes the SSE framing mode against the push origin.
func DialSSE(ctx context.Context, origin string, meta DialMeta) (Transport, error) {
	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet,
		strings.TrimRight(origin, "/")+"/realtime/stream", nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if meta.Token != "" {
		req.Header.Set("Authorization", "Bearer "+meta.Token)
	}
	if meta.Instance != "" {
		req.Header.Set("X-Client-Instance", meta.Instance)
	}

	client := &http.Client{} // no global timeout: the stream is long-lived

	// Bound the handshake by the caller's context without tying the
	// stream's lifetime to it.
	type dialResult struct {
		resp *http.Response
		err  error
	}
	resultCh := make(chan dialResult, 1)
	go func() {
		resp, err := client.Do(req)
		resultCh <- dialResult{resp, err}
	}()

	var resp *http.Response
	select {
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	case r := <-resultCh:
		if r.err != nil {
			cancel()
			return nil, r.err
		}
		resp = r.resp
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("sse handshake: unexpected status %d", resp.StatusCode)
	}

	return &sseTransport{
		origin: strings.TrimRight(origin, "/"),
		meta:   meta,
		client: &http.Client{Timeout: 10 * time.Second},
		cancel: cancel,
		body:   resp.Body,
		reader: bufio.NewReader(resp.Body),
	}, nil
}

// Send posts a client-to-server verb to the command endpoint.
func (t *sseTransport) Send(f Frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, t.origin+"/realtime/command", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.meta.Token != "" {
		req.Header.Set("Authorization", "Bearer "+t.meta.Token)
	}
	if t.meta.Instance != "" {
		req.Header.Set("X-Client-Instance", t.meta.Instance)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("realtime command: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Receive parses the next event from the stream. SSE framing: "event:" and
// "data:" lines terminated by a blank line; comment lines start with ":".
func (t *sseTransport) Receive() (Frame, error) {
	var event string
	var data []byte

	for {
		line, err := t.reader.ReadString('\n')
		if err != nil {
			return Frame{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if event == "" && len(data) == 0 {
				continue // keepalive separator
			}
			if event == "disconnect" {
				return Frame{}, ErrServerClosed
			}
			if event == "" {
				event = "message"
			}
			return Frame{Event: event, Data: data}, nil
		case strings.HasPrefix(line, ":"):
			// keepalive comment
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			chunk := strings.TrimPrefix(line, "data:")
			chunk = strings.TrimPrefix(chunk, " ")
			if len(data) > 0 {
				data = append(data, '\n')
			}
			data = append(data, chunk...)
		}
	}
}

func (t *sseTransport) Close() error {
	t.cancel()
	return t.body.Close()
}

func (t *sseTransport) Mode() string {
	return "sse"
}
