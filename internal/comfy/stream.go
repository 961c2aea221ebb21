package comfy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// event is one server-pushed frame off the session-scoped stream.
type event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type executingData struct {
	Node     *string `json:"node"`
	PromptID string  `json:"prompt_id"`
}

type progressData struct {
	Node  *string `json:"node"`
	Value float64 `json:"value"`
	Max   float64 `json:"max"`
}

// AwaitCompletion opens the client's session event stream and blocks until
// the server reports the prompt finished. Success is an "executing" event
// with a null node and a matching prompt id; "execution_error" and
// "execution_interrupted" fail the wait immediately, as does a receive that
// exceeds timeout. Binary frames carry preview data and are skipped. The
// connection is closed exactly once on every exit path.
func (c *Client) AwaitCompletion(ctx context.Context, promptID string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.timeout
	}

	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, resp, err := dialer.DialContext(ctx, c.streamURL(), nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return &APIError{Op: "open event stream", Status: status, Err: err}
	}
	defer conn.Close()

	// Tear the connection down when the caller cancels so the blocked read
	// returns instead of waiting out the full deadline.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return fmt.Errorf("set stream deadline: %w", err)
		}
		frameType, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return fmt.Errorf("prompt %s: %w", promptID, ErrTimeout)
			}
			return &APIError{Op: "read event stream", Err: err}
		}
		if frameType != websocket.TextMessage {
			continue
		}

		var evt event
		if err := json.Unmarshal(payload, &evt); err != nil {
			return protocolErr("read event stream", "malformed event: %v", err)
		}
		switch evt.Type {
		case "progress":
			var data progressData
			if err := json.Unmarshal(evt.Data, &data); err == nil {
				node := "pipeline"
				if data.Node != nil && *data.Node != "" {
					node = *data.Node
				}
				log.Printf("progress %s: %v/%v", node, data.Value, data.Max)
			}
		case "execution_error":
			return &APIError{Op: "execution", Detail: strings.TrimSpace(string(evt.Data)), Err: errors.New("execution error")}
		case "execution_interrupted":
			return ErrInterrupted
		case "executing":
			var data executingData
			if err := json.Unmarshal(evt.Data, &data); err != nil {
				return protocolErr("read event stream", "malformed executing event: %v", err)
			}
			if data.Node == nil && data.PromptID == promptID {
				return nil
			}
		}
	}
}

// streamURL derives the websocket endpoint from the base URL: the scheme
// mirrors http/https as ws/wss and the session id scopes the stream.
func (c *Client) streamURL() string {
	remainder := c.baseURL
	scheme := "ws://"
	switch {
	case strings.HasPrefix(remainder, "https://"):
		scheme = "wss://"
		remainder = strings.TrimPrefix(remainder, "https://")
	case strings.HasPrefix(remainder, "http://"):
		remainder = strings.TrimPrefix(remainder, "http://")
	}
	return scheme + remainder + "/ws?clientId=" + c.clientID
}
