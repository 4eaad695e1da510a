package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/vivaprep/defense-agent/internal/domain"
)

// Client implements domain.CallTransport against the hosted voice-call
// provider's REST API. Call lifecycle events do not come back on this
// connection; the provider posts them to our webhook endpoint.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client

	mu     sync.Mutex
	active map[domain.SessionID]string // session -> provider call id
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: 30 * time.Second},
		active:  make(map[domain.SessionID]string),
	}
}

type startCallRequest struct {
	WorkflowID string             `json:"workflowId"`
	Metadata   map[string]string  `json:"metadata"`
	Overrides  startCallOverrides `json:"assistantOverrides"`
}

type startCallOverrides struct {
	VariableValues domain.CallVariables `json:"variableValues"`
}

type startCallResponse struct {
	ID string `json:"id"`
}

func (c *Client) StartCall(ctx context.Context, workflowID string, vars domain.CallVariables) error {
	if c.apiKey == "" {
		return fmt.Errorf("voice api key not configured")
	}

	body, err := json.Marshal(startCallRequest{
		WorkflowID: workflowID,
		Metadata:   map[string]string{"sessionId": vars.SessionID},
		Overrides:  startCallOverrides{VariableValues: vars},
	})
	if err != nil {
		return fmt.Errorf("encoding call request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/call", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building call request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("voice call request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("voice provider returned %d: %s", res.StatusCode, snippet)
	}

	var out startCallResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return fmt.Errorf("decoding call response: %w", err)
	}

	c.mu.Lock()
	c.active[domain.SessionID(vars.SessionID)] = out.ID
	c.mu.Unlock()

	return nil
}

// StopCall terminates the session's active call. A session with no
// tracked call is not an error: the call may already have closed.
func (c *Client) StopCall(ctx context.Context, sessionID domain.SessionID) error {
	c.mu.Lock()
	callID, ok := c.active[sessionID]
	delete(c.active, sessionID)
	c.mu.Unlock()

	if !ok {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/call/"+callID, nil)
	if err != nil {
		return fmt.Errorf("building stop request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	res, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("voice stop request: %w", err)
	}
	defer res.Body.Close()

	// 404 means the call finished on its own, which is fine.
	if res.StatusCode >= 300 && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("voice provider returned %d on stop", res.StatusCode)
	}
	return nil
}
