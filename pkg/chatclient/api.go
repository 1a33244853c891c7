package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"marketchat/internal/domain/entity"
)

// API is the request/response boundary the session uses for the transcript
// snapshot and for the HTTP fallback while the live transport is down.
type API interface {
	ListMessages(ctx context.Context, chatID string) ([]*entity.Message, error)
	SendMessage(ctx context.Context, chatID, body, kind, nonce string) (*entity.Message, error)
	MarkRead(ctx context.Context, chatID string, upTo time.Time) error
}

type httpAPI struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPAPI builds the default API client against the chat backend.
func NewHTTPAPI(baseURL, token string) API {
	return &httpAPI{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type pageData struct {
	Items json.RawMessage `json:"items"`
}

func (a *httpAPI) ListMessages(ctx context.Context, chatID string) ([]*entity.Message, error) {
	env, err := a.do(ctx, http.MethodGet, "/v1/chats/"+chatID+"/messages", nil)
	if err != nil {
		return nil, err
	}

	var page pageData
	if err := json.Unmarshal(env.Data, &page); err != nil {
		return nil, fmt.Errorf("chatclient: decode transcript: %w", err)
	}

	var messages []*entity.Message
	if len(page.Items) > 0 {
		if err := json.Unmarshal(page.Items, &messages); err != nil {
			return nil, fmt.Errorf("chatclient: decode transcript items: %w", err)
		}
	}

	return messages, nil
}

func (a *httpAPI) SendMessage(ctx context.Context, chatID, body, kind, nonce string) (*entity.Message, error) {
	env, err := a.do(ctx, http.MethodPost, "/v1/chats/"+chatID+"/messages", map[string]string{
		"body":  body,
		"kind":  kind,
		"nonce": nonce,
	})
	if err != nil {
		return nil, err
	}

	var message entity.Message
	if err := json.Unmarshal(env.Data, &message); err != nil {
		return nil, fmt.Errorf("chatclient: decode message: %w", err)
	}

	return &message, nil
}

func (a *httpAPI) MarkRead(ctx context.Context, chatID string, upTo time.Time) error {
	payload := map[string]string{}
	if !upTo.IsZero() {
		payload["up_to"] = upTo.UTC().Format(time.RFC3339)
	}

	_, err := a.do(ctx, http.MethodPost, "/v1/chats/"+chatID+"/read", payload)
	return err
}

func (a *httpAPI) do(ctx context.Context, method, path string, payload interface{}) (*envelope, error) {
	var reqBody bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&reqBody).Encode(payload); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, &reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("chatclient: decode response: %w", err)
	}

	if !env.Success {
		if env.Error != nil {
			return nil, fmt.Errorf("chatclient: %s: %s", env.Error.Code, env.Error.Message)
		}
		return nil, fmt.Errorf("chatclient: request failed with status %d", resp.StatusCode)
	}

	return &env, nil
}
