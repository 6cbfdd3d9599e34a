package monday

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"topup-reconciler/internal/config"
)

const defaultEndpoint = "https://api.monday.com/v2"

// Client is a minimal monday.com GraphQL API client covering the three
// operations the sync layer needs: create an item, post an update under it,
// and change a column value.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
}

// NewClient creates a new monday.com API client
func NewClient(cfg config.MondayConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		endpoint: defaultEndpoint,
		token:    cfg.APIToken,
		http:     &http.Client{Timeout: timeout},
	}
}

// NewClientWithEndpoint creates a client against a non-default endpoint.
// Used by tests.
func NewClientWithEndpoint(cfg config.MondayConfig, endpoint string) *Client {
	c := NewClient(cfg)
	c.endpoint = endpoint
	return c
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// CreateItem creates a board item and returns its id. columnValues maps
// column ids to monday column value payloads.
func (c *Client) CreateItem(ctx context.Context, boardID, groupID, name string, columnValues map[string]interface{}) (string, error) {
	encoded, err := json.Marshal(columnValues)
	if err != nil {
		return "", fmt.Errorf("failed to encode column values: %w", err)
	}

	query := `mutation ($boardId: ID!, $groupId: String, $itemName: String!, $columnValues: JSON) {
		create_item(board_id: $boardId, group_id: $groupId, item_name: $itemName, column_values: $columnValues) { id }
	}`

	variables := map[string]interface{}{
		"boardId":      boardID,
		"itemName":     name,
		"columnValues": string(encoded),
	}
	if groupID != "" {
		variables["groupId"] = groupID
	}

	data, err := c.do(ctx, query, variables)
	if err != nil {
		return "", err
	}

	var result struct {
		CreateItem struct {
			ID string `json:"id"`
		} `json:"create_item"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("failed to decode create_item response: %w", err)
	}
	if result.CreateItem.ID == "" {
		return "", fmt.Errorf("monday returned no item id")
	}
	return result.CreateItem.ID, nil
}

// CreateUpdate posts an update (threaded comment) under an item.
func (c *Client) CreateUpdate(ctx context.Context, itemID, body string) error {
	query := `mutation ($itemId: ID!, $body: String!) {
		create_update(item_id: $itemId, body: $body) { id }
	}`

	_, err := c.do(ctx, query, map[string]interface{}{
		"itemId": itemID,
		"body":   body,
	})
	return err
}

// ChangeColumnValue sets a column value on an item.
func (c *Client) ChangeColumnValue(ctx context.Context, boardID, itemID, columnID string, value interface{}) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode column value: %w", err)
	}

	query := `mutation ($boardId: ID!, $itemId: ID!, $columnId: String!, $value: JSON!) {
		change_column_value(board_id: $boardId, item_id: $itemId, column_id: $columnId, value: $value) { id }
	}`

	_, err = c.do(ctx, query, map[string]interface{}{
		"boardId":  boardID,
		"itemId":   itemID,
		"columnId": columnID,
		"value":    string(encoded),
	})
	return err
}

// do executes one GraphQL request and returns the data payload.
func (c *Client) do(ctx context.Context, query string, variables map[string]interface{}) (json.RawMessage, error) {
	payload, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("monday API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read monday API response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("monday API returned status %d: %s", resp.StatusCode, string(body))
	}

	var gqlResp graphQLResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return nil, fmt.Errorf("failed to decode monday API response: %w", err)
	}
	if len(gqlResp.Errors) > 0 {
		return nil, fmt.Errorf("monday API error: %s", gqlResp.Errors[0].Message)
	}

	return gqlResp.Data, nil
}
