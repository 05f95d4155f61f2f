// Package machineparksdk is a minimal machine park HTTP API client.
package machineparksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Machine mirrors the API machine model.
type Machine struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	Stage        string  `json:"stage"`
	Status       string  `json:"status"`
	AssemblerID  string  `json:"assembler_id"`
	VerifierID   string  `json:"verifier_id"`
	MaintainerID *string `json:"maintainer_id,omitempty"`
	CommerceID   string  `json:"commerce_id"`
}

// Component mirrors the API component model.
type Component struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"`
	PlateCode  *string `json:"plate_code,omitempty"`
	Allocation string  `json:"allocation"`
	MachineID  *string `json:"machine_id,omitempty"`
	HolderID   *string `json:"holder_id,omitempty"`
}

// TransitionResult pairs a machine with post-commit warnings.
type TransitionResult struct {
	Machine  Machine  `json:"machine"`
	Warnings []string `json:"warnings,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// Notification is an inbox row for the authenticated user.
type Notification struct {
	ID        int64   `json:"id"`
	SenderID  string  `json:"sender_id"`
	MachineID string  `json:"machine_id"`
	Kind      string  `json:"kind"`
	Message   string  `json:"message,omitempty"`
	ReadAt    *string `json:"read_at,omitempty"`
	CreatedAt string  `json:"created_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// RegisterMachine creates a machine and starts assembly.
func (c *Client) RegisterMachine(ctx context.Context, name, machineType, commerceID, plateID, enclosureID string) (TransitionResult, error) {
	body := map[string]any{
		"name":         name,
		"type":         machineType,
		"commerce_id":  commerceID,
		"plate_id":     plateID,
		"enclosure_id": enclosureID,
	}
	var resp TransitionResult
	err := c.do(ctx, http.MethodPost, "v0/machines", body, &resp)
	return resp, err
}

// Transition applies a named lifecycle operation. success is only
// consulted by finish-maintenance and may be nil otherwise; a non-empty
// message replaces the notification text for the operation.
func (c *Client) Transition(ctx context.Context, machineID, operation string, success *bool, message string) (TransitionResult, error) {
	fields := map[string]any{}
	if success != nil {
		fields["success"] = *success
	}
	if message != "" {
		fields["message"] = message
	}
	var body any
	if len(fields) > 0 {
		body = fields
	}
	endpoint := fmt.Sprintf("v0/machines/%s/transitions/%s", url.PathEscape(machineID), url.PathEscape(operation))
	var resp TransitionResult
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// GetMachine fetches a machine by ID.
func (c *Client) GetMachine(ctx context.Context, machineID string) (Machine, error) {
	var resp Machine
	err := c.do(ctx, http.MethodGet, "v0/machines/"+url.PathEscape(machineID), nil, &resp)
	return resp, err
}

// MachineComponents lists the components mounted on a machine.
func (c *Client) MachineComponents(ctx context.Context, machineID string) ([]Component, error) {
	var resp []Component
	endpoint := fmt.Sprintf("v0/machines/%s/components", url.PathEscape(machineID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GeneratePlate mints a board with a unique plate code.
func (c *Client) GeneratePlate(ctx context.Context) (Component, error) {
	var resp Component
	err := c.do(ctx, http.MethodPost, "v0/components/plates", nil, &resp)
	return resp, err
}

// UseComponent claims a component for a machine.
func (c *Client) UseComponent(ctx context.Context, componentID, machineID string) (Component, error) {
	body := map[string]any{"machine_id": machineID}
	endpoint := fmt.Sprintf("v0/components/%s/use", url.PathEscape(componentID))
	var resp Component
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ReleaseComponent returns a component to the pool.
func (c *Client) ReleaseComponent(ctx context.Context, componentID string) (Component, error) {
	endpoint := fmt.Sprintf("v0/components/%s/release", url.PathEscape(componentID))
	var resp Component
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Notifications lists notifications for the authenticated user.
func (c *Client) Notifications(ctx context.Context, unreadOnly bool) ([]Notification, error) {
	endpoint := "v0/notifications"
	if unreadOnly {
		endpoint += "?unread=true"
	}
	var resp []Notification
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
