package tui

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mcarver/toolhost/internal/protocol"
	"github.com/mcarver/toolhost/internal/registry"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// Client holds the WebSocket connection to the host plus plain HTTP
// access to its API endpoints.
type Client struct {
	apiURL     string
	wsURL      string
	conn       *websocket.Conn
	httpClient *http.Client
	incoming   chan protocol.ServerMessage
}

// NewClient creates a client for the host at addr (host:port).
func NewClient(addr string) *Client {
	return &Client{
		apiURL: "http://" + addr,
		wsURL:  "ws://" + addr + "/ws",
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
		incoming: make(chan protocol.ServerMessage, 16),
	}
}

// Connect dials the host and starts the read loop. The incoming
// channel is closed when the connection drops.
func (c *Client) Connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.wsURL, err)
	}
	c.conn = conn

	go func() {
		defer close(c.incoming)
		for {
			var msg protocol.ServerMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			c.incoming <- msg
		}
	}()
	return nil
}

// Incoming delivers messages from the host in arrival order.
func (c *Client) Incoming() <-chan protocol.ServerMessage {
	return c.incoming
}

// SendUserMessage submits one user request.
func (c *Client) SendUserMessage(text string) error {
	return c.conn.WriteJSON(protocol.ClientMessage{
		Type:    protocol.TypeUserMessage,
		Content: text,
	})
}

// ClearHistory asks the host to drop the conversation history.
func (c *Client) ClearHistory() error {
	return c.conn.WriteJSON(protocol.ClientMessage{
		Type: protocol.TypeClearHistory,
	})
}

// Close tears down the connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// ListTools fetches the registered tools from the API.
func (c *Client) ListTools() ([]registry.Tool, error) {
	resp, err := c.httpClient.Get(c.apiURL + "/tools")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error: %s", string(body))
	}

	var tools []registry.Tool
	if err := json.NewDecoder(resp.Body).Decode(&tools); err != nil {
		return nil, err
	}
	return tools, nil
}

// CheckHealth checks if the host is up.
func (c *Client) CheckHealth() (bool, error) {
	resp, err := c.httpClient.Get(c.apiURL + "/healthz")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, nil
	}

	var health struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false, err
	}
	return health.Status == "ok", nil
}
