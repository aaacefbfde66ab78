package connector

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/a8cteam51/team51-cli-new/pkg/tasks"
)

const agentHandshakeTimeout = 10 * time.Second

// AgentConfig holds the shared secret used to sign task frames.
type AgentConfig struct {
	SignatureSecret string
}

// AgentConnector talks to a site agent over a websocket. Each task is sent
// as one signed JSON frame; the agent answers with exactly one result frame.
type AgentConnector struct {
	config AgentConfig
	dialer *websocket.Dialer
}

// NewAgentConnector builds a websocket connector.
func NewAgentConnector(config AgentConfig) (*AgentConnector, error) {
	if config.SignatureSecret == "" {
		return nil, fmt.Errorf("agent connector: signature secret is required")
	}
	return &AgentConnector{
		config: config,
		dialer: &websocket.Dialer{HandshakeTimeout: agentHandshakeTimeout},
	}, nil
}

// Open dials the target's agent endpoint.
func (c *AgentConnector) Open(ctx context.Context, target tasks.TargetDescriptor) (Session, error) {
	if target.URL == "" {
		return nil, fmt.Errorf("target %s: agent connector needs target_url", target.ID)
	}

	conn, resp, err := c.dialer.DialContext(ctx, target.URL, http.Header{})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial agent %s: %w (status %s)", target.URL, err, resp.Status)
		}
		return nil, fmt.Errorf("dial agent %s: %w", target.URL, err)
	}

	slog.Debug("agent session opened", "target", target.ID, "url", target.URL)
	return &agentSession{
		conn:   conn,
		secret: []byte(c.config.SignatureSecret),
		target: target.ID,
	}, nil
}

// taskFrame is the signed request sent to an agent.
type taskFrame struct {
	Type      string `json:"type"` // "task"
	TaskID    string `json:"task_id"`
	Command   string `json:"command"`
	Timestamp string `json:"timestamp"` // RFC3339
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"` // base64 HMAC-SHA256
}

// canonicalString must match the agent side exactly: fixed order, fixed
// delimiter.
func canonicalString(command, nonce, ts string) string {
	return fmt.Sprintf("v1|%s|%s|%s", command, nonce, ts)
}

type agentSession struct {
	conn   *websocket.Conn
	secret []byte
	target string
}

// Run sends one signed task frame and blocks for the agent's single result
// frame, returning its raw bytes for classification.
func (s *agentSession) Run(ctx context.Context, command string) ([]byte, error) {
	ts := time.Now().UTC().Format(time.RFC3339)
	nonce := uuid.NewString()

	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(canonicalString(command, nonce, ts)))

	frame := taskFrame{
		Type:      "task",
		TaskID:    uuid.NewString(),
		Command:   command,
		Timestamp: ts,
		Nonce:     nonce,
		Signature: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
	}

	payload, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("marshal task frame: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		s.conn.SetWriteDeadline(deadline)
		s.conn.SetReadDeadline(deadline)
	}

	// Unblock the pending read if ctx is cancelled without a deadline.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.conn.Close()
		case <-done:
		}
	}()

	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return nil, fmt.Errorf("send task to %s: %w", s.target, err)
	}

	_, result, err := s.conn.ReadMessage()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		return nil, fmt.Errorf("read result from %s: %w", s.target, err)
	}
	return result, nil
}

func (s *agentSession) Close() error {
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return s.conn.Close()
}
