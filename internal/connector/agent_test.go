package connector

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/a8cteam51/team51-cli-new/pkg/tasks"
)

const testSecret = "test-secret"

// fakeAgent upgrades one connection, verifies the task frame signature, and
// replies with a canned result frame.
func fakeAgent(t *testing.T, reply []byte) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame taskFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			t.Errorf("bad task frame: %v", err)
			return
		}
		if frame.Type != "task" || frame.TaskID == "" || frame.Nonce == "" {
			t.Errorf("incomplete task frame: %+v", frame)
		}

		mac := hmac.New(sha256.New, []byte(testSecret))
		mac.Write([]byte(canonicalString(frame.Command, frame.Nonce, frame.Timestamp)))
		want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
		if frame.Signature != want {
			t.Errorf("signature mismatch: got %s want %s", frame.Signature, want)
		}

		conn.WriteMessage(websocket.TextMessage, reply)
	}))
}

func agentTarget(server *httptest.Server) tasks.TargetDescriptor {
	return tasks.TargetDescriptor{
		ID:   "agent-1",
		Kind: tasks.KindCustom,
		URL:  "ws" + strings.TrimPrefix(server.URL, "http"),
	}
}

func TestAgentSessionRoundTrip(t *testing.T) {
	reply := []byte(`{"code":"success","target_id":"agent-1","data":{"version":"6.5"}}`)
	server := fakeAgent(t, reply)
	defer server.Close()

	c, err := NewAgentConnector(AgentConfig{SignatureSecret: testSecret})
	if err != nil {
		t.Fatalf("NewAgentConnector: %v", err)
	}

	sess, err := c.Open(context.Background(), agentTarget(server))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	out, err := sess.Run(context.Background(), "wp core version")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if string(out) != string(reply) {
		t.Errorf("out = %s, want the agent's result frame", out)
	}
}

func TestAgentSessionDeadline(t *testing.T) {
	// An agent that never answers.
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.ReadMessage()
		time.Sleep(2 * time.Second)
	}))
	defer server.Close()

	c, err := NewAgentConnector(AgentConfig{SignatureSecret: testSecret})
	if err != nil {
		t.Fatalf("NewAgentConnector: %v", err)
	}

	sess, err := c.Open(context.Background(), agentTarget(server))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := sess.Run(ctx, "wp core version"); err == nil {
		t.Fatal("expected an error from an unanswered task")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Run took %s, deadline was 100ms", elapsed)
	}
}

func TestAgentConnectorRequiresURL(t *testing.T) {
	c, err := NewAgentConnector(AgentConfig{SignatureSecret: testSecret})
	if err != nil {
		t.Fatalf("NewAgentConnector: %v", err)
	}
	target := tasks.TargetDescriptor{ID: "agent-1", Kind: tasks.KindPressable}
	if _, err := c.Open(context.Background(), target); err == nil {
		t.Error("expected an error for a target with no URL")
	}
}

func TestAgentConnectorRequiresSecret(t *testing.T) {
	if _, err := NewAgentConnector(AgentConfig{}); err == nil {
		t.Error("expected an error for an empty signature secret")
	}
}

func TestAgentConnectorDialFailure(t *testing.T) {
	c, err := NewAgentConnector(AgentConfig{SignatureSecret: testSecret})
	if err != nil {
		t.Fatalf("NewAgentConnector: %v", err)
	}
	target := tasks.TargetDescriptor{ID: "agent-1", Kind: tasks.KindCustom, URL: "ws://127.0.0.1:1/ws"}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := c.Open(ctx, target); err == nil {
		t.Error("expected a dial error")
	}
}
