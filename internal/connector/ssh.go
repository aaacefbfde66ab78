package connector

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/a8cteam51/team51-cli-new/pkg/tasks"
)

const (
	pressableSSHEndpoint = "ssh.pressable.com:22"
	wpcomSSHEndpoint     = "ssh.wp.com:22"

	defaultDialTimeout = 15 * time.Second
)

// SSHConfig holds the credentials used to open SSH sessions.
type SSHConfig struct {
	User        string
	KeyPath     string // PEM private key; takes precedence over Password
	Password    string
	DialTimeout time.Duration
}

// SSHConnector opens SSH sessions to targets. Hosted kinds resolve to their
// platform SSH gateway; custom targets use the descriptor URL.
type SSHConnector struct {
	config SSHConfig
	auth   []ssh.AuthMethod
}

// NewSSHConnector builds a connector from the given credentials. The private
// key, if configured, is loaded and parsed once up front so a bad key fails
// here rather than mid-dispatch.
func NewSSHConnector(config SSHConfig) (*SSHConnector, error) {
	if config.User == "" {
		return nil, fmt.Errorf("ssh connector: user is required")
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = defaultDialTimeout
	}

	var auth []ssh.AuthMethod
	if config.KeyPath != "" {
		pem, err := os.ReadFile(config.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("ssh connector: read key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("ssh connector: parse key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if config.Password != "" {
		auth = append(auth, ssh.Password(config.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("ssh connector: no key or password configured")
	}

	return &SSHConnector{config: config, auth: auth}, nil
}

// Endpoint resolves the SSH address for a target.
func (c *SSHConnector) Endpoint(target tasks.TargetDescriptor) (string, error) {
	if target.URL != "" {
		return withDefaultPort(target.URL), nil
	}
	switch target.Kind {
	case tasks.KindPressable:
		return pressableSSHEndpoint, nil
	case tasks.KindWPCOM:
		return wpcomSSHEndpoint, nil
	}
	return "", fmt.Errorf("target %s: no endpoint for kind %q", target.ID, target.Kind)
}

// Open dials the target and authenticates, honoring ctx for the dial and
// handshake.
func (c *SSHConnector) Open(ctx context.Context, target tasks.TargetDescriptor) (Session, error) {
	addr, err := c.Endpoint(target)
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: c.config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	clientConfig := &ssh.ClientConfig{
		User: c.config.User,
		Auth: c.auth,
		// The platform gateways rotate host keys per site; pinning happens
		// at the credential layer, not here.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.config.DialTimeout,
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", addr, err)
	}

	slog.Debug("ssh session opened", "target", target.ID, "addr", addr)
	return &sshSession{client: ssh.NewClient(sshConn, chans, reqs), target: target.ID}, nil
}

type sshSession struct {
	client *ssh.Client
	target string
}

// Run executes the command and buffers its combined output. The SSH client
// has no native cancellation, so a watcher goroutine tears the connection
// down when ctx expires, which unblocks the in-flight command.
func (s *sshSession) Run(ctx context.Context, command string) ([]byte, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}
	defer sess.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.client.Close()
		case <-done:
		}
	}()

	out, err := sess.CombinedOutput(command)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, ctxErr
	}
	if err != nil {
		// A non-zero remote exit still carries output worth classifying.
		if _, ok := err.(*ssh.ExitError); ok && len(out) > 0 {
			return out, nil
		}
		return out, fmt.Errorf("run on %s: %w", s.target, err)
	}
	return out, nil
}

func (s *sshSession) Close() error {
	return s.client.Close()
}

func withDefaultPort(addr string) string {
	if strings.Contains(addr, ":") {
		return addr
	}
	return addr + ":22"
}
