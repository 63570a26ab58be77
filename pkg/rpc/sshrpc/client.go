package sshrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/fleetplay/fleetplay/pkg/rpc"
	"github.com/fleetplay/fleetplay/pkg/rpc/protocol"
)

// Client dispatches agent actions over per-node SSH sessions. Connections
// are cached per node and reused across dispatch calls; sessions are
// opened per invocation.
type Client struct {
	config       *Config
	clientConfig *ssh.ClientConfig
	logger       zerolog.Logger

	mu    sync.Mutex
	conns map[string]*ssh.Client
}

// NewClient creates an SSH dispatch client.
func NewClient(config *Config, logger zerolog.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ssh config: %w", err)
	}
	clientConfig, err := config.BuildClientConfig()
	if err != nil {
		return nil, err
	}

	return &Client{
		config:       config,
		clientConfig: clientConfig,
		logger:       logger.With().Str("component", "sshrpc").Logger(),
		conns:        make(map[string]*ssh.Client),
	}, nil
}

// Dispatch implements rpc.Client. Nodes are contacted concurrently, at
// most MaxInFlight at a time, and every targeted node yields exactly one
// result: a node that cannot be reached or does not reply in time is
// reported without blocking the rest.
func (c *Client) Dispatch(ctx context.Context, req *rpc.Request) ([]*rpc.NodeResult, error) {
	options, err := json.Marshal(req.Options)
	if err != nil {
		return nil, fmt.Errorf("failed to encode options for %s#%s: %w", req.Agent, req.Action, err)
	}

	results := make([]*rpc.NodeResult, len(req.Nodes))
	sem := make(chan struct{}, c.config.MaxInFlight)

	var wg sync.WaitGroup
	for i, node := range req.Nodes {
		wg.Add(1)
		go func(i int, node string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results[i] = c.invokeNode(ctx, node, req, options)
		}(i, node)
	}
	wg.Wait()

	return results, nil
}

// invokeNode runs one invocation against one node and classifies the
// outcome.
func (c *Client) invokeNode(ctx context.Context, node string, req *rpc.Request, options []byte) *rpc.NodeResult {
	started := time.Now()

	result := func(status rpc.StatusCode, detail string) *rpc.NodeResult {
		return &rpc.NodeResult{
			Node:     node,
			Status:   status,
			Error:    detail,
			Duration: time.Since(started),
		}
	}

	nodeCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		nodeCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	conn, err := c.connection(nodeCtx, node)
	if err != nil {
		c.logger.Warn().Str("node", node).Err(err).Msg("node unreachable")
		return result(rpc.StatusUnreachable, err.Error())
	}

	invoke := &protocol.InvokeMessage{
		RequestID: req.RequestID,
		Agent:     req.Agent,
		Action:    req.Action,
		Timeout:   int(req.Timeout / time.Second),
		Caller:    req.Caller,
	}
	if invoke.Timeout <= 0 {
		invoke.Timeout = 1
	}

	// Large option payloads are staged over SFTP so the invocation frame
	// stays small.
	if len(options) > c.config.InlineOptionsLimit {
		staged, err := c.stageOptions(conn, req.RequestID, options)
		if err != nil {
			c.dropConnection(node, conn)
			return result(rpc.StatusUnreachable, fmt.Sprintf("failed to stage options: %v", err))
		}
		invoke.OptionsPath = staged
	} else {
		invoke.Options = options
	}

	reply, fail, err := c.roundTrip(nodeCtx, conn, node, invoke)
	switch {
	case err != nil:
		c.dropConnection(node, conn)
		if nodeCtx.Err() != nil {
			return result(rpc.StatusTimeout, "no reply within timeout")
		}
		return result(rpc.StatusUnreachable, err.Error())
	case fail != nil:
		return &rpc.NodeResult{
			Node:     node,
			Status:   rpc.StatusFailed,
			Error:    fmt.Sprintf("%s: %s", fail.Code, fail.Message),
			Duration: time.Since(started),
		}
	default:
		return &rpc.NodeResult{
			Node:     node,
			Status:   rpc.StatusOK,
			Payload:  reply.Payload,
			Duration: time.Since(started),
		}
	}
}

// roundTrip opens a session, starts the runner and exchanges the
// invocation frames, honoring the node context deadline.
func (c *Client) roundTrip(ctx context.Context, conn *ssh.Client, node string, invoke *protocol.InvokeMessage) (*protocol.ReplyMessage, *protocol.FailMessage, error) {
	session, err := conn.NewSession()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	stdin, err := session.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to attach stdin: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to attach stdout: %w", err)
	}

	if err := session.Start(c.config.RunnerCommand); err != nil {
		return nil, nil, fmt.Errorf("failed to start runner: %w", err)
	}

	type outcome struct {
		reply *protocol.ReplyMessage
		fail  *protocol.FailMessage
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		dec := protocol.NewDecoder(stdout)

		hello, err := dec.DecodeHello()
		if err != nil {
			done <- outcome{err: fmt.Errorf("runner handshake failed: %w", err)}
			return
		}
		c.logger.Debug().
			Str("node", node).
			Str("runner_version", hello.Version).
			Int("agents", len(hello.Agents)).
			Msg("runner ready")

		if err := protocol.NewEncoder(stdin).EncodeInvoke(invoke); err != nil {
			done <- outcome{err: fmt.Errorf("failed to send invocation: %w", err)}
			return
		}

		reply, fail, err := dec.DecodeOutcome(func(event *protocol.EventMessage) {
			c.logger.Debug().
				Str("node", node).
				Str("request_id", event.RequestID).
				Str("level", event.Level).
				Msg(event.Message)
		})
		done <- outcome{reply: reply, fail: fail, err: err}
	}()

	select {
	case <-ctx.Done():
		// Killing the session unblocks the decoder goroutine.
		_ = session.Close()
		return nil, nil, ctx.Err()
	case out := <-done:
		_ = stdin.Close()
		return out.reply, out.fail, out.err
	}
}

// stageOptions writes the options payload to the node's stage directory
// over SFTP and returns the remote path.
func (c *Client) stageOptions(conn *ssh.Client, requestID string, options []byte) (string, error) {
	sftpClient, err := sftp.NewClient(conn)
	if err != nil {
		return "", fmt.Errorf("failed to open sftp channel: %w", err)
	}
	defer sftpClient.Close()

	if err := sftpClient.MkdirAll(c.config.StageDir); err != nil {
		return "", fmt.Errorf("failed to create stage dir: %w", err)
	}

	remotePath := path.Join(c.config.StageDir, requestID+".json")
	f, err := sftpClient.Create(remotePath)
	if err != nil {
		return "", fmt.Errorf("failed to create staged file: %w", err)
	}
	defer f.Close()

	if _, err := f.ReadFrom(bytes.NewReader(options)); err != nil {
		return "", fmt.Errorf("failed to write staged options: %w", err)
	}
	if err := f.Chmod(0o600); err != nil {
		return "", fmt.Errorf("failed to restrict staged options: %w", err)
	}

	return remotePath, nil
}

// connection returns the cached connection for a node, dialing when
// needed.
func (c *Client) connection(ctx context.Context, node string) (*ssh.Client, error) {
	c.mu.Lock()
	if conn, ok := c.conns[node]; ok {
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()

	address := c.config.Address(node)

	connCh := make(chan *ssh.Client, 1)
	errCh := make(chan error, 1)
	go func() {
		conn, err := ssh.Dial("tcp", address, c.clientConfig)
		if err != nil {
			errCh <- err
			return
		}
		connCh <- conn
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-errCh:
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	case conn := <-connCh:
		c.mu.Lock()
		defer c.mu.Unlock()
		// Another goroutine may have connected first.
		if existing, ok := c.conns[node]; ok {
			_ = conn.Close()
			return existing, nil
		}
		c.conns[node] = conn
		return conn, nil
	}
}

// dropConnection removes a broken connection from the cache.
func (c *Client) dropConnection(node string, conn *ssh.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conns[node] == conn {
		delete(c.conns, node)
	}
	_ = conn.Close()
}

// Close releases every cached connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for node, conn := range c.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.conns, node)
	}
	return firstErr
}
