// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package plugin

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/nexusruntime/nexus/internal/errs"
)

// Process-level plugins run as child processes speaking one JSON object
// per line on stdin/stdout. The parent sends rpcRequest lines and routes
// rpcResponse lines back to waiters by id. Method "describe" is the
// handshake; "shutdown" asks the child to exit.
const (
	methodDescribe = "describe"
	methodShutdown = "shutdown"

	// maxResponseLine bounds a single response line from the child.
	maxResponseLine = 1 << 20
)

type rpcRequest struct {
	ID        string         `json:"id"`
	Method    string         `json:"method"`
	Args      map[string]any `json:"args,omitempty"`
	TimeoutMS int64          `json:"timeout_ms,omitempty"`
}

type rpcResponse struct {
	ID     string `json:"id"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// stdioPlugin adapts a child process to the Plugin contract. It
// implements Invoker and ShutdownHook.
type stdioPlugin struct {
	path    string
	name    string
	version string

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	enc     *json.Encoder
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan rpcResponse

	seq      atomic.Uint64
	done     chan struct{}
	exitErr  error
	exitOnce sync.Once

	logger zerolog.Logger
}

// startStdioPlugin launches path and completes the describe handshake
// within ctx. On any failure the child is killed and reaped.
func startStdioPlugin(ctx context.Context, path string, logger zerolog.Logger) (*stdioPlugin, error) {
	cmd := exec.Command(path)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errs.Wrap(errs.KindPluginIsolation, "failed to open plugin stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errs.Wrap(errs.KindPluginIsolation, "failed to open plugin stdout", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errs.Wrap(errs.KindPluginIsolation, "failed to open plugin stderr", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, errs.Wrap(errs.KindPluginIsolation, "failed to start plugin process", err).
			WithDetail("path", path)
	}

	p := &stdioPlugin{
		path:    path,
		cmd:     cmd,
		stdin:   stdin,
		enc:     json.NewEncoder(stdin),
		pending: make(map[string]chan rpcResponse),
		done:    make(chan struct{}),
		logger:  logger,
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		p.readLoop(stdout)
	}()
	go func() {
		defer readers.Done()
		p.relayStderr(stderr)
	}()
	go func() {
		// Wait must not run until both pipes are drained.
		readers.Wait()
		p.finish(cmd.Wait())
	}()

	if err := p.handshake(ctx); err != nil {
		p.kill()
		return nil, err
	}
	return p, nil
}

func (p *stdioPlugin) handshake(ctx context.Context) error {
	result, err := p.call(ctx, methodDescribe, nil)
	if err != nil {
		return errs.Wrap(errs.KindPluginIsolation, "plugin handshake failed", err).
			WithDetail("path", p.path)
	}
	desc, ok := result.(map[string]any)
	if !ok {
		return errs.New(errs.KindPluginIsolation, "plugin describe result is not an object").
			WithDetail("path", p.path)
	}
	p.name, _ = desc["name"].(string)
	p.version, _ = desc["version"].(string)
	if p.name == "" {
		return errs.New(errs.KindPluginIsolation, "plugin did not report a name").
			WithDetail("path", p.path)
	}
	return nil
}

func (p *stdioPlugin) Name() string    { return p.name }
func (p *stdioPlugin) Version() string { return p.version }

// Invoke sends one request and waits for its response, the context, or
// process exit, whichever comes first.
func (p *stdioPlugin) Invoke(ctx context.Context, method string, args map[string]any) (any, error) {
	return p.call(ctx, method, args)
}

func (p *stdioPlugin) call(ctx context.Context, method string, args map[string]any) (any, error) {
	select {
	case <-p.done:
		return nil, errs.Wrap(errs.KindPluginIsolation, "plugin process has exited", p.exitErr)
	default:
	}

	id := strconv.FormatUint(p.seq.Add(1), 10)
	ch := make(chan rpcResponse, 1)
	p.pendingMu.Lock()
	p.pending[id] = ch
	p.pendingMu.Unlock()
	defer func() {
		p.pendingMu.Lock()
		delete(p.pending, id)
		p.pendingMu.Unlock()
	}()

	req := rpcRequest{ID: id, Method: method, Args: args}
	if deadline, ok := ctx.Deadline(); ok {
		req.TimeoutMS = time.Until(deadline).Milliseconds()
	}

	p.writeMu.Lock()
	err := p.enc.Encode(req)
	p.writeMu.Unlock()
	if err != nil {
		return nil, errs.Wrap(errs.KindPluginIsolation, "failed to send plugin request", err)
	}

	select {
	case res := <-ch:
		if res.Error != "" {
			return nil, errs.New(errs.KindPluginIsolation, res.Error)
		}
		return res.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return nil, errs.Wrap(errs.KindPluginIsolation, "plugin process exited mid-call", p.exitErr)
	}
}

// Shutdown asks the child to exit, then kills it if it does not.
func (p *stdioPlugin) Shutdown(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	default:
	}

	// Best effort; a well-behaved child exits after responding.
	_, _ = p.call(ctx, methodShutdown, nil)

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
	}

	p.kill()
	<-p.done
	return nil
}

func (p *stdioPlugin) kill() {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}

func (p *stdioPlugin) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxResponseLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var res rpcResponse
		if err := json.Unmarshal(line, &res); err != nil {
			p.logger.Warn().Err(err).Msg("Plugin wrote an unparseable response line")
			continue
		}
		p.pendingMu.Lock()
		ch, ok := p.pending[res.ID]
		p.pendingMu.Unlock()
		if !ok {
			p.logger.Debug().Str("response_id", res.ID).Msg("Plugin response for unknown request")
			continue
		}
		ch <- res
	}
}

func (p *stdioPlugin) relayStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		p.logger.Debug().Str("stream", "stderr").Msg(scanner.Text())
	}
}

func (p *stdioPlugin) finish(err error) {
	p.exitOnce.Do(func() {
		p.exitErr = err
		close(p.done)
	})
}
