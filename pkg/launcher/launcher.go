// Package launcher is the external collaborator described by the
// transport's scope: it spawns a browser driver binary (or talks to one
// already running), discovers a WebSocket URL, and exposes the small
// WebDriver-classic HTTP contract (GET /status, POST /session, DELETE
// /session/{id}, GET /shutdown) used to bootstrap and tear down a
// session. The Transport never imports this package; it only ever
// consumes the WebSocket URL string produced here.
package launcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	rodlauncher "github.com/go-rod/rod/lib/launcher"
)

// portMu guards the find-free-port-then-spawn window. A race with other
// local binders remains possible; this process-wide lock only protects
// against concurrent Launches racing each other within this process, per
// the design's accepted "global static lock" tradeoff.
var portMu sync.Mutex

// Launcher supervises one driver process and/or talks to its HTTP
// surface once running.
type Launcher struct {
	BinPath  string
	Headless bool

	HTTPClient *http.Client

	mu      sync.Mutex
	proc    *exec.Cmd
	rodProc *rodlauncher.Launcher
}

// New returns a Launcher that will spawn binPath when asked to.
func New(binPath string) *Launcher {
	return &Launcher{
		BinPath:    binPath,
		Headless:   true,
		HTTPClient: http.DefaultClient,
	}
}

// Launch spawns the configured browser binary using go-rod's process
// supervisor (binary discovery, headless flags, leakless babysitting) and
// returns the browser's own WebSocket debugger URL directly, the way a
// modern browser's direct-CDP launch mode works. Use this when the
// Transport should dial the browser's socket straight away, without an
// intermediate WebDriver-classic HTTP server.
func (l *Launcher) Launch(ctx context.Context) (wsURL string, err error) {
	portMu.Lock()
	defer portMu.Unlock()

	rl := rodlauncher.New().Headless(l.Headless).Leakless(true)
	if l.BinPath != "" {
		rl = rl.Bin(l.BinPath)
	}
	rl = rl.Context(ctx)

	wsURL, err = rl.Launch()
	if err != nil {
		return "", fmt.Errorf("launcher: launch: %w", err)
	}

	l.mu.Lock()
	l.rodProc = rl
	l.mu.Unlock()

	return wsURL, nil
}

// SpawnClassic starts binPath as a WebDriver-classic-style remote end:
// binds a free local port, passes it via args (every argument that is
// exactly "%d" is replaced by the port number), and returns the base HTTP URL (e.g. "http://127.0.0.1:4444")
// once the process has been started. It does not wait for readiness —
// call WaitForStatus for that.
func (l *Launcher) SpawnClassic(ctx context.Context, args ...string) (baseURL string, err error) {
	portMu.Lock()
	defer portMu.Unlock()

	port, err := freePort()
	if err != nil {
		return "", fmt.Errorf("launcher: acquire port: %w", err)
	}

	substituted := make([]string, len(args))
	for i, a := range args {
		if a == "%d" {
			substituted[i] = strconv.Itoa(port)
		} else {
			substituted[i] = a
		}
	}

	cmd := exec.CommandContext(ctx, l.BinPath, substituted...)
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("launcher: spawn %s: %w", l.BinPath, err)
	}

	l.mu.Lock()
	l.proc = cmd
	l.mu.Unlock()

	return fmt.Sprintf("http://127.0.0.1:%d", port), nil
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// WaitForStatus polls GET baseURL+"/status" until it reports HTTP 200
// with an application/json body, or ctx expires.
func (l *Launcher) WaitForStatus(ctx context.Context, baseURL string) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		if ok, err := l.probeStatus(ctx, baseURL); ok {
			return nil
		} else if ctx.Err() != nil {
			return fmt.Errorf("launcher: waiting for %s/status: %w", baseURL, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("launcher: waiting for %s/status: %w", baseURL, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *Launcher) probeStatus(ctx context.Context, baseURL string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/status", nil)
	if err != nil {
		return false, err
	}
	resp, err := l.client().Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK &&
		strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json"), nil
}

// Capabilities is the minimal WebDriver Classic capabilities payload
// needed to exercise NewSession end to end.
type Capabilities struct {
	AlwaysMatch map[string]any `json:"alwaysMatch,omitempty"`
}

type sessionRequest struct {
	Capabilities Capabilities `json:"capabilities"`
}

type sessionResponse struct {
	Value struct {
		SessionID    string `json:"sessionId"`
		Capabilities struct {
			WebSocketURL string `json:"webSocketUrl"`
		} `json:"capabilities"`
	} `json:"value"`
}

// NewSession issues POST baseURL+"/session" and extracts the session id
// and the browser's BiDi WebSocket URL from the response.
func (l *Launcher) NewSession(ctx context.Context, baseURL string, caps Capabilities) (sessionID, wsURL string, err error) {
	body, err := json.Marshal(sessionRequest{Capabilities: caps})
	if err != nil {
		return "", "", fmt.Errorf("launcher: encode capabilities: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/session", bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client().Do(req)
	if err != nil {
		return "", "", fmt.Errorf("launcher: new session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("launcher: new session: unexpected status %d", resp.StatusCode)
	}

	var decoded sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", "", fmt.Errorf("launcher: decode session response: %w", err)
	}

	return decoded.Value.SessionID, decoded.Value.Capabilities.WebSocketURL, nil
}

// EndSession issues DELETE baseURL+"/session/{id}" to quit the browser.
func (l *Launcher) EndSession(ctx context.Context, baseURL, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, baseURL+"/session/"+sessionID, nil)
	if err != nil {
		return err
	}

	resp, err := l.client().Do(req)
	if err != nil {
		return fmt.Errorf("launcher: end session: %w", err)
	}
	defer resp.Body.Close()
	return nil
}

// Close tries the driver's optional GET /shutdown endpoint; if the
// process does not expose it, the process started by SpawnClassic is
// force-terminated after a short grace period. A browser started by
// Launch is not stopped by Close.
func (l *Launcher) Close(ctx context.Context, baseURL string) error {
	if baseURL != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/shutdown", nil)
		if err == nil {
			if resp, err := l.client().Do(req); err == nil {
				resp.Body.Close()
				if resp.StatusCode >= 200 && resp.StatusCode < 300 {
					return nil
				}
			}
		}
	}

	l.mu.Lock()
	proc := l.proc
	l.mu.Unlock()

	if proc == nil || proc.Process == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- proc.Wait() }()

	select {
	case <-done:
		return nil
	case <-time.After(3 * time.Second):
		return proc.Process.Kill()
	}
}

func (l *Launcher) client() *http.Client {
	if l.HTTPClient != nil {
		return l.HTTPClient
	}
	return http.DefaultClient
}
