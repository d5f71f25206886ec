// Package fleetclient is a small embeddable wrapper around the control
// socket, for Go programs that want to talk to a running fleetd
// without shelling out to fleetctl.
package fleetclient

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/arcflow/fleetd/internal/control"
	"github.com/arcflow/fleetd/internal/master"
)

// Config holds client configuration.
type Config struct {
	SocketPath string
	Timeout    time.Duration
	Logger     *slog.Logger
}

// DefaultConfig returns default client configuration.
func DefaultConfig(socketPath string) Config {
	return Config{SocketPath: socketPath, Timeout: 5 * time.Second}
}

// Client talks to one fleetd daemon over its control socket.
type Client struct {
	inner   *control.Client
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a client for the daemon listening on cfg.SocketPath.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		inner:   control.NewClient(cfg.SocketPath),
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}
}

// IsReachable reports whether the daemon responds to a ping.
func (c *Client) IsReachable() bool {
	resp, err := c.send(control.CmdPing, nil)
	if err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	return resp.OK
}

// ListApps returns every app's current status.
func (c *Client) ListApps() ([]master.AppStatus, error) {
	resp, err := c.send(control.CmdList, nil)
	if err != nil {
		return nil, err
	}
	var statuses []master.AppStatus
	if err := remarshal(resp.Data, &statuses); err != nil {
		return nil, fmt.Errorf("fleetclient: decode list response: %w", err)
	}
	return statuses, nil
}

// Status returns one app's current status.
func (c *Client) Status(name string) (master.AppStatus, error) {
	resp, err := c.send(control.CmdStatus, nameArgs(name))
	if err != nil {
		return master.AppStatus{}, err
	}
	var status master.AppStatus
	if err := remarshal(resp.Data, &status); err != nil {
		return master.AppStatus{}, fmt.Errorf("fleetclient: decode status response: %w", err)
	}
	return status, nil
}

// Start starts an app already declared in the daemon's fleet file.
func (c *Client) Start(name string) error {
	_, err := c.send(control.CmdStart, nameArgs(name))
	return err
}

// Stop stops a running app.
func (c *Client) Stop(name string) error {
	_, err := c.send(control.CmdStop, nameArgs(name))
	return err
}

// Restart stops and restarts an app.
func (c *Client) Restart(name string) error {
	_, err := c.send(control.CmdRestart, nameArgs(name))
	return err
}

// Reload performs a rolling reload of an app's workers.
func (c *Client) Reload(name string) error {
	_, err := c.send(control.CmdReload, nameArgs(name))
	return err
}

// Delete stops and removes an app's bookkeeping state.
func (c *Client) Delete(name string) error {
	_, err := c.send(control.CmdDelete, nameArgs(name))
	return err
}

// Logs returns the last n lines of one worker's stdout log; name is the
// worker's log name, <app>-<worker id>.
func (c *Client) Logs(name string, n int) ([]string, error) {
	args, err := json.Marshal(struct {
		Name  string `json:"name"`
		Lines int    `json:"lines"`
	}{name, n})
	if err != nil {
		return nil, err
	}
	var lines []string
	err = c.inner.SendStream(control.NewRequest(control.CmdLogs, args), func(resp control.Response) {
		if !resp.OK || resp.Done {
			return
		}
		if line, ok := resp.Data.(string); ok {
			lines = append(lines, line)
		}
	})
	return lines, err
}

func (c *Client) send(cmd string, args json.RawMessage) (control.Response, error) {
	resp, err := c.inner.Send(control.NewRequest(cmd, args), c.timeout)
	if err != nil {
		return control.Response{}, fmt.Errorf("fleetclient: %s: %w", cmd, err)
	}
	if !resp.OK {
		return resp, fmt.Errorf("fleetclient: %s: %s", cmd, resp.Error)
	}
	return resp, nil
}

func nameArgs(name string) json.RawMessage {
	data, _ := json.Marshal(struct {
		Name string `json:"name"`
	}{name})
	return data
}

// remarshal round-trips through JSON to decode resp.Data (an any, already
// JSON-unmarshaled into generic maps by internal/control's client) into a
// concrete struct.
func remarshal(data any, out any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
