//go:build windows

package procmanager

import "os"

// ipcChannel is a stub on Windows: named-pipe based child IPC is not yet
// implemented, so workers run without the metrics/heartbeat side channel.
type ipcChannel struct{}

func newIPCChannel() (*ipcChannel, *os.File, error) {
	return nil, nil, nil
}

func (c *ipcChannel) readLoop(onMessage OnMessage) {}

func (c *ipcChannel) send(req ServerRequest) {}

func (c *ipcChannel) Close() error { return nil }
