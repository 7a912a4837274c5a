package cmd

import (
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"time"

	"firestige.xyz/duskq/internal/config"
	"firestige.xyz/duskq/internal/daemon"
	"firestige.xyz/duskq/internal/wire"
)

// dialTimeout bounds how long the client waits to reach the daemon.
const dialTimeout = 5 * time.Second

// client is a short-lived connection to the daemon: connect, handshake,
// send exactly the requests the caller wants, then close.
type client struct {
	conn net.Conn
}

// dial loads cfg's daemon address, connects, and performs the secret
// handshake, warning on a version mismatch rather than failing closed.
func dial(cfg *config.GlobalConfig) (*client, error) {
	conn, err := dialAddr(cfg)
	if err != nil {
		return nil, err
	}

	secret, err := os.ReadFile(cfg.SharedSecretPath())
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read shared secret: %w", err)
	}

	if err := wire.WriteFrame(conn, secret); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send secret: %w", err)
	}

	versionBytes, err := wire.ReadFrame(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	if string(versionBytes) != daemon.Version {
		fmt.Fprintf(os.Stderr, "warning: daemon version %q differs from client version %q\n", versionBytes, daemon.Version)
	}

	return &client{conn: conn}, nil
}

func dialAddr(cfg *config.GlobalConfig) (net.Conn, error) {
	d := cfg.Daemon
	if d.TCPAddress != "" {
		return tls.DialWithDialer(&net.Dialer{Timeout: dialTimeout}, "tcp", d.TCPAddress, &tls.Config{InsecureSkipVerify: true})
	}
	return net.DialTimeout("unix", d.SocketPath, dialTimeout)
}

// call sends one request and returns the daemon's response.
func (c *client) call(req wire.Request) (wire.Response, error) {
	if err := wire.WriteRequest(c.conn, req); err != nil {
		return wire.Response{}, fmt.Errorf("send request: %w", err)
	}
	resp, err := wire.ReadResponse(c.conn)
	if err != nil {
		return wire.Response{}, fmt.Errorf("read response: %w", err)
	}
	return resp, nil
}

func (c *client) Close() error {
	return c.conn.Close()
}

// loadClientConfig loads the config file named by the --config flag,
// exiting the process on failure since every command needs it to find
// the daemon's socket and shared secret.
func loadClientConfig() *config.GlobalConfig {
	cfg, err := config.Load(configFile)
	if err != nil {
		exitWithError("failed to load config", err)
	}
	return cfg
}

// dispatch is the one-shot convenience path most commands use: load
// config, dial, send req, close, and exit(1) with the failure message on
// either a transport error or a Failure response.
func dispatch(req wire.Request) wire.Response {
	cfg := loadClientConfig()
	c, err := dial(cfg)
	if err != nil {
		exitWithError("failed to connect to daemon", err)
	}
	defer c.Close()

	resp, err := c.call(req)
	if err != nil {
		exitWithError("request failed", err)
	}
	if !resp.IsSuccess() {
		exitWithError(resp.Message, nil)
	}
	return resp
}
