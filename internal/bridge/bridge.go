// Package bridge implements the External Ingress Bridge: an optional NATS
// subscriber that turns inbound messages from an external pub/sub system
// into synthetic Add requests injected through the same Dispatcher
// entrypoint socket clients use. It follows a Start/Stop consumer
// lifecycle: JSON payload decoding, per-message dispatch-and-log, and
// Stop nils the client to guard against double-close.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"firestige.xyz/duskq/internal/config"
	"firestige.xyz/duskq/internal/dispatcher"
	"firestige.xyz/duskq/internal/wire"
)

// AddMessage is the external wire format for a bridged Add request: the
// minimal fields an outside system can supply to enqueue a command
// without going through the CLI.
type AddMessage struct {
	OriginalCommand string            `json:"command"`
	Path            string            `json:"path"`
	Envs            map[string]string `json:"envs"`
	Group           string            `json:"group"`
	Dependencies    []int             `json:"dependencies"`
	Priority        int               `json:"priority"`
	Label           string            `json:"label"`
	Stashed         bool              `json:"stashed"`
	StartImmediate  bool              `json:"start_immediately"`
}

// Bridge subscribes to a NATS subject and dispatches each well-formed
// message as an Add request.
type Bridge struct {
	cfg  config.BridgeConfig
	disp *dispatcher.Dispatcher

	conn *nats.Conn
	sub  *nats.Subscription
}

// New builds a Bridge. It does not connect until Start is called.
func New(cfg config.BridgeConfig, disp *dispatcher.Dispatcher) *Bridge {
	return &Bridge{cfg: cfg, disp: disp}
}

// Start connects to the configured NATS server and subscribes to
// cfg.Subject. It returns once the subscription is active; message
// handling happens on NATS's own dispatch goroutines until Stop is
// called or ctx is cancelled.
func (b *Bridge) Start(ctx context.Context) error {
	if !b.cfg.Enabled {
		return nil
	}

	conn, err := nats.Connect(b.cfg.URL)
	if err != nil {
		return fmt.Errorf("bridge: connect to %s: %w", b.cfg.URL, err)
	}
	b.conn = conn

	sub, err := conn.Subscribe(b.cfg.Subject, b.handleMessage)
	if err != nil {
		conn.Close()
		return fmt.Errorf("bridge: subscribe to %s: %w", b.cfg.Subject, err)
	}
	b.sub = sub

	slog.Info("bridge subscribed", "url", b.cfg.URL, "subject", b.cfg.Subject)

	go func() {
		<-ctx.Done()
		b.Stop()
	}()
	return nil
}

func (b *Bridge) handleMessage(msg *nats.Msg) {
	var am AddMessage
	if err := json.Unmarshal(msg.Data, &am); err != nil {
		slog.Error("bridge: malformed add message", "error", err)
		return
	}
	if am.OriginalCommand == "" {
		slog.Error("bridge: add message missing command")
		return
	}

	resp := b.disp.Dispatch(wire.Request{
		Kind:            wire.KindAdd,
		OriginalCommand: am.OriginalCommand,
		Path:            am.Path,
		Envs:            am.Envs,
		Group:           am.Group,
		Dependencies:    am.Dependencies,
		Priority:        am.Priority,
		Label:           am.Label,
		Stashed:         am.Stashed,
		StartImmediate:  am.StartImmediate,
	})

	if !resp.IsSuccess() {
		slog.Error("bridge: add failed", "message", resp.Message)
		return
	}
	slog.Info("bridge: task added", "task_id", resp.TaskID)
}

// Stop unsubscribes and closes the NATS connection. Safe to call more
// than once.
func (b *Bridge) Stop() {
	if b.sub != nil {
		b.sub.Unsubscribe()
		b.sub = nil
	}
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
}
