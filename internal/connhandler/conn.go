package connhandler

import (
	"bytes"
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"firestige.xyz/duskq/internal/dispatcher"
	"firestige.xyz/duskq/internal/state"
	"firestige.xyz/duskq/internal/wire"
)

// followInterval is how often the StreamLog routine polls the task's log
// file for new bytes.
const followInterval = 500 * time.Millisecond

// handleConn implements the per-connection lifecycle: secret
// handshake with a one-second floor, version reply, then a request loop
// that special-cases StreamLog (follow) and DaemonShutdown.
func handleConn(ctx context.Context, conn net.Conn, disp *dispatcher.Dispatcher, secret []byte, version string, shutdown func()) {
	accepted := time.Now()

	if !authenticate(conn, secret, accepted) {
		return
	}

	if err := wire.WriteFrame(conn, []byte(version)); err != nil {
		slog.Debug("connhandler: version reply failed", "error", err)
		return
	}

	for {
		req, err := wire.ReadRequest(conn)
		if err != nil {
			if err != wire.ErrPeerGone {
				slog.Debug("connhandler: read request failed", "error", err)
				wire.WriteResponse(conn, wire.Failure(fmt.Sprintf("protocol error: %v", err)))
			}
			return
		}

		if req.Kind == wire.KindStreamLog {
			followLog(ctx, conn, disp, req)
			continue
		}

		resp := disp.Dispatch(req)

		if err := wire.WriteResponse(conn, resp); err != nil {
			slog.Debug("connhandler: write response failed", "error", err)
			return
		}

		if req.Kind == wire.KindDaemonShutdown && resp.IsSuccess() {
			if shutdown != nil {
				shutdown()
			}
			return
		}
	}
}

// authenticate reads exactly one framed blob and compares it to secret. On
// mismatch it still sleeps out the remainder of the first second since
// accept before closing, so a timing probe learns nothing from how fast
// the comparison itself ran.
func authenticate(conn net.Conn, secret []byte, accepted time.Time) bool {
	blob, err := wire.ReadFrame(conn)
	ok := err == nil && subtle.ConstantTimeCompare(blob, secret) == 1
	if ok {
		return true
	}

	if remaining := time.Second - time.Since(accepted); remaining > 0 {
		time.Sleep(remaining)
	}
	return false
}

// followLog implements the StreamLog routine: it ships the last
// req.Lines lines immediately, then polls the log file for new bytes
// every followInterval until the task reaches Done or the client
// disconnects.
func followLog(ctx context.Context, conn net.Conn, disp *dispatcher.Dispatcher, req wire.Request) {
	if len(req.Ids) == 0 {
		wire.WriteResponse(conn, wire.Failure("stream_log requires a task id"))
		return
	}
	taskID := req.Ids[0]

	path := disp.Config.TaskLogPath(taskID)
	f, err := os.Open(path)
	if err != nil {
		wire.WriteResponse(conn, wire.Failure(fmt.Sprintf("task %d has no log yet", taskID)))
		return
	}
	defer f.Close()

	if req.Lines > 0 {
		if chunk := tailLastLines(f, req.Lines); len(chunk) > 0 {
			if err := wire.WriteResponse(conn, wire.Response{Kind: wire.RespStream, Chunk: chunk}); err != nil {
				return
			}
		}
	}
	offset, _ := f.Seek(0, os.SEEK_END)

	ticker := time.NewTicker(followInterval)
	defer ticker.Stop()

	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for {
			n, err := f.ReadAt(buf, offset)
			if n > 0 {
				offset += int64(n)
				if werr := wire.WriteResponse(conn, wire.Response{Kind: wire.RespStream, Chunk: append([]byte(nil), buf[:n]...)}); werr != nil {
					return
				}
			}
			if err != nil {
				break
			}
		}

		done := taskIsDone(disp, taskID)
		if done {
			wire.WriteResponse(conn, wire.Response{Kind: wire.RespStream, Done: true})
			return
		}
	}
}

func taskIsDone(disp *dispatcher.Dispatcher, taskID int) bool {
	disp.State.Lock()
	defer disp.State.Unlock()
	t, ok := disp.State.Task(taskID)
	return !ok || t.Status.Phase == state.PhaseDone
}

func tailLastLines(f *os.File, n int) []byte {
	info, err := f.Stat()
	if err != nil {
		return nil
	}
	size := info.Size()
	if size == 0 {
		return nil
	}
	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil
	}
	trimmed := bytes.TrimSuffix(buf, []byte("\n"))
	lines := bytes.Split(trimmed, []byte("\n"))
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	out := bytes.Join(lines, []byte("\n"))
	if len(trimmed) < len(buf) {
		out = append(out, '\n')
	}
	return out
}
