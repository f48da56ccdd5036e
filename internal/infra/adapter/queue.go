package adapter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/npcforge/npcforge/internal/domain"
)

// rejectSubstrings are checked case-insensitively against a successful
// transport response; a match rejects the future even though the
// transport call itself succeeded.
var rejectSubstrings = []string{"unknown command", "no such player", "error", "failed"}

// SendCommand enqueues cmd and blocks until a response, timeout, or
// disconnect. Relative order of calls from the same goroutine is
// preserved by the single dispatcher/single-in-flight design.
func (a *Adapter) SendCommand(ctx context.Context, cmd string) (string, error) {
	req := &commandRequest{cmd: cmd, resultCh: make(chan commandResult, 1), enqueuedAt: time.Now()}

	a.mu.Lock()
	a.queue = append(a.queue, req)
	if len(a.queue) > a.queueHighWater {
		a.queueHighWater = len(a.queue)
	}
	a.mu.Unlock()

	select {
	case a.queueSignal <- struct{}{}:
	default:
	}

	select {
	case res := <-req.resultCh:
		return res.response, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// dispatchLoop is the single writer goroutine that sends one command at a
// time, spaced by the configured rate limit, racing each send against the
// per-command timeout.
func (a *Adapter) dispatchLoop() {
	defer a.wg.Done()
	minSpacing := time.Duration(float64(time.Second) / a.cfg.MaxCommandsPerSecond)

	for {
		select {
		case <-a.stopCh:
			return
		case <-a.queueSignal:
		}

		for {
			a.mu.Lock()
			if a.state != StateConnected || len(a.queue) == 0 {
				a.mu.Unlock()
				break
			}
			req := a.queue[0]
			a.queue = a.queue[1:]
			transport := a.transport
			lastSend := a.lastSendAt
			a.mu.Unlock()

			if wait := minSpacing - time.Since(lastSend); wait > 0 {
				time.Sleep(wait)
			}

			a.sendOne(transport, req)

			a.mu.Lock()
			a.lastSendAt = time.Now()
			a.mu.Unlock()
		}
	}
}

func (a *Adapter) sendOne(transport Transport, req *commandRequest) {
	if transport == nil {
		req.resultCh <- commandResult{err: domain.ErrDisconnected}
		return
	}

	if err := a.breaker.Allow(); err != nil {
		a.mu.Lock()
		a.metrics.CommandsFailed++
		a.mu.Unlock()
		req.resultCh <- commandResult{err: fmt.Errorf("%w: %v", domain.ErrCommandFailed, err)}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.CommandTimeout)
	defer cancel()

	type sendOutcome struct {
		resp string
		err  error
	}
	done := make(chan sendOutcome, 1)
	go func() {
		resp, err := transport.SendCommand(ctx, req.cmd)
		done <- sendOutcome{resp, err}
	}()

	select {
	case out := <-done:
		a.mu.Lock()
		a.metrics.LastCommandAt = time.Now()
		if out.err != nil {
			a.metrics.CommandsFailed++
		} else if looksLikeFailure(out.resp) {
			a.metrics.CommandsFailed++
			out.err = domain.ErrCommandFailed
		} else {
			a.metrics.CommandsSent++
		}
		a.mu.Unlock()
		if out.err != nil {
			a.breaker.RecordFailure()
		} else {
			a.breaker.RecordSuccess()
		}
		req.resultCh <- commandResult{response: out.resp, err: out.err}
	case <-ctx.Done():
		a.mu.Lock()
		a.metrics.CommandsTimedOut++
		a.mu.Unlock()
		a.breaker.RecordFailure()
		req.resultCh <- commandResult{err: domain.ErrCommandTimeout}
	}
}

func looksLikeFailure(response string) bool {
	if response == "" {
		return false
	}
	lower := strings.ToLower(response)
	for _, s := range rejectSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// drainQueue rejects every pending command with err, used on disconnect.
func (a *Adapter) drainQueue(err error) {
	a.mu.Lock()
	pending := a.queue
	a.queue = nil
	a.mu.Unlock()

	for _, req := range pending {
		req.resultCh <- commandResult{err: err}
	}
}
