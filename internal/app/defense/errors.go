package defense

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vivaprep/defense-agent/internal/app/feedback"
	"github.com/vivaprep/defense-agent/internal/domain"
	"github.com/vivaprep/defense-agent/internal/observability"
)

type errorClass int

const (
	errClassConnectivity errorClass = iota
	errClassAuth
	errClassUnknown
)

// classifyError sorts a transport error message into the retry
// taxonomy. An empty message is treated as connectivity: the transport
// reports low-level socket failures as empty error objects, and
// aborting a legitimate session on a blip is worse than one wasted
// reconnect. Callers log the empty case distinctly so the ambiguity
// stays visible in telemetry.
func classifyError(msg string) errorClass {
	m := strings.ToLower(strings.TrimSpace(msg))
	if m == "" {
		return errClassConnectivity
	}

	for _, kw := range []string{"unauthorized", "forbidden", "api key", "apikey", "credential", "workflow", "401", "403", "permission"} {
		if strings.Contains(m, kw) {
			return errClassAuth
		}
	}
	for _, kw := range []string{"network", "connection", "connect", "timeout", "timed out", "socket", "websocket", "offline", "disconnect"} {
		if strings.Contains(m, kw) {
			return errClassConnectivity
		}
	}
	return errClassUnknown
}

// HandleError reacts to an error signal from the transport.
// Authentication and configuration errors are terminal. Connectivity
// errors reconnect up to MaxReconnects times with a fixed backoff.
// Unknown errors in the examination phase never discard a usable
// transcript: with enough turns they fall through to feedback.
func (c *Controller) HandleError(ctx context.Context, msg string) {
	ctx = observability.WithSessionID(ctx, string(c.cfg.SessionID))
	log := observability.LoggerFromContext(ctx)

	class := classifyError(msg)
	if strings.TrimSpace(msg) == "" {
		log.Warn("empty error payload from transport, assuming connectivity failure")
	}

	switch class {
	case errClassAuth:
		log.Error("terminal call error", "error", msg)
		c.mu.Lock()
		c.clearTimersLocked()
		c.status = domain.CallError
		c.notice = Notice{Kind: NoticeBlocking, Message: "The voice service rejected the call. Check the service configuration."}
		c.mu.Unlock()

		_ = c.transport.StopCall(ctx, c.cfg.SessionID)
		c.onExit(c.cfg.SessionID, ExitAuthError)

	case errClassConnectivity:
		c.handleConnectivityError(ctx, msg)

	default:
		c.handleUnknownError(ctx, msg)
	}
}

func (c *Controller) handleConnectivityError(ctx context.Context, msg string) {
	log := observability.LoggerFromContext(ctx)

	c.mu.Lock()
	if c.reconnects >= c.timing.MaxReconnects {
		c.clearTimersLocked()
		c.status = domain.CallError
		c.notice = Notice{Kind: NoticeWarning, Message: "The connection could not be restored. Start the call again when your network is stable."}
		c.mu.Unlock()

		log.Warn("reconnect attempts exhausted", "attempts", c.timing.MaxReconnects)
		c.onExit(c.cfg.SessionID, ExitReconnectExhausted)
		return
	}

	c.reconnects++
	attempt := c.reconnects
	c.status = domain.CallError
	c.notice = Notice{Kind: NoticeWarning, Message: fmt.Sprintf("Connection lost, reconnecting (%d/%d)...", attempt, c.timing.MaxReconnects)}

	// Never two pending reconnects at once.
	c.clearReconnectTimerLocked()
	c.reconnectTimer = time.AfterFunc(c.timing.ReconnectDelay, func() {
		c.mu.Lock()
		phase := c.phase
		c.mu.Unlock()

		rctx := observability.WithSessionID(context.Background(), string(c.cfg.SessionID))
		if err := c.Start(rctx, phase); err != nil {
			observability.LoggerFromContext(rctx).Error("reconnect attempt failed", "error", err)
		}
	})
	c.mu.Unlock()

	log.Warn("connectivity error, reconnect scheduled", "error", msg, "attempt", attempt)
}

func (c *Controller) handleUnknownError(ctx context.Context, msg string) {
	log := observability.LoggerFromContext(ctx)

	c.mu.Lock()
	turns := len(c.transcript)
	salvageable := c.phase == domain.PhaseExamination && turns >= feedback.MinTranscriptTurns

	if salvageable {
		c.clearTimersLocked()
		c.status = domain.CallFinished
		transcript := make([]domain.TranscriptTurn, turns)
		copy(transcript, c.transcript)
		c.mu.Unlock()

		log.Warn("unknown error with usable transcript, generating feedback anyway", "error", msg, "turns", turns)
		c.generateFeedback(ctx, transcript)
		return
	}

	c.clearTimersLocked()
	c.status = domain.CallError
	c.notice = Notice{Kind: NoticeWarning, Message: "Something went wrong during the call."}
	c.mu.Unlock()

	log.Error("unknown call error", "error", msg)
	c.onExit(c.cfg.SessionID, ExitError)
}
