package httpadapter

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vivaprep/defense-agent/internal/domain"
	"github.com/vivaprep/defense-agent/internal/observability"
)

// voiceEvent is the provider's webhook payload. Every call lifecycle
// signal arrives here and is routed to the session's controller.
type voiceEvent struct {
	Type       string          `json:"type"`
	SessionID  string          `json:"sessionId"`
	Role       string          `json:"role,omitempty"`
	Transcript string          `json:"transcript,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	Error      string          `json:"error,omitempty"`
}

const (
	eventCallStarted   = "call.started"
	eventCallEnded     = "call.ended"
	eventTranscript    = "transcript"
	eventMetadata      = "metadata"
	eventSpeechStarted = "speech.started"
	eventSpeechEnded   = "speech.ended"
	eventError         = "error"
)

// handleVoiceWebhook translates provider events into controller calls.
// Malformed or unroutable events are acknowledged and logged: replying
// non-2xx would only make the provider retry something we cannot use.
func (s *Server) handleVoiceWebhook(c *gin.Context) {
	if s.webhookKey != "" && c.GetHeader("X-Webhook-Secret") != s.webhookKey {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "bad webhook secret"})
		return
	}

	var ev voiceEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		observability.LoggerFromContext(c.Request.Context()).Warn("malformed voice webhook", "error", err)
		c.JSON(http.StatusOK, gin.H{"received": false})
		return
	}

	ctx := observability.WithSessionID(c.Request.Context(), ev.SessionID)
	log := observability.LoggerFromContext(ctx)

	ctrl := s.registry.Get(domain.SessionID(ev.SessionID))
	if ctrl == nil {
		log.Warn("voice event for unknown session", "type", ev.Type)
		c.JSON(http.StatusOK, gin.H{"received": false})
		return
	}

	switch ev.Type {
	case eventCallStarted:
		ctrl.HandleCallStart(ctx)
	case eventCallEnded:
		ctrl.HandleCallEnd(ctx)
	case eventTranscript:
		ctrl.HandleTranscript(ev.Role, ev.Transcript)
	case eventMetadata:
		ctrl.HandleMetadata(ctx, ev.Metadata)
	case eventSpeechStarted:
		ctrl.HandleSpeech(ctx, true)
	case eventSpeechEnded:
		ctrl.HandleSpeech(ctx, false)
	case eventError:
		ctrl.HandleError(ctx, ev.Error)
	default:
		log.Warn("unhandled voice event type", "type", ev.Type)
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
