package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/prosetya/examgate/internal/middleware"
	"github.com/prosetya/examgate/internal/model"
	"github.com/prosetya/examgate/internal/proctor"
	"github.com/prosetya/examgate/internal/session"
	"github.com/prosetya/examgate/internal/submit"
	ws "github.com/prosetya/examgate/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams the live exam session: ticks, proctoring feedback and
// submission progress flow down; answers, signals and submit actions flow up.
type WSHandler struct {
	registry *session.Registry
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(registry *session.Registry, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		registry: registry,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// eventSink bridges session events onto the WebSocket. Write errors are
// swallowed: a dead socket is detected by the read loop, and the client
// re-syncs from the state endpoint on reconnect.
type eventSink struct {
	conn *ws.Conn
	log  zerolog.Logger
}

func (s *eventSink) send(v interface{}) {
	if err := s.conn.WriteTyped(v); err != nil {
		s.log.Debug().Err(err).Msg("Event write failed")
	}
}

func (s *eventSink) Tick(remainingSeconds int) {
	s.send(ws.TickEvent{Event: ws.EventTick, RemainingSeconds: remainingSeconds})
}

func (s *eventSink) Warning(message string) {
	s.send(ws.WarningEvent{Event: ws.EventWarning, Message: message})
}

func (s *eventSink) WarningCleared() {
	s.send(ws.WarningEvent{Event: ws.EventWarningCleared})
}

func (s *eventSink) Remediate(action string) {
	s.send(ws.RemediateEvent{Event: ws.EventRemediate, Action: action})
}

func (s *eventSink) ConfirmRequired(summary submit.ConfirmSummary) {
	s.send(ws.ConfirmRequiredEvent{Event: ws.EventConfirmRequired, Summary: summary})
}

func (s *eventSink) StateChanged(state submit.State) {
	s.send(ws.SubmitStateEvent{Event: ws.EventSubmitState, State: state})
}

func (s *eventSink) Completed(result *model.EvaluatedResult) {
	s.send(ws.CompletedEvent{Event: ws.EventCompleted, Result: result})
}

func (s *eventSink) SubmitFailed(reason string) {
	s.send(ws.SubmitFailedEvent{Event: ws.EventSubmitFailed, Reason: reason, Retry: true})
}

// AttemptStream godoc
// WS /ws/v1/attempts/:attempt_id/stream
// Upgrades to WebSocket and attaches the connection to the attempt's
// session controller.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attempt ID"})
		return
	}

	ctrl, err := h.registry.Get(attemptID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active session for this attempt"})
		return
	}
	if ctrl.Attempt.CandidateID != claims.CandidateID {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	rawConn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(rawConn)
	defer conn.Close()

	wsLog := h.log.With().
		Int("candidate_id", claims.CandidateID).
		Str("attempt_id", attemptID.String()).
		Logger()

	sink := &eventSink{conn: conn, log: wsLog}
	ctrl.Attach(sink)
	defer ctrl.Detach()

	wsLog.Info().Msg("Candidate connected")

	// The session outlives the request context: the controller keeps
	// ticking after a disconnect, so actions run on a background context.
	ctx := context.Background()

	for {
		var msg ws.Request
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}

		switch msg.Action {
		case ws.ActionAnswer:
			questionID, err := uuid.Parse(msg.QuestionID)
			if err != nil {
				conn.WriteError("invalid question ID")
				continue
			}
			ctrl.SetAnswer(ctx, msg.Position, questionID, msg.Value)
		case ws.ActionFlag:
			ctrl.ToggleFlag(ctx, msg.Position)
		case ws.ActionPosition:
			ctrl.SetCursor(msg.Position)
		case ws.ActionSignal:
			ctrl.Signal(ctx, proctor.Signal(msg.Signal), msg.Detail)
		case ws.ActionHeartbeat:
			ctrl.Heartbeat(ctx)
		case ws.ActionSubmit:
			ctrl.RequestSubmit(ctx)
		case ws.ActionConfirm:
			ctrl.ConfirmSubmit(ctx)
		case ws.ActionCancel:
			ctrl.CancelSubmit()
		case ws.ActionRetry:
			ctrl.RetrySubmit(ctx)
		default:
			conn.WriteError("unknown action")
		}
	}

	wsLog.Info().Msg("Candidate disconnected")
}
