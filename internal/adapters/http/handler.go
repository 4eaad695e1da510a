package httpadapter

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/vivaprep/defense-agent/internal/app/defense"
	"github.com/vivaprep/defense-agent/internal/app/extract"
	sessionapp "github.com/vivaprep/defense-agent/internal/app/session"
	"github.com/vivaprep/defense-agent/internal/domain"
)

var validate = validator.New()

type Server struct {
	sessions   *sessionapp.Service
	registry   *defense.Registry
	webhookKey string
}

// NewRouter wires the full API surface: session CRUD, call control and
// the voice provider's webhook.
func NewRouter(sessions *sessionapp.Service, registry *defense.Registry, jwtSecret, webhookKey string) *gin.Engine {
	s := &Server{
		sessions:   sessions,
		registry:   registry,
		webhookKey: webhookKey,
	}

	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(), CORS())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/webhooks/voice", s.handleVoiceWebhook)

	authed := r.Group("/")
	authed.Use(Authenticate(jwtSecret))
	{
		authed.POST("/sessions", s.handleCreateSession)
		authed.GET("/sessions", s.handleListSessions)
		authed.GET("/sessions/community", s.handleListCommunity)
		authed.GET("/sessions/:id", s.handleGetSession)
		authed.DELETE("/sessions/:id", s.handleDeleteSession)
		authed.GET("/sessions/:id/feedback", s.handleGetFeedback)
		authed.POST("/sessions/:id/call/start", s.handleCallStart)
		authed.POST("/sessions/:id/call/stop", s.handleCallStop)
		authed.GET("/sessions/:id/call", s.handleCallStatus)
	}

	return r
}

// ─────────────────────────────────────────────
// DTOs (request/response)
// ─────────────────────────────────────────────

type sessionResponse struct {
	ID                  string     `json:"id"`
	UserID              string     `json:"user_id"`
	Title               string     `json:"title"`
	Level               string     `json:"level"`
	Techstack           []string   `json:"techstack"`
	FocusRatio          string     `json:"focus_ratio,omitempty"`
	Questions           []string   `json:"questions"`
	Finalized           bool       `json:"finalized"`
	Status              string     `json:"status"`
	FeedbackGeneratedAt *time.Time `json:"feedback_generated_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

type createSessionResponse struct {
	Session sessionResponse `json:"session"`
	Warning string          `json:"warning,omitempty"`
}

type categoryScoreResponse struct {
	Name    string `json:"name"`
	Score   int    `json:"score"`
	Comment string `json:"comment"`
}

type feedbackResponse struct {
	ID              string                  `json:"id"`
	SessionID       string                  `json:"session_id"`
	TotalScore      int                     `json:"total_score"`
	CategoryScores  []categoryScoreResponse `json:"category_scores"`
	Strengths       []string                `json:"strengths"`
	Improvements    []string                `json:"improvements"`
	FinalAssessment string                  `json:"final_assessment"`
	DocumentGaps    []string                `json:"document_gaps"`
	Suggestions     []string                `json:"suggestions"`
	CreatedAt       time.Time               `json:"created_at"`
}

type callStartRequest struct {
	Phase string `json:"phase" validate:"required,oneof=preparation examination"`
}

// ─────────────────────────────────────────────
// Session handlers
// ─────────────────────────────────────────────

func (s *Server) handleCreateSession(c *gin.Context) {
	userID, username := currentUser(c)

	title := c.PostForm("title")
	level := domain.ParseAcademicLevel(c.PostForm("level"))

	var (
		docBytes    []byte
		contentType string
		filename    string
	)
	if fh, err := c.FormFile("document"); err == nil {
		if fh.Size > extract.MaxDocumentBytes {
			c.JSON(http.StatusBadRequest, gin.H{"error": "document exceeds the 5MB limit"})
			return
		}
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not read uploaded document"})
			return
		}
		defer f.Close()

		docBytes, err = io.ReadAll(io.LimitReader(f, extract.MaxDocumentBytes+1))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not read uploaded document"})
			return
		}
		contentType = fh.Header.Get("Content-Type")
		filename = fh.Filename
	}

	out, err := s.sessions.Create(c.Request.Context(), sessionapp.CreateInput{
		UserID:      userID,
		Title:       title,
		Level:       level,
		Document:    docBytes,
		ContentType: contentType,
		Filename:    filename,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Register the controller now so the voice call keeps the document
	// context, which is never persisted.
	s.registry.GetOrCreate(out.Session, username, out.DocumentText)

	c.JSON(http.StatusCreated, createSessionResponse{
		Session: toSessionResponse(out.Session),
		Warning: out.Warning,
	})
}

func (s *Server) handleListSessions(c *gin.Context) {
	userID, _ := currentUser(c)

	list, err := s.sessions.ListMine(c.Request.Context(), userID, 0)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": toSessionsResponse(list)})
}

func (s *Server) handleListCommunity(c *gin.Context) {
	userID, _ := currentUser(c)

	list, err := s.sessions.ListCommunity(c.Request.Context(), userID, 20)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": toSessionsResponse(list)})
}

func (s *Server) handleGetSession(c *gin.Context) {
	userID, _ := currentUser(c)
	id := domain.SessionID(c.Param("id"))

	sess, err := s.sessions.Get(c.Request.Context(), id, userID)
	if err != nil {
		notFoundOrError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(sess))
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	userID, _ := currentUser(c)
	id := domain.SessionID(c.Param("id"))

	res, err := s.sessions.Delete(c.Request.Context(), id, userID)
	if err != nil {
		notFoundOrError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"deleted":          true,
		"feedback_deleted": res.FeedbackDeleted,
		"warning":          res.Warning,
	})
}

func (s *Server) handleGetFeedback(c *gin.Context) {
	userID, _ := currentUser(c)
	id := domain.SessionID(c.Param("id"))

	fb, err := s.sessions.GetFeedback(c.Request.Context(), id, userID)
	if err != nil {
		notFoundOrError(c, err)
		return
	}
	c.JSON(http.StatusOK, toFeedbackResponse(fb))
}

// ─────────────────────────────────────────────
// Call control handlers
// ─────────────────────────────────────────────

func (s *Server) handleCallStart(c *gin.Context) {
	userID, username := currentUser(c)
	id := domain.SessionID(c.Param("id"))

	var req callStartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	if err := validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := s.sessions.Get(c.Request.Context(), id, userID)
	if err != nil {
		notFoundOrError(c, err)
		return
	}

	ctrl := s.registry.GetOrCreate(sess, username, "")
	if err := ctrl.Start(c.Request.Context(), domain.Phase(req.Phase)); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, ctrl.Snapshot())
}

func (s *Server) handleCallStop(c *gin.Context) {
	userID, _ := currentUser(c)
	id := domain.SessionID(c.Param("id"))

	if _, err := s.sessions.Get(c.Request.Context(), id, userID); err != nil {
		notFoundOrError(c, err)
		return
	}

	ctrl := s.registry.Get(id)
	if ctrl == nil {
		c.JSON(http.StatusOK, gin.H{"stopped": false})
		return
	}
	ctrl.Stop(c.Request.Context())
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

func (s *Server) handleCallStatus(c *gin.Context) {
	userID, _ := currentUser(c)
	id := domain.SessionID(c.Param("id"))

	if _, err := s.sessions.Get(c.Request.Context(), id, userID); err != nil {
		notFoundOrError(c, err)
		return
	}

	ctrl := s.registry.Get(id)
	if ctrl == nil {
		c.JSON(http.StatusOK, gin.H{"status": string(domain.CallInactive)})
		return
	}
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

// ─────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────

func currentUser(c *gin.Context) (domain.UserID, string) {
	return domain.UserID(c.GetString(ctxUserID)), c.GetString(ctxUsername)
}

func toSessionResponse(s *domain.Session) sessionResponse {
	return sessionResponse{
		ID:                  string(s.ID),
		UserID:              string(s.UserID),
		Title:               s.Title,
		Level:               string(s.Level),
		Techstack:           s.Techstack,
		FocusRatio:          s.FocusRatio,
		Questions:           s.Questions,
		Finalized:           s.Finalized,
		Status:              s.Status,
		FeedbackGeneratedAt: s.FeedbackGeneratedAt,
		CreatedAt:           s.CreatedAt,
		UpdatedAt:           s.UpdatedAt,
	}
}

func toSessionsResponse(list []*domain.Session) []sessionResponse {
	out := make([]sessionResponse, 0, len(list))
	for _, s := range list {
		out = append(out, toSessionResponse(s))
	}
	return out
}

func toFeedbackResponse(fb *domain.Feedback) feedbackResponse {
	scores := make([]categoryScoreResponse, 0, len(fb.CategoryScores))
	for _, cs := range fb.CategoryScores {
		scores = append(scores, categoryScoreResponse{Name: cs.Name, Score: cs.Score, Comment: cs.Comment})
	}
	return feedbackResponse{
		ID:              string(fb.ID),
		SessionID:       string(fb.SessionID),
		TotalScore:      fb.TotalScore,
		CategoryScores:  scores,
		Strengths:       fb.Strengths,
		Improvements:    fb.Improvements,
		FinalAssessment: fb.FinalAssessment,
		DocumentGaps:    fb.DocumentGaps,
		Suggestions:     fb.Suggestions,
		CreatedAt:       fb.CreatedAt,
	}
}

func notFoundOrError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrFeedbackNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, sessionapp.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		internalError(c, err)
	}
}

func internalError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
