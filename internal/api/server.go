package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/itss-group/projectpulse/internal/auth"
	"github.com/itss-group/projectpulse/internal/cache"
	"github.com/itss-group/projectpulse/internal/domain"
	"github.com/itss-group/projectpulse/internal/errors"
	"github.com/itss-group/projectpulse/internal/middleware"
	"github.com/itss-group/projectpulse/internal/monitoring"
	"github.com/itss-group/projectpulse/internal/pressure"
	"github.com/itss-group/projectpulse/internal/scoring"
	"github.com/itss-group/projectpulse/internal/security"
)

// Server wires the scoring and pressure engines into HTTP handlers.
type Server struct {
	scores    *scoring.Calculator
	pressure  *pressure.Calculator
	sweep     *pressure.Sweep
	tokens    *auth.TokenService
	logger    *monitoring.Logger
	respCache *cache.ResponseCache
	limiter   *security.ClientLimiter
}

// NewServer creates the HTTP layer.
func NewServer(scores *scoring.Calculator, pressureCalc *pressure.Calculator, sweep *pressure.Sweep, tokens *auth.TokenService, logger *monitoring.Logger) *Server {
	return &Server{
		scores:    scores,
		pressure:  pressureCalc,
		sweep:     sweep,
		tokens:    tokens,
		logger:    logger,
		respCache: cache.NewResponseCache(30 * time.Second),
		limiter:   security.NewClientLimiter(security.DefaultLimiterConfig()),
	}
}

// Router builds the gin engine with middleware and all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()

	r.Use(monitoring.Middleware(s.logger))
	r.Use(errors.ErrorHandler())
	r.Use(errors.RecoveryHandler())
	r.Use(security.Headers())
	r.Use(s.limiter.Middleware())
	r.Use(middleware.Compression())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:           12 * time.Hour,
		AllowCredentials: false,
	}))

	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", s.tokens.Middleware())
	{
		contributions := api.Group("/contributions")
		contributions.GET("/user/:userID/project/:projectID", s.getScore)
		contributions.GET("/project/:projectID", s.getProjectScores)
		contributions.GET("/group/:groupID", s.getGroupScores)
		contributions.POST("/project/:projectID/calculate",
			auth.RequireRole(domain.RoleInstructor), s.calculateProjectScores)
		contributions.PUT("/:id/adjust",
			auth.RequireRole(domain.RoleInstructor), s.adjustScore)
		contributions.POST("/project/:projectID/finalize",
			auth.RequireRole(domain.RoleInstructor), s.finalizeScores)

		// Project-wide pressure reads fan out over every member; cache
		// them briefly to absorb dashboard polling.
		pressureRoutes := api.Group("/pressure", s.respCache.Middleware(func(path string) bool {
			return strings.HasPrefix(path, "/api/pressure/project/")
		}))
		pressureRoutes.GET("/user/:userID", s.getUserPressure)
		pressureRoutes.GET("/project/:projectID", s.getProjectPressure)
		pressureRoutes.GET("/history/user/:userID/project/:projectID", s.getPressureHistory)
	}

	return r
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"version":   "1.0.0",
	})
}

func (s *Server) getScore(c *gin.Context) {
	userID, ok := pathID(c, "userID")
	if !ok {
		return
	}
	projectID, ok := pathID(c, "projectID")
	if !ok {
		return
	}

	score, err := s.scores.GetScoreByUserAndProject(c.Request.Context(), userID, projectID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, scoreResponse(score))
}

func (s *Server) getProjectScores(c *gin.Context) {
	projectID, ok := pathID(c, "projectID")
	if !ok {
		return
	}

	scores, err := s.scores.GetScoresByProject(c.Request.Context(), projectID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, scoresResponse(scores))
}

func (s *Server) getGroupScores(c *gin.Context) {
	groupID, ok := pathID(c, "groupID")
	if !ok {
		return
	}

	scores, err := s.scores.GetScoresByGroup(c.Request.Context(), groupID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, scoresResponse(scores))
}

func (s *Server) calculateProjectScores(c *gin.Context) {
	projectID, ok := pathID(c, "projectID")
	if !ok {
		return
	}

	if err := s.scores.CalculateScoresForProject(c.Request.Context(), projectID); err != nil {
		c.Error(err)
		return
	}

	scores, err := s.scores.GetScoresByProject(c.Request.Context(), projectID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, scoresResponse(scores))
}

func (s *Server) adjustScore(c *gin.Context) {
	scoreID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var body struct {
		AdjustedScore *float64 `json:"adjusted_score" binding:"required"`
		Reason        string   `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.Error(errors.NewValidationError("adjusted_score and reason are required"))
		return
	}

	score, err := s.scores.AdjustScore(c.Request.Context(), scoreID, *body.AdjustedScore, body.Reason)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, scoreResponse(score))
}

func (s *Server) finalizeScores(c *gin.Context) {
	projectID, ok := pathID(c, "projectID")
	if !ok {
		return
	}

	scores, err := s.scores.FinalizeScores(c.Request.Context(), projectID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, scoresResponse(scores))
}

func (s *Server) getUserPressure(c *gin.Context) {
	userID, ok := pathID(c, "userID")
	if !ok {
		return
	}

	// Project-scoped when ?projectId= is present, cross-project otherwise.
	if raw := c.Query("projectId"); raw != "" {
		projectID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.Error(errors.NewValidationError("projectId must be an integer"))
			return
		}
		score, err := s.sweep.CalculatePressureScore(c.Request.Context(), userID, projectID)
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": userID, "project_id": projectID, "pressure_score": score})
		return
	}

	result, err := s.pressure.Evaluate(c.Request.Context(), userID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) getProjectPressure(c *gin.Context) {
	projectID, ok := pathID(c, "projectID")
	if !ok {
		return
	}

	results, err := s.pressure.ProjectPressureScores(c.Request.Context(), projectID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project_id": projectID, "members": results})
}

func (s *Server) getPressureHistory(c *gin.Context) {
	userID, ok := pathID(c, "userID")
	if !ok {
		return
	}
	projectID, ok := pathID(c, "projectID")
	if !ok {
		return
	}

	points, err := s.sweep.History(c.Request.Context(), userID, projectID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "project_id": projectID, "history": points})
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		c.Error(errors.NewValidationError(name + " must be an integer"))
		return 0, false
	}
	return id, true
}

func scoreResponse(score *domain.ContributionScore) gin.H {
	return gin.H{
		"id":                      score.ID,
		"user_id":                 score.UserID,
		"project_id":              score.ProjectID,
		"task_completion_score":   score.TaskCompletionScore,
		"peer_review_score":       score.PeerReviewScore,
		"code_contribution_score": score.CodeContributionScore,
		"total_additions":         score.TotalAdditions,
		"total_deletions":         score.TotalDeletions,
		"late_task_count":         score.LateTaskCount,
		"calculated_score":        score.CalculatedScore,
		"adjusted_score":          score.AdjustedScore,
		"adjustment_reason":       score.AdjustmentReason,
		"effective_score":         score.EffectiveScore(),
		"is_final":                score.IsFinal,
		"updated_at":              score.UpdatedAt.Format(time.RFC3339),
	}
}

func scoresResponse(scores []*domain.ContributionScore) gin.H {
	items := make([]gin.H, len(scores))
	for i, score := range scores {
		items[i] = scoreResponse(score)
	}
	return gin.H{"scores": items, "count": len(items)}
}
