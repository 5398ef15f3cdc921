package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ovillere/dinerate/internal/apperrors"
	"github.com/ovillere/dinerate/internal/config"
	"github.com/ovillere/dinerate/internal/identity"
	"github.com/ovillere/dinerate/internal/logging"
	"github.com/ovillere/dinerate/internal/middleware"
	"github.com/ovillere/dinerate/internal/models"
	"github.com/ovillere/dinerate/internal/monitoring"
	"github.com/ovillere/dinerate/internal/offline"
	"github.com/ovillere/dinerate/internal/store"
	"github.com/ovillere/dinerate/internal/validation"
)

// HealthChecker reports one dependency's health
type HealthChecker func() error

// APIServer wires the rating pipeline behind the HTTP surface
type APIServer struct {
	cfg        *config.Config
	prober     *identity.Prober
	gate       *validation.Gate
	ratings    store.Ratings
	continuity *offline.Continuity
	health     map[string]HealthChecker
}

// NewAPIServer creates the API server
func NewAPIServer(cfg *config.Config, prober *identity.Prober, gate *validation.Gate,
	ratings store.Ratings, continuity *offline.Continuity, health map[string]HealthChecker) *APIServer {
	return &APIServer{
		cfg:        cfg,
		prober:     prober,
		gate:       gate,
		ratings:    ratings,
		continuity: continuity,
		health:     health,
	}
}

// Router builds the gin engine with middleware and routes
func (s *APIServer) Router() *gin.Engine {
	if s.cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(logging.RequestLogger())
	r.Use(middleware.Recovery())
	r.Use(monitoring.GinMiddleware())

	r.GET("/health", s.handleHealth)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/identity", s.handleDeriveIdentity)
		v1.POST("/restaurants/:id/ratings", s.handleSubmitRating)
		v1.GET("/restaurants/:id/aggregate", s.handleGetAggregate)
		v1.POST("/sync", s.handleSynchronize)
		v1.POST("/connectivity", s.handleConnectivity)
	}

	return r
}

// identityRequest is the derive-identity payload
type identityRequest struct {
	Name    string               `json:"name"`
	Signals models.DeviceSignals `json:"signals"`
}

func (s *APIServer) handleDeriveIdentity(c *gin.Context) {
	var req identityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithError(c, apperrors.NewInvalidRequestError("invalid JSON body"))
		return
	}

	ident, err := s.prober.Derive(req.Signals, req.Name)
	if err != nil {
		middleware.RespondWithError(c, &apperrors.APIError{
			Code:       apperrors.ErrInvalidName,
			Message:    err.Error(),
			HTTPStatus: http.StatusBadRequest,
		})
		return
	}

	c.JSON(http.StatusOK, ident)
}

// ratingRequest is the submit-rating payload
type ratingRequest struct {
	Name        string               `json:"name"`
	Signals     models.DeviceSignals `json:"signals"`
	Overall     float64              `json:"overall" binding:"required"`
	Taste       *float64             `json:"taste,omitempty"`
	Price       *float64             `json:"price,omitempty"`
	Ambiance    *float64             `json:"ambiance,omitempty"`
	Service     *float64             `json:"service,omitempty"`
	Comment     string               `json:"comment"`
	PhotoURLs   []string             `json:"photo_urls,omitempty"`
	SubmittedAt *time.Time           `json:"submitted_at,omitempty"`
}

type ratingResponse struct {
	Rating *models.Rating    `json:"rating,omitempty"`
	Result models.GateResult `json:"result"`
	Queued bool              `json:"queued,omitempty"`
}

func (s *APIServer) handleSubmitRating(c *gin.Context) {
	restaurantID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		middleware.RespondWithError(c, apperrors.NewInvalidRequestError("invalid restaurant id"))
		return
	}

	var req ratingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithError(c, apperrors.NewInvalidRequestError("invalid JSON body"))
		return
	}

	ident, err := s.prober.Derive(req.Signals, req.Name)
	if err != nil {
		middleware.RespondWithError(c, &apperrors.APIError{
			Code:       apperrors.ErrInvalidName,
			Message:    err.Error(),
			HTTPStatus: http.StatusBadRequest,
		})
		return
	}

	submittedAt := time.Now().UTC()
	if req.SubmittedAt != nil {
		submittedAt = req.SubmittedAt.UTC()
	}

	sub := models.RatingSubmission{
		RestaurantID: restaurantID,
		Identity:     ident,
		Signals:      req.Signals,
		Overall:      req.Overall,
		Taste:        req.Taste,
		Price:        req.Price,
		Ambiance:     req.Ambiance,
		Service:      req.Service,
		Comment:      req.Comment,
		PhotoURLs:    req.PhotoURLs,
		SubmittedAt:  submittedAt,
		ClientIP:     c.ClientIP(),
		RequestID:    c.GetString(middleware.ContextKeyRequestID),
	}

	// While offline the live store is assumed unreachable, so the
	// degraded gate runs instead and the duplicate decision is deferred
	// to the sync drain.
	if !s.continuity.Online() {
		result := s.gate.ValidateOffline(c.Request.Context(), sub)
		if !result.Accepted {
			middleware.RespondWithError(c, gateError(result))
			return
		}
		if err := s.continuity.SubmitOffline(c.Request.Context(), ratingFromSubmission(sub)); err != nil {
			middleware.RespondWithError(c, apperrors.ErrInternalServerError)
			return
		}
		c.JSON(http.StatusAccepted, ratingResponse{Result: result, Queued: true})
		return
	}

	result, err := s.gate.Validate(c.Request.Context(), sub)
	if err != nil {
		middleware.RespondWithError(c, apperrors.ErrStoreUnavailableError)
		return
	}
	if !result.Accepted {
		middleware.RespondWithError(c, gateError(result))
		return
	}

	rating := ratingFromSubmission(sub)

	if result.IsUpdate {
		updated, err := s.ratings.UpdateRating(c.Request.Context(), *result.ExistingRatingID, models.RatingPatch{
			Overall:   sub.Overall,
			Taste:     sub.Taste,
			Price:     sub.Price,
			Ambiance:  sub.Ambiance,
			Service:   sub.Service,
			Comment:   optional(sub.Comment),
			PhotoURLs: sub.PhotoURLs,
		})
		if err != nil {
			middleware.RespondWithError(c, apperrors.ErrStoreUnavailableError)
			return
		}
		c.JSON(http.StatusOK, ratingResponse{Rating: updated, Result: result})
		return
	}

	if _, err := s.ratings.CreateRating(c.Request.Context(), &rating); err != nil {
		middleware.RespondWithError(c, apperrors.ErrStoreUnavailableError)
		return
	}
	c.JSON(http.StatusCreated, ratingResponse{Rating: &rating, Result: result})
}

func (s *APIServer) handleGetAggregate(c *gin.Context) {
	restaurantID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		middleware.RespondWithError(c, apperrors.NewInvalidRequestError("invalid restaurant id"))
		return
	}

	force := c.Query("refresh") == "true"

	agg, err := s.continuity.GetAggregate(c.Request.Context(), restaurantID, force)
	if err != nil {
		middleware.RespondWithError(c, apperrors.ErrStoreUnavailableError)
		return
	}
	c.JSON(http.StatusOK, agg)
}

func (s *APIServer) handleSynchronize(c *gin.Context) {
	drained, err := s.continuity.Synchronize(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"drained": drained, "complete": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"drained": drained, "complete": true})
}

type connectivityRequest struct {
	Online bool `json:"online"`
}

// handleConnectivity receives platform online/offline transitions
func (s *APIServer) handleConnectivity(c *gin.Context) {
	var req connectivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithError(c, apperrors.NewInvalidRequestError("invalid JSON body"))
		return
	}
	s.continuity.SetOnline(req.Online)
	c.JSON(http.StatusOK, gin.H{"online": req.Online})
}

func (s *APIServer) handleHealth(c *gin.Context) {
	status := http.StatusOK
	checks := make(map[string]string, len(s.health))
	for name, check := range s.health {
		if err := check(); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			checks[name] = "ok"
		}
	}
	c.JSON(status, gin.H{"status": http.StatusText(status), "checks": checks})
}

// gateError maps a gate rejection onto the API error taxonomy
func gateError(result models.GateResult) *apperrors.APIError {
	switch result.Stage {
	case validation.StageRateLimit:
		e := *apperrors.ErrRateLimitedError
		e.Details = result.Reasons
		return &e
	case validation.StageDuplicate:
		reason := "duplicate rating"
		if len(result.Reasons) > 0 {
			reason = result.Reasons[0]
		}
		return apperrors.NewDuplicateError(reason)
	case validation.StageFraud:
		return apperrors.NewFraudSuspicionError(result.Reasons)
	default:
		return apperrors.NewValidationError(result.Reasons)
	}
}

func ratingFromSubmission(sub models.RatingSubmission) models.Rating {
	return models.Rating{
		ID:           uuid.New(),
		RestaurantID: sub.RestaurantID,
		PseudonymID:  sub.Identity.PseudonymID,
		DisplayName:  sub.Identity.DisplayName,
		Overall:      sub.Overall,
		Taste:        sub.Taste,
		Price:        sub.Price,
		Ambiance:     sub.Ambiance,
		Service:      sub.Service,
		Comment:      optional(sub.Comment),
		PhotoURLs:    sub.PhotoURLs,
		Status:       models.ModerationApproved,
		CreatedAt:    sub.SubmittedAt,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
