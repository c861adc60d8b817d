package httpserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	voteledger "gymcore/contexts/community/vote-ledger"
	voteerrors "gymcore/contexts/community/vote-ledger/domain/errors"
	votehttp "gymcore/contexts/community/vote-ledger/transport/http"
	bookingcoordinator "gymcore/contexts/scheduling/booking-coordinator"
	bookingerrors "gymcore/contexts/scheduling/booking-coordinator/domain/errors"
	bookinghttp "gymcore/contexts/scheduling/booking-coordinator/transport/http"
	"gymcore/internal/platform/auth"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	httpSwagger "github.com/swaggo/http-swagger"
	_ "gymcore/internal/platform/httpserver/docs"
)

const (
	headerRequestID      = "X-Request-ID"
	headerUserID         = "X-User-Id"
	headerIdempotencyKey = "Idempotency-Key"
	identityKey          = "identity"
)

type Options struct {
	Addr                string
	Auth                *auth.Authenticator
	AllowHeaderIdentity bool
	DevIssuer           bool
	CORSOrigins         []string
	Logger              *slog.Logger
}

type Server struct {
	engine   *gin.Engine
	logger   *slog.Logger
	addr     string
	opts     Options
	votes    voteledger.Module
	bookings bookingcoordinator.Module
}

func New(votes voteledger.Module, bookings bookingcoordinator.Module, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		engine:   gin.New(),
		logger:   opts.Logger,
		addr:     opts.Addr,
		opts:     opts,
		votes:    votes,
		bookings: bookings,
	}
	s.engine.Use(gin.Recovery(), s.requestID(), s.requestLogger())
	if len(opts.CORSOrigins) > 0 {
		s.engine.Use(cors.New(cors.Config{
			AllowOrigins:     opts.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Authorization", "Content-Type", headerIdempotencyKey, headerUserID, headerRequestID},
			ExposeHeaders:    []string{headerRequestID},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}
	s.registerRoutes()
	return s
}

// Handler exposes the router for tests and custom listeners.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// HTTPServer wraps the router with the process timeouts. The caller owns
// ListenAndServe and Shutdown.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         s.addr,
		Handler:      s.engine,
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

func (s *Server) registerRoutes() {
	s.engine.GET("/swagger/*any", gin.WrapH(httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	)))
	s.engine.GET("/health", s.handleHealth)
	if s.opts.DevIssuer {
		s.engine.POST("/jwt", s.handleIssueToken)
	}

	s.engine.GET("/forum/posts/:post_id", s.optionalIdentity(), s.handleGetPost)
	s.engine.POST("/forum/posts", s.requireIdentity(), s.handleCreatePost)
	s.engine.POST("/forum/posts/:post_id/votes", s.requireIdentity(), s.handleApplyVote)

	s.engine.GET("/classes/featured", s.handleFeaturedClasses)
	s.engine.GET("/classes/:class_id", s.handleGetClass)
	s.engine.POST("/classes", s.requireIdentity(), s.handleCreateClass)
	s.engine.POST("/classes/:class_id/trainers", s.requireIdentity(), s.handleAddTrainer)
	s.engine.GET("/slots/:slot_id", s.handleGetSlot)
	s.engine.POST("/slots", s.requireIdentity(), s.handleCreateSlot)

	s.engine.POST("/payments", s.requireIdentity(), s.handleRecordPayment)
	s.engine.GET("/payments/:id", s.handleGetPayment)
	s.engine.GET("/payments/:id/settlement", s.handleGetSettlement)

	s.engine.GET("/admin/balance", s.handleAdminBalance)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type issueTokenRequest struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Role    string `json:"role"`
}

type issueTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) handleIssueToken(c *gin.Context) {
	var req issueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	if strings.TrimSpace(req.Subject) == "" && strings.TrimSpace(req.Email) == "" {
		writeError(c, http.StatusBadRequest, "invalid_request", "sub or email is required")
		return
	}
	if s.opts.Auth == nil {
		writeError(c, http.StatusServiceUnavailable, "auth_unavailable", "token issuing is not configured")
		return
	}
	token, expiresAt, err := s.opts.Auth.Issue(req.Subject, req.Email, req.Role)
	if err != nil {
		writeError(c, http.StatusServiceUnavailable, "auth_unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, issueTokenResponse{Token: token, ExpiresAt: expiresAt})
}

func (s *Server) handleCreatePost(c *gin.Context) {
	var req votehttp.CreatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.votes.Handler.CreatePostHandler(c.Request.Context(), identityFrom(c), req)
	if err != nil {
		writeVoteDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleGetPost(c *gin.Context) {
	resp, err := s.votes.Handler.GetPostHandler(c.Request.Context(), identityFrom(c), c.Param("post_id"))
	if err != nil {
		writeVoteDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleApplyVote(c *gin.Context) {
	var req votehttp.ApplyVoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.votes.Handler.ApplyVoteHandler(c.Request.Context(), identityFrom(c), c.Param("post_id"), req)
	if err != nil {
		writeVoteDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCreateClass(c *gin.Context) {
	var req bookinghttp.CreateClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.bookings.Handler.CreateClassHandler(c.Request.Context(), req)
	if err != nil {
		writeBookingDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleAddTrainer(c *gin.Context) {
	var req bookinghttp.AddTrainerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.bookings.Handler.AddTrainerHandler(c.Request.Context(), c.Param("class_id"), req)
	if err != nil {
		writeBookingDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetClass(c *gin.Context) {
	resp, err := s.bookings.Handler.GetClassHandler(c.Request.Context(), c.Param("class_id"))
	if err != nil {
		writeBookingDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleFeaturedClasses(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	resp, err := s.bookings.Handler.FeaturedClassesHandler(c.Request.Context(), limit)
	if err != nil {
		writeBookingDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCreateSlot(c *gin.Context) {
	var req bookinghttp.CreateSlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.bookings.Handler.CreateSlotHandler(c.Request.Context(), req)
	if err != nil {
		writeBookingDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleGetSlot(c *gin.Context) {
	resp, err := s.bookings.Handler.GetSlotHandler(c.Request.Context(), c.Param("slot_id"))
	if err != nil {
		writeBookingDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRecordPayment(c *gin.Context) {
	var req bookinghttp.RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.bookings.Handler.RecordPaymentHandler(
		c.Request.Context(),
		identityFrom(c),
		c.GetHeader(headerIdempotencyKey),
		req,
	)
	if err != nil {
		writeBookingDomainError(c, err)
		return
	}
	status := http.StatusCreated
	if resp.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, resp)
}

func (s *Server) handleGetPayment(c *gin.Context) {
	resp, err := s.bookings.Handler.GetPaymentHandler(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeBookingDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetSettlement(c *gin.Context) {
	resp, err := s.bookings.Handler.GetSettlementHandler(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeBookingDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleAdminBalance(c *gin.Context) {
	recent, ok := queryInt(c, "recent")
	if !ok {
		return
	}
	resp, err := s.bookings.Handler.AdminBalanceHandler(c.Request.Context(), recent)
	if err != nil {
		writeBookingDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(headerRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(headerRequestID, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		status := c.Writer.Status()
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.logger.Log(c.Request.Context(), level, "http request served",
			"event", "http_request_served",
			"module", "internal/platform/httpserver",
			"layer", "platform",
			"method", c.Request.Method,
			"route", c.FullPath(),
			"status", status,
			"duration_ms", time.Since(started).Milliseconds(),
			"request_id", c.GetString(headerRequestID),
		)
	}
}

// requireIdentity resolves the caller from a bearer token, or from the
// X-User-Id header when header identities are allowed.
func (s *Server) requireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := s.resolveIdentity(c)
		if err != nil || identity == "" {
			message := "bearer token or X-User-Id header is required"
			if err != nil {
				message = err.Error()
			}
			writeError(c, http.StatusUnauthorized, "unauthorized", message)
			c.Abort()
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

func (s *Server) optionalIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if identity, err := s.resolveIdentity(c); err == nil && identity != "" {
			c.Set(identityKey, identity)
		}
		c.Next()
	}
}

func (s *Server) resolveIdentity(c *gin.Context) (string, error) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		if s.opts.Auth == nil {
			return "", auth.ErrMissingSecret
		}
		identity, err := s.opts.Auth.Resolve(token)
		if err != nil {
			return "", auth.ErrInvalidToken
		}
		return identity.ID, nil
	}
	if s.opts.AllowHeaderIdentity {
		return strings.TrimSpace(c.GetHeader(headerUserID)), nil
	}
	return "", nil
}

func identityFrom(c *gin.Context) string {
	return c.GetString(identityKey)
}

func queryInt(c *gin.Context, name string) (int, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		writeError(c, http.StatusBadRequest, "invalid_"+name, name+" must be a non-negative integer")
		return 0, false
	}
	return value, true
}

func writeError(c *gin.Context, status int, code string, message string) {
	c.JSON(status, bookinghttp.ErrorResponse{Code: code, Message: message})
}

func writeVoteDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, voteerrors.ErrNotFound):
		c.JSON(http.StatusNotFound, votehttp.ErrorResponse{Code: "not_found", Message: err.Error()})
	case errors.Is(err, voteerrors.ErrInvalid):
		c.JSON(http.StatusBadRequest, votehttp.ErrorResponse{Code: "invalid_request", Message: err.Error()})
	case errors.Is(err, voteerrors.ErrConflict):
		c.JSON(http.StatusConflict, votehttp.ErrorResponse{Code: "conflict", Message: err.Error()})
	case errors.Is(err, voteerrors.ErrTransient):
		c.JSON(http.StatusServiceUnavailable, votehttp.ErrorResponse{Code: "unavailable", Message: "store temporarily unavailable, retry"})
	default:
		c.JSON(http.StatusInternalServerError, votehttp.ErrorResponse{Code: "internal_error", Message: "internal server error"})
	}
}

func writeBookingDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, bookingerrors.ErrNotFound):
		writeError(c, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, bookingerrors.ErrInvalid):
		writeError(c, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, bookingerrors.ErrIdempotencyConflict):
		writeError(c, http.StatusConflict, "idempotency_conflict", err.Error())
	case errors.Is(err, bookingerrors.ErrConflict):
		writeError(c, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, bookingerrors.ErrTransient):
		writeError(c, http.StatusServiceUnavailable, "unavailable", "store temporarily unavailable, retry")
	default:
		writeError(c, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
