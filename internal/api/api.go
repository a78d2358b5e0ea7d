package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/mindful.ai/internal/auth"
	"github.com/wuwenbin0122/mindful.ai/internal/history"
	"github.com/wuwenbin0122/mindful.ai/internal/relay"
)

type Handler struct {
	authService *auth.Service
	relay       *relay.Relay
	history     history.Store
	logger      *zap.SugaredLogger

	exposeErrorDetails bool
}

func NewHandler(authService *auth.Service, chatRelay *relay.Relay, store history.Store, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{authService: authService, relay: chatRelay, history: store, logger: logger}
}

// WithErrorDetails controls whether 5xx bodies carry the underlying error
// text. Client errors always do.
func (h *Handler) WithErrorDetails(expose bool) *Handler {
	h.exposeErrorDetails = expose
	return h
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	apiGroup := router.Group("/api")

	authGroup := apiGroup.Group("/auth")
	authGroup.POST("/register", h.handleRegister)
	authGroup.POST("/login", h.handleLogin)

	chatGroup := apiGroup.Group("/chat")
	chatGroup.POST("", h.handleChat)
	chatGroup.GET("/history", h.handleHistory)
	chatGroup.GET("/ws", h.handleChatWebsocket)
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, http.StatusBadRequest, "invalid payload", err)
		return
	}

	user, err := h.authService.Register(c.Request.Context(), auth.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
	})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUserExists):
			c.JSON(http.StatusBadRequest, gin.H{"msg": "User already exists"})
		case errors.Is(err, auth.ErrEmailInvalid), errors.Is(err, auth.ErrFullNameRequired), errors.Is(err, auth.ErrPasswordTooWeak):
			c.JSON(http.StatusBadRequest, gin.H{"msg": strings.TrimPrefix(err.Error(), "auth: ")})
		default:
			h.logger.Errorw("register failed", "error", err)
			h.writeError(c, http.StatusInternalServerError, "failed to register user", err)
		}
		return
	}

	h.logger.Infow("user registered", "user_id", user.ID)
	c.JSON(http.StatusCreated, gin.H{"msg": "User registered successfully"})
}

func (h *Handler) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, http.StatusBadRequest, "invalid payload", err)
		return
	}

	if req.Email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "email and password are required"})
		return
	}

	result, err := h.authService.Login(c.Request.Context(), auth.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUserNotFound):
			c.JSON(http.StatusNotFound, gin.H{"msg": "User not found"})
		case errors.Is(err, auth.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, gin.H{"msg": "Invalid credentials"})
		default:
			h.logger.Errorw("login failed", "error", err)
			h.writeError(c, http.StatusInternalServerError, "failed to login", err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":     result.Token,
		"userId":    result.User.ID,
		"expiresAt": result.ExpiresAt.Format(time.RFC3339),
	})
}

// authenticate resolves the caller's user id from the bearer token, or from
// the token query parameter when allowQuery is set (browsers cannot attach
// headers to websocket upgrades). It writes the 401 itself.
func (h *Handler) authenticate(c *gin.Context, allowQuery bool) (string, bool) {
	token := bearerToken(c.GetHeader("Authorization"))
	if token == "" && allowQuery {
		token = strings.TrimSpace(c.Query("token"))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "Unauthorized"})
		return "", false
	}

	userID, err := h.authService.VerifyToken(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "Invalid token"})
		return "", false
	}
	return userID, true
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// CORS answers preflight requests and tags responses for allowOrigin.
func CORS(allowOrigin string) gin.HandlerFunc {
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", allowOrigin)
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (h *Handler) writeError(c *gin.Context, status int, message string, err error) {
	body := gin.H{"error": message}
	if status < http.StatusInternalServerError || h.exposeErrorDetails {
		body["details"] = err.Error()
	}
	c.JSON(status, body)
}
