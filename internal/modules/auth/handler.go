package auth

import (
	"net/http"

	"marketplace/internal/pkg/response"
	"marketplace/internal/pkg/validator"

	"github.com/gin-gonic/gin"
)

// Handler manages all HTTP interactions for the account endpoints.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	validator.RegisterGin()
	return &Handler{service: service}
}

func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	if _, err := h.service.Register(c.Request.Context(), req); err != nil {
		response.FromError(c, err)
		return
	}

	response.Message(c, http.StatusCreated, "Registration successful! Please verify your email.")
}

// VerifyEmailOtpQuery accepts ?email=&code= so the link in the email works
// as-is.
func (h *Handler) VerifyEmailOtpQuery(c *gin.Context) {
	var req VerifyEmailOtpRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BindError(c, err)
		return
	}
	h.verifyEmailOtp(c, req)
}

func (h *Handler) VerifyEmailOtp(c *gin.Context) {
	var req VerifyEmailOtpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}
	h.verifyEmailOtp(c, req)
}

func (h *Handler) verifyEmailOtp(c *gin.Context, req VerifyEmailOtpRequest) {
	if err := h.service.VerifyEmailOtp(c.Request.Context(), req.Email, req.Code); err != nil {
		response.FromError(c, err)
		return
	}
	response.Message(c, http.StatusOK, "Email verified successfully!")
}

func (h *Handler) ResendVerification(c *gin.Context) {
	var req EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	if err := h.service.ResendVerification(c.Request.Context(), req.Email); err != nil {
		response.FromError(c, err)
		return
	}
	response.Message(c, http.StatusOK, "Verification email sent if applicable.")
}

func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	result, err := h.service.Login(c.Request.Context(), req, c.ClientIP())
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, LoginResponse{
		TokenResponse: h.tokenResponse(result),
		User:          summaryOf(result.User),
	})
}

func (h *Handler) RefreshToken(c *gin.Context) {
	callerID, ok := callerFrom(c)
	if !ok {
		return
	}

	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	result, err := h.service.RefreshToken(c.Request.Context(), callerID, req.RefreshToken, c.ClientIP())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, h.tokenResponse(result))
}

func (h *Handler) RevokeToken(c *gin.Context) {
	callerID, ok := callerFrom(c)
	if !ok {
		return
	}

	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	if err := h.service.RevokeToken(c.Request.Context(), callerID, req.RefreshToken, c.ClientIP()); err != nil {
		response.FromError(c, err)
		return
	}
	response.Message(c, http.StatusOK, "Logged out successfully")
}

func (h *Handler) LogoutAll(c *gin.Context) {
	callerID, ok := callerFrom(c)
	if !ok {
		return
	}

	n, err := h.service.LogoutAll(c.Request.Context(), callerID, c.ClientIP())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"revokedSessions": n})
}

func (h *Handler) ChangePassword(c *gin.Context) {
	callerID, ok := callerFrom(c)
	if !ok {
		return
	}

	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	if err := h.service.ChangePassword(c.Request.Context(), callerID, req, c.ClientIP()); err != nil {
		response.FromError(c, err)
		return
	}
	response.Message(c, http.StatusOK, "Password updated. Other sessions revoked.")
}

func (h *Handler) ForgotPassword(c *gin.Context) {
	var req EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	if err := h.service.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		response.FromError(c, err)
		return
	}
	response.Message(c, http.StatusOK, "If your email is in our system, you will receive a reset code.")
}

func (h *Handler) ResetPassword(c *gin.Context) {
	var req ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	if err := h.service.ResetPassword(c.Request.Context(), req, c.ClientIP()); err != nil {
		response.FromError(c, err)
		return
	}
	response.Message(c, http.StatusOK, "Password has been reset successfully.")
}

func (h *Handler) GetProfile(c *gin.Context) {
	callerID, ok := callerFrom(c)
	if !ok {
		return
	}

	p, err := h.service.GetProfile(c.Request.Context(), callerID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, ProfileResponse{
		UserSummary:    summaryOf(p.User),
		EmailConfirmed: p.User.EmailConfirmed,
		CreatedAt:      p.User.CreatedAt,
		ActiveSessions: p.ActiveSessions,
	})
}

func (h *Handler) tokenResponse(r *LoginResult) TokenResponse {
	return TokenResponse{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresIn:    int64(h.service.tokens.TTL().Seconds()),
		TokenType:    tokenTypeBearer,
	}
}

// callerFrom reads the user id the auth middleware stored. It writes the 401
// itself when the id is missing.
func callerFrom(c *gin.Context) (int64, bool) {
	id := c.GetInt64("user_id")
	if id <= 0 {
		response.FromError(c, ErrUnauthenticated)
		return 0, false
	}
	return id, true
}
