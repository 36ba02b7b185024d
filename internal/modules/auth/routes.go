package auth

import "github.com/gin-gonic/gin"

// RegisterPublicRoutes mounts the endpoints that need no bearer token.
func (h *Handler) RegisterPublicRoutes(account *gin.RouterGroup) {
	account.POST("/register", h.Register)
	account.GET("/verify-email-otp", h.VerifyEmailOtpQuery)
	account.POST("/verify-email-otp", h.VerifyEmailOtp)
	account.POST("/resend-verification-email", h.ResendVerification)
	account.POST("/login", h.Login)
	account.POST("/forgot-password", h.ForgotPassword)
	account.POST("/reset-password", h.ResetPassword)
}

// RegisterRefreshRoute expects a group whose auth middleware tolerates an
// expired access token.
func (h *Handler) RegisterRefreshRoute(account *gin.RouterGroup) {
	account.POST("/refresh-token", h.RefreshToken)
}

func (h *Handler) RegisterProtectedRoutes(account *gin.RouterGroup) {
	account.POST("/revoke-token", h.RevokeToken)
	account.POST("/logout-all", h.LogoutAll)
	account.POST("/change-password", h.ChangePassword)
	account.GET("/profile", h.GetProfile)
}
