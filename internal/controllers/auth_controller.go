package controllers

import (
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zaqqye/qr_backend_v1/internal/apperrors"
	"github.com/zaqqye/qr_backend_v1/internal/applog"
	"github.com/zaqqye/qr_backend_v1/internal/database"
	"github.com/zaqqye/qr_backend_v1/internal/middleware"
	"github.com/zaqqye/qr_backend_v1/internal/models"
	"github.com/zaqqye/qr_backend_v1/internal/utils"
)

const tokenIssuer = "qr_backend_v1"

// TokenIssuer signs access tokens and persists hashed, rotating refresh tokens as sessions.
type TokenIssuer struct {
	DB            *gorm.DB
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

type tokenPair struct {
	Token string
	JTI   string
}

func (t *TokenIssuer) issue(c *gin.Context, tx *gorm.DB, user models.User) (access tokenPair, refresh tokenPair, err error) {
	atStr, _, err := middleware.SignAccessToken(t.AccessSecret, user, t.AccessTTL)
	if err != nil {
		return
	}
	access = tokenPair{Token: atStr}

	now := time.Now().UTC()
	jti := uuid.NewString()
	rcl := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.RefreshTTL)),
		Subject:   user.ID,
		ID:        jti,
	}
	rtStr, err := jwt.NewWithClaims(jwt.SigningMethodHS256, rcl).SignedString([]byte(t.RefreshSecret))
	if err != nil {
		return
	}
	refresh = tokenPair{Token: rtStr, JTI: jti}

	rec := models.Session{
		UserID:    user.ID,
		TokenID:   jti,
		TokenHash: utils.SHA256Hex(rtStr),
		UserAgent: truncate(c.Request.UserAgent(), 255),
		IP:        c.ClientIP(),
		ExpiresAt: now.Add(t.RefreshTTL),
	}
	err = tx.Create(&rec).Error
	return
}

func (t *TokenIssuer) response(access, refresh tokenPair) gin.H {
	return gin.H{
		"access_token":       access.Token,
		"token_type":         "Bearer",
		"expires_in":         int(t.AccessTTL.Seconds()),
		"refresh_token":      refresh.Token,
		"refresh_expires_in": int(t.RefreshTTL.Seconds()),
	}
}

type AuthController struct {
	DB      *gorm.DB
	Tenancy *database.Tenancy
	Tokens  *TokenIssuer
	Logger  *applog.Logger
	IsAdmin func(email string) bool
}

type registerRequest struct {
	Name     string `json:"name" binding:"required,max=120"`
	Email    string `json:"email" binding:"required,email,max=254"`
	Password string `json:"password" binding:"required,min=8,max=72"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (a *AuthController) isAdmin(email string) bool {
	return a.IsAdmin != nil && a.IsAdmin(email)
}

func userResponse(u models.User, isAdmin bool) gin.H {
	return gin.H{
		"id":                u.ID,
		"email":             u.Email,
		"name":              u.Name,
		"image":             u.Image,
		"email_verified_at": u.EmailVerifiedAt,
		"active":            u.Active,
		"last_login_at":     u.LastLoginAt,
		"has_password":      u.HasPassword(),
		"is_admin":          isAdmin,
		"created_at":        u.CreatedAt,
		"updated_at":        u.UpdatedAt,
	}
}

func (a *AuthController) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindingError(err)})
		return
	}

	if err := utils.CheckPasswordLength(req.Password); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	pw, err := utils.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to hash password"})
		return
	}

	user := models.User{
		Name:         strings.TrimSpace(req.Name),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: &pw,
		Active:       true,
	}

	var access, refresh tokenPair
	err = a.DB.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Where("email = ?", user.Email).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return apperrors.Newf(apperrors.ErrConflict, "email already registered")
		}
		if err := tx.Create(&user).Error; err != nil {
			if apperrors.IsDuplicate(err) {
				return apperrors.Newf(apperrors.ErrConflict, "email already registered")
			}
			return err
		}
		access, refresh, err = a.Tokens.issue(c, tx, user)
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}

	a.Logger.ForUser(c, user.ID, applog.EventRegister, "user registered", map[string]any{"email": user.Email})
	resp := a.Tokens.response(access, refresh)
	resp["user"] = userResponse(user, a.isAdmin(user.Email))
	c.JSON(http.StatusCreated, resp)
}

func (a *AuthController) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindingError(err)})
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	fail := func(reason string, userID string) {
		middleware.RecordAuthAttempt("password", false)
		a.Logger.ForUser(c, userID, applog.EventLoginFailed, "login failed", map[string]any{"email": email, "reason": reason})
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	}

	var user models.User
	if err := a.DB.WithContext(c.Request.Context()).Where("email = ?", email).First(&user).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, err)
			return
		}
		fail("unknown email", "")
		return
	}
	if !user.Active {
		fail("inactive", user.ID)
		return
	}
	if !user.HasPassword() || !utils.CheckPassword(*user.PasswordHash, req.Password) {
		fail("bad password", user.ID)
		return
	}

	var access, refresh tokenPair
	err := a.DB.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		if err := tx.Model(&user).Update("last_login_at", &now).Error; err != nil {
			return err
		}
		var err error
		access, refresh, err = a.Tokens.issue(c, tx, user)
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}

	middleware.RecordAuthAttempt("password", true)
	a.Logger.ForUser(c, user.ID, applog.EventLogin, "user logged in", nil)
	resp := a.Tokens.response(access, refresh)
	resp["user"] = userResponse(user, a.isAdmin(user.Email))
	c.JSON(http.StatusOK, resp)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Refresh rotates a refresh token. Presenting an already rotated token revokes every session of its user.
func (a *AuthController) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindingError(err)})
		return
	}
	tok, err := jwt.ParseWithClaims(req.RefreshToken, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(a.Tokens.RefreshSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tok.Valid {
		a.Logger.ForUser(c, "", applog.EventRefreshFailed, "invalid refresh token", nil)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}

	ctx := c.Request.Context()
	var rec models.Session
	if err := a.DB.WithContext(ctx).Where("token_hash = ?", utils.SHA256Hex(req.RefreshToken)).First(&rec).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "refresh token not found"})
		return
	}
	now := time.Now().UTC()
	if rec.RevokedAt != nil && rec.ReplacedByTokenID != nil {
		if err := a.DB.WithContext(ctx).Model(&models.Session{}).
			Where("user_id = ? AND revoked_at IS NULL", rec.UserID).
			Update("revoked_at", &now).Error; err != nil {
			respondError(c, err)
			return
		}
		a.Logger.ForUser(c, rec.UserID, applog.EventRefreshFailed, "rotated refresh token reused; all sessions revoked", nil)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "refresh token expired or revoked"})
		return
	}
	if !rec.Active(now) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "refresh token expired or revoked"})
		return
	}
	var user models.User
	if err := a.DB.WithContext(ctx).Where("id = ? AND active = ?", rec.UserID, true).First(&user).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}

	var access, newRefresh tokenPair
	err = a.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		access, newRefresh, err = a.Tokens.issue(c, tx, user)
		if err != nil {
			return err
		}
		res := tx.Model(&models.Session{}).
			Where("id = ? AND revoked_at IS NULL", rec.ID).
			Updates(map[string]interface{}{
				"revoked_at":           &now,
				"replaced_by_token_id": newRefresh.JTI,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// lost a race with a concurrent refresh of the same token
			return apperrors.Newf(apperrors.ErrUnauthorized, "refresh token expired or revoked")
		}
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}

	a.Logger.ForUser(c, user.ID, applog.EventTokenRefreshed, "refresh token rotated", nil)
	c.JSON(http.StatusOK, a.Tokens.response(access, newRefresh))
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
	All          bool   `json:"all"`
}

// Logout revokes refresh tokens (specific or all). Access tokens remain valid until expiry.
func (a *AuthController) Logout(c *gin.Context) {
	var req logoutRequest
	_ = c.ShouldBindJSON(&req)
	user := currentUser(c)
	now := time.Now().UTC()
	db := a.DB.WithContext(c.Request.Context())

	var revoked int64
	if req.RefreshToken != "" {
		res := db.Model(&models.Session{}).
			Where("token_hash = ? AND user_id = ? AND revoked_at IS NULL", utils.SHA256Hex(req.RefreshToken), user.ID).
			Update("revoked_at", &now)
		revoked += res.RowsAffected
	}
	if req.All {
		res := db.Model(&models.Session{}).
			Where("user_id = ? AND revoked_at IS NULL", user.ID).
			Update("revoked_at", &now)
		revoked += res.RowsAffected
	}
	a.Logger.FromGin(c, applog.EventLogout, "user logged out", map[string]any{"all": req.All, "revoked": revoked})
	c.JSON(http.StatusOK, gin.H{"message": "logged out", "revoked": revoked})
}

func (a *AuthController) Me(c *gin.Context) {
	user := currentUser(c)
	c.JSON(http.StatusOK, userResponse(user, middleware.IsAdmin(c)))
}

type passwordChange struct {
	Current string `json:"current"`
	New     string `json:"new" binding:"required,min=8,max=72"`
}

type updateMeRequest struct {
	Name     *string         `json:"name" binding:"omitempty,min=1,max=120"`
	Image    *string         `json:"image" binding:"omitempty,max=2048"`
	Password *passwordChange `json:"password"`
}

func (a *AuthController) UpdateMe(c *gin.Context) {
	var req updateMeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindingError(err)})
		return
	}
	user := currentUser(c)

	updates := map[string]interface{}{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
			return
		}
		updates["name"] = name
	}
	if req.Image != nil {
		updates["image"] = strings.TrimSpace(*req.Image)
	}
	if req.Password != nil {
		if user.HasPassword() && !utils.CheckPassword(*user.PasswordHash, req.Password.Current) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "current password is incorrect"})
			return
		}
		if err := utils.CheckPasswordLength(req.Password.New); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "new " + err.Error()})
			return
		}
		hash, err := utils.HashPassword(req.Password.New)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to hash password"})
			return
		}
		updates["password_hash"] = hash
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to update"})
		return
	}

	err := a.DB.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&user).Updates(updates).Error; err != nil {
			return err
		}
		if req.Password != nil {
			// a new password signs out every other device
			now := time.Now().UTC()
			return tx.Model(&models.Session{}).
				Where("user_id = ? AND revoked_at IS NULL", user.ID).
				Update("revoked_at", &now).Error
		}
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if err := a.DB.WithContext(c.Request.Context()).First(&user, "id = ?", user.ID).Error; err != nil {
		respondError(c, err)
		return
	}

	fields := make([]string, 0, len(updates))
	for k := range updates {
		if k != "password_hash" {
			fields = append(fields, k)
		}
	}
	if len(fields) > 0 {
		a.Logger.FromGin(c, applog.EventProfileUpdated, "profile updated", map[string]any{"fields": fields})
	}
	if req.Password != nil {
		a.Logger.FromGin(c, applog.EventPasswordChanged, "password changed", nil)
	}
	c.JSON(http.StatusOK, userResponse(user, middleware.IsAdmin(c)))
}

// DeleteMe removes the caller and everything they own in one transaction.
func (a *AuthController) DeleteMe(c *gin.Context) {
	user := currentUser(c)
	var counts struct{ qr, templates int64 }

	err := a.Tenancy.Run(c.Request.Context(), database.Scope{UserID: user.ID}, func(tx *gorm.DB) error {
		res := tx.Where("user_id = ?", user.ID).Delete(&models.QrCode{})
		if res.Error != nil {
			return res.Error
		}
		counts.qr = res.RowsAffected
		res = tx.Where("user_id = ?", user.ID).Delete(&models.QrTemplate{})
		if res.Error != nil {
			return res.Error
		}
		counts.templates = res.RowsAffected
		if err := tx.Where("user_id = ?", user.ID).Delete(&models.Account{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", user.ID).Delete(&models.Session{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.User{}, "id = ?", user.ID).Error
	})
	if err != nil {
		respondError(c, err)
		return
	}

	a.Logger.ForUser(c, user.ID, applog.EventAccountDeleted, "account deleted", map[string]any{
		"email":     user.Email,
		"qr_codes":  counts.qr,
		"templates": counts.templates,
	})
	c.JSON(http.StatusOK, gin.H{"message": "account deleted"})
}

func (a *AuthController) ListSessions(c *gin.Context) {
	user := currentUser(c)
	var sessions []models.Session
	if err := a.DB.WithContext(c.Request.Context()).
		Where("user_id = ? AND revoked_at IS NULL AND expires_at > ?", user.ID, time.Now().UTC()).
		Order("created_at DESC").
		Find(&sessions).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sessions})
}

func (a *AuthController) RevokeSession(c *gin.Context) {
	id := c.Param("id")
	if !validID(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	user := currentUser(c)
	now := time.Now().UTC()
	res := a.DB.WithContext(c.Request.Context()).Model(&models.Session{}).
		Where("id = ? AND user_id = ? AND revoked_at IS NULL", id, user.ID).
		Update("revoked_at", &now)
	if res.Error != nil {
		respondError(c, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	a.Logger.FromGin(c, applog.EventSessionRevoked, "session revoked", map[string]any{"session_id": id})
	c.JSON(http.StatusOK, gin.H{"message": "session revoked"})
}

// truncate keeps at most n runes of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
