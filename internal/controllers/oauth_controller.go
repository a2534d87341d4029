package controllers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
	"github.com/markbates/goth"
	"github.com/markbates/goth/gothic"
	"github.com/markbates/goth/providers/github"
	"github.com/markbates/goth/providers/google"
	"gorm.io/gorm"

	"github.com/zaqqye/qr_backend_v1/internal/apperrors"
	"github.com/zaqqye/qr_backend_v1/internal/applog"
	"github.com/zaqqye/qr_backend_v1/internal/config"
	"github.com/zaqqye/qr_backend_v1/internal/middleware"
	"github.com/zaqqye/qr_backend_v1/internal/models"
)

// SetupOAuth registers the configured goth providers and the cookie store gothic keeps state in.
// It returns the enabled provider names.
func SetupOAuth(cfg *config.Config) []string {
	goth.ClearProviders()
	base := strings.TrimRight(cfg.OAuthCallbackBaseURL, "/")
	callback := func(name string) string { return base + "/api/auth/oauth/" + name + "/callback" }

	if cfg.GoogleClientID != "" && cfg.GoogleClientSecret != "" {
		goth.UseProviders(google.New(cfg.GoogleClientID, cfg.GoogleClientSecret, callback("google"), "email", "profile"))
	}
	if cfg.GitHubClientID != "" && cfg.GitHubClientSecret != "" {
		goth.UseProviders(github.New(cfg.GitHubClientID, cfg.GitHubClientSecret, callback("github"), "user:email"))
	}

	store := sessions.NewCookieStore([]byte(cfg.OAuthSessionSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   !cfg.IsDevelopment,
		SameSite: http.SameSiteLaxMode,
	}
	gothic.Store = store
	return enabledProviders()
}

func enabledProviders() []string {
	names := make([]string, 0, len(goth.GetProviders()))
	for name := range goth.GetProviders() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type OAuthController struct {
	DB          *gorm.DB
	Tokens      *TokenIssuer
	Logger      *applog.Logger
	RedirectURL string
}

func (oc *OAuthController) Providers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": enabledProviders()})
}

// withProvider returns a copy of the request gothic can read the provider name from.
func withProvider(r *http.Request, provider string) *http.Request {
	r2 := r.Clone(r.Context())
	q := r2.URL.Query()
	q.Set("provider", provider)
	r2.URL.RawQuery = q.Encode()
	return r2
}

func (oc *OAuthController) Begin(c *gin.Context) {
	provider := c.Param("provider")
	if _, err := goth.GetProvider(provider); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return
	}
	authURL, err := gothic.GetAuthURL(c.Writer, withProvider(c.Request, provider))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Redirect(http.StatusTemporaryRedirect, authURL)
}

func (oc *OAuthController) Callback(c *gin.Context) {
	provider := c.Param("provider")
	if _, err := goth.GetProvider(provider); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return
	}
	gu, err := gothic.CompleteUserAuth(c.Writer, withProvider(c.Request, provider))
	if err != nil {
		middleware.RecordAuthAttempt("oauth_"+provider, false)
		oc.Logger.ForUser(c, "", applog.EventOAuthFailed, "oauth exchange failed", map[string]any{"provider": provider, "error": err.Error()})
		oc.redirectError(c, "oauth_failed")
		return
	}

	var (
		user    models.User
		outcome string
		access  tokenPair
		refresh tokenPair
	)
	err = oc.DB.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		var err error
		user, outcome, err = resolveOAuthUser(c.Request.Context(), tx, gu)
		if err != nil {
			return err
		}
		access, refresh, err = oc.Tokens.issue(c, tx, user)
		return err
	})
	if err != nil {
		middleware.RecordAuthAttempt("oauth_"+provider, false)
		oc.Logger.ForUser(c, "", applog.EventOAuthFailed, err.Error(), map[string]any{"provider": provider})
		code := "oauth_failed"
		if errors.Is(err, apperrors.ErrInvalidInput) {
			code = "email_required"
		} else if errors.Is(err, apperrors.ErrForbidden) {
			code = "account_disabled"
		}
		oc.redirectError(c, code)
		return
	}

	middleware.RecordAuthAttempt("oauth_"+provider, true)
	event := applog.EventOAuthLogin
	if outcome == "linked" {
		event = applog.EventOAuthLinked
	}
	oc.Logger.ForUser(c, user.ID, event, "oauth sign-in via "+provider, map[string]any{"provider": provider, "outcome": outcome})

	u, err := url.Parse(oc.RedirectURL)
	if err != nil {
		respondError(c, err)
		return
	}
	q := u.Query()
	q.Set("access_token", access.Token)
	q.Set("refresh_token", refresh.Token)
	q.Set("expires_in", strconv.Itoa(int(oc.Tokens.AccessTTL.Seconds())))
	u.RawQuery = q.Encode()
	c.Redirect(http.StatusTemporaryRedirect, u.String())
}

func (oc *OAuthController) redirectError(c *gin.Context, code string) {
	u, err := url.Parse(oc.RedirectURL)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": code})
		return
	}
	q := u.Query()
	q.Set("error", code)
	u.RawQuery = q.Encode()
	c.Redirect(http.StatusTemporaryRedirect, u.String())
}

// resolveOAuthUser finds the user behind an external identity, linking it to an
// existing account with the same email or creating a new user.
// outcome is one of "login", "linked" or "created".
func resolveOAuthUser(ctx context.Context, tx *gorm.DB, gu goth.User) (user models.User, outcome string, err error) {
	tx = tx.WithContext(ctx)
	email := strings.ToLower(strings.TrimSpace(gu.Email))

	var acct models.Account
	err = tx.Where("provider = ? AND provider_account_id = ?", gu.Provider, gu.UserID).First(&acct).Error
	switch {
	case err == nil:
		if err = tx.First(&user, "id = ?", acct.UserID).Error; err != nil {
			return
		}
		if !user.Active {
			err = apperrors.Newf(apperrors.ErrForbidden, "account disabled")
			return
		}
		if email != "" && acct.Email != email {
			if err = tx.Model(&acct).Update("email", email).Error; err != nil {
				return
			}
		}
		outcome = "login"
	case errors.Is(err, gorm.ErrRecordNotFound):
		if email == "" {
			err = apperrors.Newf(apperrors.ErrInvalidInput, "provider did not return an email address")
			return
		}
		now := time.Now().UTC()
		err = tx.Where("email = ?", email).First(&user).Error
		switch {
		case err == nil:
			if !user.Active {
				err = apperrors.Newf(apperrors.ErrForbidden, "account disabled")
				return
			}
			outcome = "linked"
			if user.EmailVerifiedAt == nil {
				if err = tx.Model(&user).Update("email_verified_at", &now).Error; err != nil {
					return
				}
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			user = models.User{
				Email:           email,
				Name:            oauthDisplayName(gu, email),
				Image:           gu.AvatarURL,
				EmailVerifiedAt: &now,
				Active:          true,
			}
			if err = tx.Create(&user).Error; err != nil {
				return
			}
			outcome = "created"
		default:
			return
		}
		acct = models.Account{UserID: user.ID, Provider: gu.Provider, ProviderAccountID: gu.UserID, Email: email}
		if err = tx.Create(&acct).Error; err != nil {
			return
		}
	default:
		return
	}

	now := time.Now().UTC()
	err = tx.Model(&user).Update("last_login_at", &now).Error
	return
}

func oauthDisplayName(gu goth.User, email string) string {
	for _, n := range []string{gu.Name, strings.TrimSpace(gu.FirstName + " " + gu.LastName), gu.NickName} {
		if n = strings.TrimSpace(n); n != "" {
			return truncate(n, 120)
		}
	}
	local, _, _ := strings.Cut(email, "@")
	return local
}

func (oc *OAuthController) ListAccounts(c *gin.Context) {
	user := currentUser(c)
	var accounts []models.Account
	if err := oc.DB.WithContext(c.Request.Context()).
		Where("user_id = ?", user.ID).
		Order("created_at ASC").
		Find(&accounts).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": accounts})
}

// UnlinkAccount removes an OAuth connection unless it is the caller's only way to sign in.
func (oc *OAuthController) UnlinkAccount(c *gin.Context) {
	user := currentUser(c)
	id := c.Param("id")
	if !validID(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}

	var acct models.Account
	err := oc.DB.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND user_id = ?", id, user.ID).First(&acct).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.Newf(apperrors.ErrNotFound, "account not found")
			}
			return err
		}
		var count int64
		if err := tx.Model(&models.Account{}).Where("user_id = ?", user.ID).Count(&count).Error; err != nil {
			return err
		}
		if count <= 1 && !user.HasPassword() {
			return apperrors.Newf(apperrors.ErrConflict, "cannot unlink the only sign-in method; set a password first")
		}
		return tx.Delete(&acct).Error
	})
	if err != nil {
		respondError(c, err)
		return
	}
	oc.Logger.FromGin(c, applog.EventAccountUnlinked, "oauth account unlinked", map[string]any{"provider": acct.Provider})
	c.JSON(http.StatusOK, gin.H{"message": "account unlinked"})
}
