package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/markbates/goth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/zaqqye/qr_backend_v1/internal/apperrors"
	"github.com/zaqqye/qr_backend_v1/internal/models"
	"github.com/zaqqye/qr_backend_v1/internal/testutil"
)

func resolve(t *testing.T, db *gorm.DB, gu goth.User) (models.User, string, error) {
	t.Helper()
	var (
		user    models.User
		outcome string
	)
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		user, outcome, err = resolveOAuthUser(context.Background(), tx, gu)
		return err
	})
	return user, outcome, err
}

func TestResolveOAuthUser(t *testing.T) {
	db := testutil.NewDB(t)
	gu := goth.User{Provider: "github", UserID: "42", Email: "New@Example.com", NickName: "octo"}

	created, outcome, err := resolve(t, db, gu)
	require.NoError(t, err)
	assert.Equal(t, "created", outcome)
	assert.Equal(t, "new@example.com", created.Email)
	assert.Equal(t, "octo", created.Name)
	assert.False(t, created.HasPassword())
	assert.NotNil(t, created.EmailVerifiedAt)

	again, outcome, err := resolve(t, db, gu)
	require.NoError(t, err)
	assert.Equal(t, "login", outcome)
	assert.Equal(t, created.ID, again.ID)

	existing := testutil.CreateUser(t, db, "alice@example.com")
	linked, outcome, err := resolve(t, db, goth.User{Provider: "google", UserID: "g-1", Email: "alice@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "linked", outcome)
	assert.Equal(t, existing.ID, linked.ID)

	var accounts int64
	require.NoError(t, db.Model(&models.Account{}).Count(&accounts).Error)
	assert.EqualValues(t, 2, accounts)
}

func TestResolveOAuthUser_Rejections(t *testing.T) {
	db := testutil.NewDB(t)

	_, _, err := resolve(t, db, goth.User{Provider: "github", UserID: "7"})
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)

	u := testutil.CreateUser(t, db, "off@example.com")
	require.NoError(t, db.Model(&u).Update("active", false).Error)
	_, _, err = resolve(t, db, goth.User{Provider: "github", UserID: "8", Email: "off@example.com"})
	require.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestOAuthOnlyUserCannotUnlinkLastAccount(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := testutil.NewDB(t)
	user, _, err := resolve(t, db, goth.User{Provider: "github", UserID: "1", Email: "solo@example.com"})
	require.NoError(t, err)
	var acct models.Account
	require.NoError(t, db.Where("user_id = ?", user.ID).First(&acct).Error)

	oc := &OAuthController{DB: db}
	call := func(id string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodDelete, "/api/auth/accounts/"+id, nil)
		c.Params = gin.Params{{Key: "id", Value: id}}
		c.Set("user", user)
		oc.UnlinkAccount(c)
		return w
	}

	w := call(acct.ID)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "cannot unlink the only sign-in method")

	w = call("8a1f1a66-4b6b-4d0f-9a55-6d1cf2f0f7a1")
	assert.Equal(t, http.StatusNotFound, w.Code)

	// with a password set the last connection may go
	hash := "hash"
	user.PasswordHash = &hash
	w = call(acct.ID)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOAuthDisplayName(t *testing.T) {
	assert.Equal(t, "Ada Lovelace", oauthDisplayName(goth.User{FirstName: "Ada", LastName: "Lovelace"}, "ada@example.com"))
	assert.Equal(t, "ada", oauthDisplayName(goth.User{}, "ada@example.com"))
}
