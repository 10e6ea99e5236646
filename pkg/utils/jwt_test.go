package utils

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"team-collab-backend/pkg/apperr"
	"team-collab-backend/pkg/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTService_TokenPair(t *testing.T) {
	svc := NewJWTService("test-secret")
	access, refresh, exp, err := svc.GenerateTokenPair("u1", "u1@example.com")
	require.NoError(t, err)
	assert.Greater(t, exp, time.Now().Unix())

	claims, err := svc.ValidateAccessToken(access)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)

	_, err = svc.ValidateAccessToken(refresh)
	assert.Error(t, err, "refresh token is not an access token")

	newAccess, _, err := svc.RefreshAccessToken(refresh)
	require.NoError(t, err)
	_, err = svc.ValidateAccessToken(newAccess)
	assert.NoError(t, err)

	_, err = NewJWTService("other-secret").ValidateToken(access)
	assert.Error(t, err)
}

func TestJWTService_Expired(t *testing.T) {
	svc := NewJWTService("test-secret")
	claims := &models.TokenClaims{UserID: "u1", Type: TokenTypeAccess, Exp: time.Now().Add(-time.Minute).Unix(), Iat: time.Now().Add(-time.Hour).Unix()}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(signed)
	assert.Error(t, err)
}

func TestWriteAppError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{apperr.NotFound(apperr.CodeTaskNotFound, "task not found"), http.StatusNotFound, apperr.CodeTaskNotFound},
		{apperr.Forbidden(apperr.CodeNotAssigned, "no"), http.StatusForbidden, apperr.CodeNotAssigned},
		{apperr.Invalid(apperr.CodeInvalidStatus, "bad"), http.StatusBadRequest, apperr.CodeInvalidStatus},
		{apperr.Conflict(apperr.CodeSessionAlreadyActive, "again"), http.StatusConflict, apperr.CodeSessionAlreadyActive},
		{apperr.Transient("down", errors.New("dial")), http.StatusServiceUnavailable, apperr.CodeStoreUnavailable},
		{errors.New("boom"), http.StatusInternalServerError, apperr.CodeInternal},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		WriteAppError(rec, tt.err)
		assert.Equal(t, tt.status, rec.Code)
		assert.Contains(t, rec.Body.String(), tt.code)
		assert.Contains(t, rec.Body.String(), `"success":false`)
	}
}
