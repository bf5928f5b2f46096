package utils

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"wellbook/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTokenVerifierRoundTrip(t *testing.T) {
	v := NewTokenVerifier("secret")
	token, err := v.GenerateToken("client-a", RoleAdmin, time.Hour)
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "client-a", claims.UserID)
	assert.Equal(t, RoleAdmin, claims.Role)

	expired, err := v.GenerateToken("client-a", "user", -time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(expired)
	assert.Error(t, err)

	noSub := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"role": "user"})
	signed, err := noSub.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = v.Verify(signed)
	assert.Error(t, err)
}

func TestEmptySecretRejectsEveryToken(t *testing.T) {
	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "intruder",
		"role": RoleAdmin,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := forged.SignedString([]byte(""))
	require.NoError(t, err)

	v := NewTokenVerifier("")
	_, err = v.Verify(signed)
	assert.ErrorIs(t, err, ErrNoSigningSecret)

	_, err = v.GenerateToken("client-a", RoleAdmin, time.Hour)
	assert.ErrorIs(t, err, ErrNoSigningSecret)
}

func TestWriteErrorStatusMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err  error
		code int
	}{
		{models.NewValidationError("date", "is required"), http.StatusBadRequest},
		{&models.ConflictError{Time: "09:00"}, http.StatusConflict},
		{&models.InsufficientFundsError{UserID: "u1"}, http.StatusPaymentRequired},
		{&models.NotFoundError{Resource: "booking", ID: "b-1"}, http.StatusNotFound},
		{&models.TransitionError{BookingID: "b-1"}, http.StatusConflict},
		{&models.ForbiddenError{Reason: "nope"}, http.StatusForbidden},
		{models.Unavailable("insert", errors.New("timeout")), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		WriteError(c, zap.NewNop(), tc.err)
		assert.Equal(t, tc.code, w.Code, tc.err.Error())
	}
}

func TestWriteErrorConflictCarriesOccupied(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	WriteError(c, zap.NewNop(), &models.ConflictError{Occupied: []string{"09:00", "10:00"}})
	assert.JSONEq(t, `{"code":"slot_conflict","message":"That time was just booked. Please pick another slot.","occupied":["09:00","10:00"]}`, w.Body.String())
}

func TestErrorHandlerRecoversPanics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandler(zap.NewNop()))
	r.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHealthMonitorCheck(t *testing.T) {
	clock := NewFixedClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	down := func(context.Context) error { return errors.New("connection refused") }

	m := NewHealthMonitor(nil, down, clock)
	status := m.Check(context.Background())
	assert.True(t, status.Mongo)
	assert.False(t, status.Redis)
	assert.False(t, status.Healthy())
	assert.Equal(t, status, m.Status())
	assert.Equal(t, clock.Now(), status.CheckedAt)
}
