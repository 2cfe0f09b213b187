package admin

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/breadpudding/matchmaking/internal/matchmaking"
	"github.com/breadpudding/matchmaking/internal/netchan"
)

type fakeState struct{}

func (fakeState) Clients() map[string]*netchan.Client { return nil }
func (fakeState) LastScored() []matchmaking.Scored     { return nil }

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", hash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("hunter2")))
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)

	s := New("operator", hash, "shhh", fakeState{})
	body, _ := json.Marshal(loginRequest{Username: "operator", Password: "wrong"})

	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginIssuesTokenOnSuccess(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)

	s := New("operator", hash, "shhh", fakeState{})
	body, _ := json.Marshal(loginRequest{Username: "operator", Password: "correct horse"})

	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp loginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)
	assert.True(t, s.verifyToken(resp.Token))
}

func TestWebSocketRejectsMissingToken(t *testing.T) {
	s := New("operator", "", "shhh", fakeState{})
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
