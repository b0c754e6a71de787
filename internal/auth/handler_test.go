package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestHandler_Login(t *testing.T) {
	ctrl := gomock.NewController(t)
	users := NewMockUserStore(ctrl)
	rdb, mock := redismock.NewClientMock()
	defer rdb.Close()

	hash, err := NewUser("testuser", "testpass", "UTC", time.Now())
	require.NoError(t, err)
	user := &User{ID: 3, Username: "testuser", PasswordHash: hash.PasswordHash, Timezone: "UTC"}
	users.EXPECT().GetByUsername(gomock.Any(), "testuser").Return(user, nil).Times(2)
	users.EXPECT().GetByUsername(gomock.Any(), "ghost").Return(nil, ErrUserNotFound)
	users.EXPECT().GetByUsername(gomock.Any(), "broken").Return(nil, errors.New("db down"))

	service := NewAuthService(users, time.Hour, rdb)
	service.RandStringFunc = func(int) (string, error) { return "tkn", nil }
	handler := NewHandler(service)
	now := time.Date(2024, 5, 9, 12, 0, 0, 0, time.UTC)
	handler.now = func() time.Time { return now }

	r := mux.NewRouter()
	handler.SetupRoutes(r)

	mock.ExpectSet(sessionKeyPrefix+"tkn", mustEncode(t, Session{
		UserID:    3,
		Username:  "testuser",
		Timezone:  "UTC",
		CreatedAt: now,
	}), time.Hour).SetVal("OK")
	mock.ExpectSAdd(tokensSetKey, "tkn").SetVal(1)

	for _, tc := range []struct {
		name       string
		body       string
		wantStatus int
		wantBody   string
	}{
		{"ok", `{"username":"testuser","password":"testpass"}`, http.StatusOK, `{"token":"tkn"}`},
		{"wrong password", `{"username":"testuser","password":"nope"}`, http.StatusUnauthorized, "wrong credentials"},
		{"unknown user", `{"username":"ghost","password":"nope"}`, http.StatusUnauthorized, "wrong credentials"},
		{"store error", `{"username":"broken","password":"nope"}`, http.StatusInternalServerError, "login failed"},
		{"empty password", `{"username":"testuser"}`, http.StatusBadRequest, "password empty"},
		{"empty username", `{"password":"x"}`, http.StatusBadRequest, "username empty"},
		{"bad json", `{`, http.StatusBadRequest, "login failed"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/a/login", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)
			assert.Equal(t, tc.wantStatus, rr.Code)
			assert.Contains(t, rr.Body.String(), tc.wantBody)
		})
	}

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandler_Logout(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	defer rdb.Close()
	handler := NewHandler(NewAuthService(NewMemoryUsers(), time.Hour, rdb))
	r := mux.NewRouter()
	handler.SetupRoutes(r)

	req := httptest.NewRequest(http.MethodPost, "/a/logout", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	mock.ExpectDel(sessionKeyPrefix + "tkn").SetVal(1)
	mock.ExpectSRem(tokensSetKey, "tkn").SetVal(1)
	req = httptest.NewRequest(http.MethodPost, "/a/logout", nil).WithContext(context.Background())
	req.Header.Set(TokenHeader, "tkn")
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "logged-out", rr.Body.String())

	mock.ExpectDel(sessionKeyPrefix + "tkn").SetVal(0)
	mock.ExpectSRem(tokensSetKey, "tkn").SetVal(0)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandler_LoginOptions(t *testing.T) {
	rdb, _ := redismock.NewClientMock()
	defer rdb.Close()
	r := mux.NewRouter()
	NewHandler(NewAuthService(NewMemoryUsers(), time.Hour, rdb)).SetupRoutes(r)

	req := httptest.NewRequest(http.MethodOptions, "/a/login", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "POST, OPTIONS", rr.Header().Get("Allow"))
}
