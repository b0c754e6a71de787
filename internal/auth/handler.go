package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/2beens/repcount/internal/telemetry/tracing"
	"github.com/2beens/repcount/pkg"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type Handler struct {
	service *Service
	now     func() time.Time
}

func NewHandler(service *Service) *Handler {
	return &Handler{
		service: service,
		now:     time.Now,
	}
}

// SetupRoutes registers /a/login and /a/logout and returns their subrouter,
// so the caller can put rate limiting and CORS in front of them.
func (h *Handler) SetupRoutes(mainRouter *mux.Router) *mux.Router {
	loginSubrouter := mainRouter.PathPrefix("/a").Subrouter()
	loginSubrouter.
		HandleFunc("/login", h.handleLogin).
		Methods("POST", "OPTIONS").Name("login")
	loginSubrouter.
		HandleFunc("/logout", h.handleLogout).
		Methods("POST", "OPTIONS").Name("logout")
	return loginSubrouter
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "authHandler.login")
	defer span.End()

	if r.Method == http.MethodOptions {
		w.Header().Add("Allow", "POST, OPTIONS")
		w.WriteHeader(http.StatusOK)
		return
	}

	type loginRequest struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	var loginReq loginRequest
	if err := json.NewDecoder(r.Body).Decode(&loginReq); err != nil {
		log.Errorf("login, unmarshal json params: %s", err)
		http.Error(w, "login failed", http.StatusBadRequest)
		return
	}
	if loginReq.Username == "" {
		http.Error(w, "error, username empty", http.StatusBadRequest)
		return
	}
	if loginReq.Password == "" {
		http.Error(w, "error, password empty", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("username", loginReq.Username))

	user, err := h.service.Authenticate(ctx, loginReq.Username, loginReq.Password)
	if err != nil {
		if errors.Is(err, ErrWrongCredentials) {
			log.Tracef("failed login attempt for user: %s", loginReq.Username)
			span.SetStatus(codes.Error, "wrong-credentials")
			http.Error(w, "error, wrong credentials", http.StatusUnauthorized)
			return
		}
		log.Errorf("login failed, authenticate: %s", err)
		span.RecordError(err)
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}

	token, err := h.service.Login(ctx, user, h.now())
	if err != nil {
		log.Errorf("login failed, generate token error: %s", err)
		span.RecordError(err)
		http.Error(w, "generate token error", http.StatusInternalServerError)
		return
	}

	resp, err := json.Marshal(struct {
		Token string `json:"token"`
	}{token})
	if err != nil {
		log.Errorf("login, marshal response: %s", err)
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}

	log.Tracef("new login success for user %d", user.ID)
	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, resp)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "authHandler.logout")
	defer span.End()

	if r.Method == http.MethodOptions {
		w.Header().Add("Allow", "POST, OPTIONS")
		w.WriteHeader(http.StatusOK)
		return
	}

	authToken := r.Header.Get(TokenHeader)
	if authToken == "" {
		http.Error(w, "no can do", http.StatusUnauthorized)
		return
	}

	loggedOut, err := h.service.Logout(ctx, authToken)
	if err != nil {
		log.Errorf("logout => %s: %s", r.URL.Path, err)
		span.RecordError(err)
		http.Error(w, "no can do", http.StatusUnauthorized)
		return
	}
	if !loggedOut {
		http.Error(w, "no can do", http.StatusUnauthorized)
		return
	}

	pkg.WriteTextResponseOK(w, "logged-out")
}
