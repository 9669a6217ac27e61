package account

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/scamphub/scamp-backend/app/observability/metrics"
	"github.com/scamphub/scamp-backend/internal/api"
)

func TestMain(m *testing.M) {
	// Handlers increment counters; the default noop meter provider backs
	// them in tests.
	metrics.InitAppMetrics()
	os.Exit(m.Run())
}

// MockAccountService is a mock implementation of the AccountService interface
type MockAccountService struct {
	mock.Mock
}

func (m *MockAccountService) CreateAccount(ctx context.Context, name, email, password string) (uuid.UUID, error) {
	args := m.Called(ctx, name, email, password)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *MockAccountService) VerifyAccount(ctx context.Context, id uuid.UUID, email, pin, password string) (string, error) {
	args := m.Called(ctx, id, email, pin, password)
	return args.String(0), args.Error(1)
}

func (m *MockAccountService) VerifyByLink(ctx context.Context, email, pin string) error {
	args := m.Called(ctx, email, pin)
	return args.Error(0)
}

func (m *MockAccountService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*LoginResult), args.Error(1)
}

func (m *MockAccountService) ResetPassword(ctx context.Context, email, password, newPassword string) (bool, error) {
	args := m.Called(ctx, email, password, newPassword)
	return args.Bool(0), args.Error(1)
}

func (m *MockAccountService) ResetPin(ctx context.Context, id uuid.UUID, email, password string) error {
	args := m.Called(ctx, id, email, password)
	return args.Error(0)
}

func (m *MockAccountService) GetProfile(ctx context.Context, id uuid.UUID) (*User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*User), args.Error(1)
}

func (m *MockAccountService) Play(ctx context.Context, id uuid.UUID, serverAddress string) (string, error) {
	args := m.Called(ctx, id, serverAddress)
	return args.String(0), args.Error(1)
}

func (m *MockAccountService) FindUserBySession(ctx context.Context, serverAddress, session string) (uuid.UUID, error) {
	args := m.Called(ctx, serverAddress, session)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

// newTestRouter mounts the handler the same way the real router does, so
// chi URL params resolve in tests.
func newTestRouter(handler *AccountHandler, authUser *AuthUser) chi.Router {
	r := chi.NewRouter()
	if authUser != nil {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				ctx := context.WithValue(req.Context(), authUserKey, authUser)
				next.ServeHTTP(w, req.WithContext(ctx))
			})
		})
	}
	r.Post("/users", handler.CreateUser)
	r.Post("/users/login", handler.Login)
	r.Post("/users/{id}/verify", handler.Verify)
	r.Post("/users/{id}/reset-password", handler.ResetPassword)
	r.Post("/users/{id}/reset-pin", handler.ResetPin)
	r.Get("/users/{id}", handler.GetProfile)
	r.Post("/users/{id}/play/{serverAddress}", handler.Play)
	r.Get("/servers/{address}/sessions/{session}", handler.GetSessionUser)
	r.Get("/enduser-verify/{email}/{pin}", handler.VerifyByLink)
	return r
}

func postJSON(t *testing.T, router chi.Router, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	assert.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBuffer(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateUserHandler(t *testing.T) {
	t.Run("Created", func(t *testing.T) {
		mockService := new(MockAccountService)
		router := newTestRouter(NewAccountHandler(mockService, slog.Default()), nil)

		id := uuid.New()
		mockService.On("CreateAccount", mock.Anything, "scamper", "scamper@example.com", "password123").
			Return(id, nil).Once()

		w := postJSON(t, router, "/users", CreateUserRequest{
			Name: "scamper", Email: "scamper@example.com", Password: "password123",
		})

		assert.Equal(t, http.StatusCreated, w.Code)
		var resp CreateUserResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, id, resp.ID)
		mockService.AssertExpectations(t)
	})

	t.Run("ValidationErrorList", func(t *testing.T) {
		mockService := new(MockAccountService)
		router := newTestRouter(NewAccountHandler(mockService, slog.Default()), nil)

		mockService.On("CreateAccount", mock.Anything, "x", "bad", "short").
			Return(uuid.Nil, ValidateNewAccount("x", "bad", "short")).Once()

		w := postJSON(t, router, "/users", CreateUserRequest{Name: "x", Email: "bad", Password: "short"})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var fields []api.FieldError
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &fields))
		assert.Len(t, fields, 3)
	})

	t.Run("EmailConflict", func(t *testing.T) {
		mockService := new(MockAccountService)
		router := newTestRouter(NewAccountHandler(mockService, slog.Default()), nil)

		mockService.On("CreateAccount", mock.Anything, "scamper", "taken@example.com", "password123").
			Return(uuid.Nil, ErrEmailTaken).Once()

		w := postJSON(t, router, "/users", CreateUserRequest{
			Name: "scamper", Email: "taken@example.com", Password: "password123",
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "The specified e-mail address already exists")
	})
}

func TestVerifyHandler(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		mockService := new(MockAccountService)
		router := newTestRouter(NewAccountHandler(mockService, slog.Default()), nil)

		id := uuid.New()
		mockService.On("VerifyAccount", mock.Anything, id, "scamper@example.com", "pin123", "password123").
			Return("JWT signed-token", nil).Once()

		w := postJSON(t, router, "/users/"+id.String()+"/verify", VerifyRequest{
			Email: "scamper@example.com", Pin: "pin123", Password: "password123",
		})

		assert.Equal(t, http.StatusOK, w.Code)
		var resp VerifyResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "JWT signed-token", resp.Token)
	})

	t.Run("MalformedIDIsNotFound", func(t *testing.T) {
		mockService := new(MockAccountService)
		router := newTestRouter(NewAccountHandler(mockService, slog.Default()), nil)

		w := postJSON(t, router, "/users/not-a-uuid/verify", VerifyRequest{
			Email: "scamper@example.com", Pin: "pin123", Password: "password123",
		})

		assert.Equal(t, http.StatusNotFound, w.Code)
		mockService.AssertNotCalled(t, "VerifyAccount")
	})

	t.Run("NoMatch", func(t *testing.T) {
		mockService := new(MockAccountService)
		router := newTestRouter(NewAccountHandler(mockService, slog.Default()), nil)

		id := uuid.New()
		mockService.On("VerifyAccount", mock.Anything, id, "scamper@example.com", "wrong", "password123").
			Return("", api.ErrNotFound).Once()

		w := postJSON(t, router, "/users/"+id.String()+"/verify", VerifyRequest{
			Email: "scamper@example.com", Pin: "wrong", Password: "password123",
		})

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestLoginHandler(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		mockService := new(MockAccountService)
		router := newTestRouter(NewAccountHandler(mockService, slog.Default()), nil)

		id := uuid.New()
		mockService.On("Login", mock.Anything, "scamper@example.com", "password123").
			Return(&LoginResult{Token: "JWT signed-token", ID: id, Name: "scamper"}, nil).Once()

		w := postJSON(t, router, "/users/login", LoginRequest{Email: "scamper@example.com", Password: "password123"})

		assert.Equal(t, http.StatusOK, w.Code)
		var resp LoginResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "scamper", resp.Name)
		assert.Equal(t, id, resp.ID)
	})

	t.Run("BadCredentials", func(t *testing.T) {
		mockService := new(MockAccountService)
		router := newTestRouter(NewAccountHandler(mockService, slog.Default()), nil)

		mockService.On("Login", mock.Anything, "scamper@example.com", "wrong").
			Return(nil, api.ErrUnauthenticated).Once()

		w := postJSON(t, router, "/users/login", LoginRequest{Email: "scamper@example.com", Password: "wrong"})

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "Login failed")
	})

	t.Run("Unverified", func(t *testing.T) {
		mockService := new(MockAccountService)
		router := newTestRouter(NewAccountHandler(mockService, slog.Default()), nil)

		mockService.On("Login", mock.Anything, "scamper@example.com", "password123").
			Return(nil, api.ErrForbidden).Once()

		w := postJSON(t, router, "/users/login", LoginRequest{Email: "scamper@example.com", Password: "password123"})

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "Your email not verified")
	})
}

func TestResetPinHandler(t *testing.T) {
	id := uuid.New()
	cases := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"NoMatch", api.ErrNotFound, http.StatusBadRequest, "No user found"},
		{"AlreadyVerified", api.ErrConflict, http.StatusBadRequest, "already verified"},
		{"Expired", api.ErrExpiredChallenge, http.StatusBadRequest, "expired"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mockService := new(MockAccountService)
			router := newTestRouter(NewAccountHandler(mockService, slog.Default()), nil)

			mockService.On("ResetPin", mock.Anything, id, "scamper@example.com", "password123").
				Return(tc.err).Once()

			w := postJSON(t, router, "/users/"+id.String()+"/reset-pin", ResetPinRequest{
				Email: "scamper@example.com", Password: "password123",
			})

			assert.Equal(t, tc.status, w.Code)
			assert.Contains(t, w.Body.String(), tc.message)
		})
	}

	t.Run("Success", func(t *testing.T) {
		mockService := new(MockAccountService)
		router := newTestRouter(NewAccountHandler(mockService, slog.Default()), nil)

		mockService.On("ResetPin", mock.Anything, id, "scamper@example.com", "password123").
			Return(nil).Once()

		w := postJSON(t, router, "/users/"+id.String()+"/reset-pin", ResetPinRequest{
			Email: "scamper@example.com", Password: "password123",
		})

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"success":true`)
	})
}

func TestProfileAndPlayHandlers(t *testing.T) {
	id := uuid.New()
	authUser := &AuthUser{ID: id, Email: "scamper@example.com", HasVerifiedEmail: true, Roles: []api.Role{api.RoleUser}}

	t.Run("ProfileSuccess", func(t *testing.T) {
		mockService := new(MockAccountService)
		router := newTestRouter(NewAccountHandler(mockService, slog.Default()), authUser)

		mockService.On("GetProfile", mock.Anything, id).
			Return(&User{ID: id, Name: "scamper"}, nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/users/"+id.String(), nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp ProfileResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "scamper", resp.Name)
	})

	t.Run("ProfileForeignIDForbidden", func(t *testing.T) {
		mockService := new(MockAccountService)
		router := newTestRouter(NewAccountHandler(mockService, slog.Default()), authUser)

		req := httptest.NewRequest(http.MethodGet, "/users/"+uuid.NewString(), nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
		mockService.AssertNotCalled(t, "GetProfile")
	})

	t.Run("PlaySuccess", func(t *testing.T) {
		mockService := new(MockAccountService)
		router := newTestRouter(NewAccountHandler(mockService, slog.Default()), authUser)

		mockService.On("Play", mock.Anything, id, "127.0.0.1:7777").
			Return("session-token", nil).Once()

		req := httptest.NewRequest(http.MethodPost, "/users/"+id.String()+"/play/127.0.0.1:7777", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp PlayResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "session-token", resp.Session)
	})
}

func TestGetSessionUserHandler(t *testing.T) {
	t.Run("Resolved", func(t *testing.T) {
		mockService := new(MockAccountService)
		router := newTestRouter(NewAccountHandler(mockService, slog.Default()), nil)

		id := uuid.New()
		mockService.On("FindUserBySession", mock.Anything, "127.0.0.1:7777", "session-token").
			Return(id, nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/servers/127.0.0.1:7777/sessions/session-token", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp SessionUserResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, id, resp.User.ID)
	})

	t.Run("Unknown", func(t *testing.T) {
		mockService := new(MockAccountService)
		router := newTestRouter(NewAccountHandler(mockService, slog.Default()), nil)

		mockService.On("FindUserBySession", mock.Anything, "127.0.0.1:7777", "ghost").
			Return(uuid.Nil, api.ErrNotFound).Once()

		req := httptest.NewRequest(http.MethodGet, "/servers/127.0.0.1:7777/sessions/ghost", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestVerifyByLinkHandler(t *testing.T) {
	t.Run("AlwaysOK", func(t *testing.T) {
		mockService := new(MockAccountService)
		router := newTestRouter(NewAccountHandler(mockService, slog.Default()), nil)

		mockService.On("VerifyByLink", mock.Anything, "scamper@example.com", "pin123").
			Return(api.ErrNotFound).Once()

		req := httptest.NewRequest(http.MethodGet, "/enduser-verify/scamper@example.com/pin123", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		// The link page never reveals whether the account exists.
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, w.Body.String(), "Verification failed")
	})
}
