package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSecret = "test-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestRequestID_GeneratesNew(t *testing.T) {
	w := httptest.NewRecorder()
	_, r := gin.CreateTestContext(w)

	r.Use(RequestID())
	r.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, GetRequestID(c))
	})

	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	headerID := w.Header().Get(RequestIDHeader)
	if headerID == "" {
		t.Error("Expected X-Request-ID header to be set")
	}
	if headerID != w.Body.String() {
		t.Errorf("Header ID (%s) should match body ID (%s)", headerID, w.Body.String())
	}
}

func TestAuth(t *testing.T) {
	cfg := AuthConfig{Secret: testSecret, Issuer: "rail-reservation"}

	tests := []struct {
		name       string
		header     func(t *testing.T) string
		userHeader string
		devHeader  bool
		wantStatus int
		wantUser   string
	}{
		{
			name: "valid token uses sub",
			header: func(t *testing.T) string {
				return "Bearer " + signToken(t, jwt.MapClaims{
					"sub": "user-1", "iss": "rail-reservation", "exp": time.Now().Add(time.Hour).Unix(),
				})
			},
			wantStatus: http.StatusOK,
			wantUser:   "user-1",
		},
		{
			name: "falls back to user_id claim",
			header: func(t *testing.T) string {
				return "Bearer " + signToken(t, jwt.MapClaims{
					"user_id": "user-2", "iss": "rail-reservation", "exp": time.Now().Add(time.Hour).Unix(),
				})
			},
			wantStatus: http.StatusOK,
			wantUser:   "user-2",
		},
		{
			name: "expired token",
			header: func(t *testing.T) string {
				return "Bearer " + signToken(t, jwt.MapClaims{
					"sub": "user-1", "iss": "rail-reservation", "exp": time.Now().Add(-time.Hour).Unix(),
				})
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "wrong issuer",
			header: func(t *testing.T) string {
				return "Bearer " + signToken(t, jwt.MapClaims{"sub": "user-1", "iss": "someone-else"})
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "missing header without fallback",
			header:     func(t *testing.T) string { return "" },
			userHeader: "user-3",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "dev header fallback",
			header:     func(t *testing.T) string { return "" },
			userHeader: "user-3",
			devHeader:  true,
			wantStatus: http.StatusOK,
			wantUser:   "user-3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cfg
			c.DevHeaderFallback = tt.devHeader

			r := gin.New()
			r.Use(Auth(c))
			r.GET("/me", func(c *gin.Context) {
				userID, _ := GetUserID(c)
				c.String(http.StatusOK, userID)
			})

			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if h := tt.header(t); h != "" {
				req.Header.Set("Authorization", h)
			}
			if tt.userHeader != "" {
				req.Header.Set(UserIDHeader, tt.userHeader)
			}

			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantUser != "" && w.Body.String() != tt.wantUser {
				t.Errorf("user = %q, want %q", w.Body.String(), tt.wantUser)
			}
		})
	}
}

func newIdempotentRouter(t *testing.T, status int) (*gin.Engine, *int32) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	var calls int32
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(ContextKeyUserID, "user-1")
		c.Next()
	})
	r.POST("/bookings", Idempotency(DefaultIdempotencyConfig(rdb)), func(c *gin.Context) {
		n := atomic.AddInt32(&calls, 1)
		c.JSON(status, gin.H{"call": n})
	})
	return r, &calls
}

func postBooking(r *gin.Engine, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/bookings", strings.NewReader(body))
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotency_ReplaysCompletedResponse(t *testing.T) {
	r, calls := newIdempotentRouter(t, http.StatusCreated)

	first := postBooking(r, "key-1", `{"train_id":"12951"}`)
	second := postBooking(r, "key-1", `{"train_id":"12951"}`)

	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("codes = %d, %d, want 201, 201", first.Code, second.Code)
	}
	if second.Body.String() != first.Body.String() {
		t.Errorf("replayed body %s, want %s", second.Body.String(), first.Body.String())
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Error("expected Idempotent-Replayed header on replay")
	}
	if atomic.LoadInt32(calls) != 1 {
		t.Errorf("handler calls = %d, want 1", *calls)
	}
}

func TestIdempotency_KeyReusedWithDifferentBody(t *testing.T) {
	r, _ := newIdempotentRouter(t, http.StatusCreated)

	postBooking(r, "key-1", `{"train_id":"12951"}`)
	w := postBooking(r, "key-1", `{"train_id":"12952"}`)

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
}

func TestIdempotency_WithoutKeyPassesThrough(t *testing.T) {
	r, calls := newIdempotentRouter(t, http.StatusCreated)

	postBooking(r, "", `{}`)
	postBooking(r, "", `{}`)

	if atomic.LoadInt32(calls) != 2 {
		t.Errorf("handler calls = %d, want 2", *calls)
	}
}

func TestIdempotency_ServerErrorsAreNotStored(t *testing.T) {
	r, calls := newIdempotentRouter(t, http.StatusServiceUnavailable)

	postBooking(r, "key-1", `{}`)
	postBooking(r, "key-1", `{}`)

	if atomic.LoadInt32(calls) != 2 {
		t.Errorf("handler calls = %d, want 2", *calls)
	}
}
