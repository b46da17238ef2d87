package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danmuck/goes/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func TestStaticTokenValidate(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name    string
		stored  string
		input   string
		wantErr error
	}{
		{name: "empty token denied", stored: "", input: "abc", wantErr: ErrUnauthorized},
		{name: "mismatched token denied", stored: "abc", input: "xyz", wantErr: ErrUnauthorized},
		{name: "matching token accepted", stored: "abc", input: "abc", wantErr: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			log.Debug().Msgf("auth/static-token: stored=%q input=%q", tc.stored, tc.input)
			err := (StaticToken{Token: tc.stored}).Validate(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestFuncValidator(t *testing.T) {
	testlog.Start(t)
	validator := FuncValidator(func(token string) error {
		if token != "ok" {
			return ErrUnauthorized
		}
		return nil
	})

	if err := validator.Validate("bad"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for bad token, got %v", err)
	}
	if err := validator.Validate("ok"); err != nil {
		t.Fatalf("expected success for ok token, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	testlog.Start(t)
	if tok, ok := BearerToken("Bearer abc"); !ok || tok != "abc" {
		t.Fatalf("unexpected parse: %q %v", tok, ok)
	}
	if tok, ok := BearerToken("bearer  abc "); !ok || tok != "abc" {
		t.Fatalf("scheme should be case-insensitive: %q %v", tok, ok)
	}
	for _, bad := range []string{"", "Bearer", "Bearer ", "Basic abc", "abc"} {
		if _, ok := BearerToken(bad); ok {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestMiddleware(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(StaticToken{Token: "abc"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	cases := map[string]int{
		"":           http.StatusUnauthorized,
		"Bearer xyz": http.StatusUnauthorized,
		"Bearer abc": http.StatusNoContent,
	}
	for header, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Fatalf("header %q: status=%d want=%d", header, rec.Code, want)
		}
	}
}
