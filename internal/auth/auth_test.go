package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

const testKey = "test-signing-key"

func TestIssueAndParse(t *testing.T) {
	tok, err := Issue("admin", RoleTeacher, "kiosk", testKey, time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	claims, err := Parse(tok.AccessToken, testKey, "kiosk")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if claims.Subject != "admin" || claims.Role != RoleTeacher {
		t.Errorf("claims: %+v", claims)
	}
	if _, err := Parse(tok.AccessToken, "other-key", "kiosk"); err == nil {
		t.Errorf("token accepted with the wrong key")
	}
	if _, err := Parse(tok.AccessToken, testKey, "someone-else"); err == nil {
		t.Errorf("token accepted with the wrong issuer")
	}
}

func TestParseExpired(t *testing.T) {
	tok, err := Issue("admin", RoleTeacher, "kiosk", testKey, -time.Minute)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := Parse(tok.AccessToken, testKey, "kiosk"); err == nil {
		t.Errorf("expired token accepted")
	}
}

func TestCheckPassword(t *testing.T) {
	if !CheckPassword("1234", "1234") {
		t.Errorf("matching password rejected")
	}
	if CheckPassword("123", "1234") {
		t.Errorf("wrong password accepted")
	}
	if CheckPassword("", "") {
		t.Errorf("empty configured password must never match")
	}
}

func TestRequireRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", RequireRole(testKey, "kiosk", RoleTeacher), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	teacher, _ := Issue("admin", RoleTeacher, "kiosk", testKey, time.Hour)
	reader, _ := Issue("reader-1", "reader", "kiosk", testKey, time.Hour)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
		{"wrong role", "Bearer " + reader.AccessToken, http.StatusForbidden},
		{"teacher", "Bearer " + teacher.AccessToken, http.StatusNoContent},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tt.want {
			t.Errorf("%s: got %d, want %d", tt.name, w.Code, tt.want)
		}
	}
}
