package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func requireRoleContext(e *echo.Echo, roles []string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if roles != nil {
		req = req.WithContext(context.WithValue(req.Context(), UserRolesKey, roles))
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestRequireRole_Allowed(t *testing.T) {
	e := echo.New()
	c, rec := requireRoleContext(e, []string{"staff"})

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}

	mw := RequireRole("staff")
	if err := mw(handler)(c); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequireRole_AdminAlwaysPasses(t *testing.T) {
	e := echo.New()
	c, _ := requireRoleContext(e, []string{"admin"})

	mw := RequireRole("staff")
	h := mw(func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if err := h(c); err != nil {
		t.Errorf("admin should pass any role check, got %v", err)
	}
}

func TestRequireRole_Forbidden(t *testing.T) {
	e := echo.New()
	c, _ := requireRoleContext(e, []string{"viewer"})

	mw := RequireRole("staff")
	h := mw(func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	err := h(c)

	if err == nil {
		t.Fatal("expected forbidden error")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", httpErr.Code)
	}
}

func TestRequireRole_NoRolesOnContext(t *testing.T) {
	e := echo.New()
	c, _ := requireRoleContext(e, nil)

	mw := RequireRole("staff")
	h := mw(func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if err := h(c); err == nil {
		t.Fatal("request without roles must be rejected")
	}
}
