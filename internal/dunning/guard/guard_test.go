package guard

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	dunningdomain "github.com/smallbiznis/partnerbilling/internal/dunning/domain"
	"github.com/stretchr/testify/assert"
)

func TestDecide(t *testing.T) {
	cases := []struct {
		level   int
		class   RouteClass
		method  string
		allowed bool
	}{
		{0, RouteGeneral, http.MethodPost, true},
		{1, RouteGeneral, http.MethodDelete, true},
		{2, RouteGeneral, http.MethodGet, true},
		{2, RouteGeneral, http.MethodPost, false},
		{2, RouteBilling, http.MethodPost, true},
		{3, RouteGeneral, http.MethodGet, false},
		{3, RouteDashboard, http.MethodGet, true},
		{3, RouteBilling, http.MethodPost, true},
		{4, RouteDashboard, http.MethodGet, false},
		{4, RouteBilling, http.MethodGet, true},
	}
	for _, tc := range cases {
		state := dunningdomain.NewAccessState(1, tc.level)
		got := Decide(state, tc.class, tc.method)
		assert.Equal(t, tc.allowed, got.Allowed, "level=%d class=%s method=%s", tc.level, tc.class, tc.method)
	}
}

type stubResolver struct {
	state dunningdomain.AccessState
	err   error
}

func (s stubResolver) ComputeAccessState(_ context.Context, partnerID snowflake.ID) (dunningdomain.AccessState, error) {
	if s.err != nil {
		return dunningdomain.AccessState{}, s.err
	}
	state := s.state
	state.PartnerID = partnerID
	return state, nil
}

func newRouter(resolver AccessStateResolver, class RouteClass) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Any("/v1/partners/:partner_id/things", Middleware(resolver, class, nil), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestMiddlewareBlocksAndSetsHeader(t *testing.T) {
	r := newRouter(stubResolver{state: dunningdomain.NewAccessState(0, 2)}, RouteGeneral)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/partners/1/things", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "2", w.Header().Get(HeaderDunningLevel))
	assert.Contains(t, w.Body.String(), "read_only")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/partners/1/things", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "2", w.Header().Get(HeaderDunningLevel))
}

func TestMiddlewareFailsOpen(t *testing.T) {
	r := newRouter(stubResolver{err: errors.New("db down")}, RouteGeneral)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/v1/partners/1/things", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "0", w.Header().Get(HeaderDunningLevel))
}

func TestMiddlewareIgnoresUnparseablePartner(t *testing.T) {
	r := newRouter(stubResolver{state: dunningdomain.NewAccessState(0, 4)}, RouteGeneral)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/partners/abc/things", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Header().Get(HeaderDunningLevel))
}
