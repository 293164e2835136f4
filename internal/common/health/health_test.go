package health

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestMultiChecker(t *testing.T) {
	healthy := CheckFunc(func() error { return nil })
	busDown := CheckFunc(func() error { return errors.New("not connected") })

	mc := NewMultiChecker().Add("database", healthy)
	assert.NoError(t, mc.Check())

	mc.Add("bus", busDown)
	err := mc.Check()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "bus: not connected")
	assert.NotContains(t, err.Error(), "database")
}

func TestRegisterHandler(t *testing.T) {
	mux := http.NewServeMux()
	var failure error
	RegisterHandler(mux, CheckFunc(func() error { return failure }))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	failure = errors.New("database unreachable")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "database unreachable\n", rec.Body.String())
}
