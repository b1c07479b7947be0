package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnapshot(t *testing.T) {
	before := Snapshot()
	WagersPlaced.Add(2)
	after := Snapshot()

	assert.Len(t, after, 12)
	assert.Equal(t, before["wagers_placed"]+2, after["wagers_placed"])
}

func TestHandler(t *testing.T) {
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/debug/vars", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "rounds_won")
}
