package license

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupRouter(t *testing.T) (*gin.Engine, *Registry) {
	t.Helper()
	reg := newTestRegistry()
	r := gin.New()
	NewHandler(reg).RegisterRoutes(r.Group("/v1/admin"))
	return r, reg
}

func doJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_IssueAndGet(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(r, http.MethodPost, "/v1/admin/licenses", map[string]any{"owner": "Acme", "max_users": 2, "tier": "pro"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created struct {
		License License `json:"license"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, TierPro, created.License.Tier)

	w = doJSON(r, http.MethodGet, "/v1/admin/licenses/"+created.License.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got struct {
		License Info `json:"license"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.True(t, got.License.Valid)
	assert.Equal(t, 2, got.License.RemainingUsers)
}

func TestHandler_IssueRejectsBadInput(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(r, http.MethodPost, "/v1/admin/licenses", map[string]any{"max_users": 2})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/v1/admin/licenses", map[string]any{"owner": "Acme", "max_users": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_AuthorizeCapacity(t *testing.T) {
	r, reg := setupRouter(t)
	l := issue(t, reg, 1)

	w := doJSON(r, http.MethodPost, "/v1/admin/licenses/"+l.Token+"/users", map[string]string{"user": "alice"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodPost, "/v1/admin/licenses/"+l.Token+"/users", map[string]string{"user": "bob"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(r, http.MethodDelete, "/v1/admin/licenses/"+l.Token+"/users/alice", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodPost, "/v1/admin/licenses/"+l.Token+"/users", map[string]string{"user": "bob"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandler_RevokeReactivateDelete(t *testing.T) {
	r, reg := setupRouter(t)
	l := issue(t, reg, 1)

	w := doJSON(r, http.MethodPost, "/v1/admin/licenses/"+l.Token+"/revoke", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.ErrorIs(t, reg.Validate(t.Context(), l.Token), ErrInactive)

	w = doJSON(r, http.MethodPost, "/v1/admin/licenses/"+l.Token+"/reactivate", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, reg.Validate(t.Context(), l.Token))

	w = doJSON(r, http.MethodDelete, "/v1/admin/licenses/"+l.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodGet, "/v1/admin/licenses/"+l.Token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_ListByOwner(t *testing.T) {
	r, reg := setupRouter(t)
	issue(t, reg, 1)
	_, err := reg.Issue(t.Context(), IssueRequest{Owner: "Globex"})
	require.NoError(t, err)

	w := doJSON(r, http.MethodGet, "/v1/admin/licenses?owner=globex", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
}
