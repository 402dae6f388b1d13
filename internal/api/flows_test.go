package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hrplatform/backend/internal/auth"
	"hrplatform/backend/internal/logging"
	"hrplatform/backend/internal/repository"
	"hrplatform/backend/internal/services"
)

var testSecret = []byte("test-secret")

func newTestServer(t *testing.T) *echo.Echo {
	t.Helper()
	store := repository.NewMemoryFlowStore()
	definitions := services.NewDefinitionService(store)
	versions := services.NewVersionService(store, nil)
	steps := services.NewStepService(store)
	execution := services.NewExecutionService(store, versions)

	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(logging.NewLogger())
	flows := e.Group("/api/v1/flows", auth.Middleware(testSecret))
	NewFlowHandler(definitions, versions, steps, execution).Register(flows)
	return e
}

func bearer(t *testing.T, tenantID, userID string) string {
	t.Helper()
	token, err := auth.SignToken(testSecret, auth.Identity{TenantID: tenantID, UserID: userID, Role: "HR_MANAGER"}, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func doJSON(t *testing.T, e *echo.Echo, method, path, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &decoded)
	}
	return rec, decoded
}

func TestFlowRoutesRequireAuth(t *testing.T) {
	e := newTestServer(t)

	rec, body := doJSON(t, e, http.MethodGet, "/api/v1/flows/definitions", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing bearer token", body["error"])
}

func TestDefinitionEndpoints(t *testing.T) {
	e := newTestServer(t)
	token := bearer(t, "tenant-a", "user-1")

	rec, def := doJSON(t, e, http.MethodPost, "/api/v1/flows/definitions", token,
		`{"flow_type":"ONBOARDING","name":"Employee Onboarding"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	defID := def["id"].(string)
	assert.Equal(t, "tenant-a", def["tenant_id"])

	rec, _ = doJSON(t, e, http.MethodPost, "/api/v1/flows/definitions", token,
		`{"flow_type":"ONBOARDING","name":"dup"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = doJSON(t, e, http.MethodPost, "/api/v1/flows/definitions", token, `{"name":"no type"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, got := doJSON(t, e, http.MethodGet, "/api/v1/flows/definitions/"+defID, token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defID, got["id"])

	rec, _ = doJSON(t, e, http.MethodGet, "/api/v1/flows/definitions/type/ONBOARDING", token, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// another tenant cannot see it
	other := bearer(t, "tenant-b", "user-2")
	rec, _ = doJSON(t, e, http.MethodGet, "/api/v1/flows/definitions/"+defID, other, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, updated := doJSON(t, e, http.MethodPatch, "/api/v1/flows/definitions/"+defID, token, `{"name":"Renamed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Renamed", updated["name"])

	rec, deactivated := doJSON(t, e, http.MethodPost, "/api/v1/flows/definitions/"+defID+"/deactivate", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, deactivated["is_active"])
}

// buildPublishedFlow drives the full authoring path over HTTP and returns
// the definition and version ids.
func buildPublishedFlow(t *testing.T, e *echo.Echo, token string) (string, string) {
	t.Helper()

	rec, def := doJSON(t, e, http.MethodPost, "/api/v1/flows/definitions", token,
		`{"flow_type":"ONBOARDING","name":"Employee Onboarding"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	defID := def["id"].(string)

	rec, version := doJSON(t, e, http.MethodPost, "/api/v1/flows/definitions/"+defID+"/versions", token, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	versionID := version["id"].(string)

	for i, title := range []string{"Personal Details", "HR Review"} {
		rec, _ = doJSON(t, e, http.MethodPost, "/api/v1/flows/versions/"+versionID+"/steps", token,
			fmt.Sprintf(`{"step_order":%d,"step_type":"FORM","title":"%s"}`, i+1, title))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec, _ = doJSON(t, e, http.MethodPost, "/api/v1/flows/versions/"+versionID+"/publish", token,
		`{"archive_old_version":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	return defID, versionID
}

func TestVersionAndStepEndpoints(t *testing.T) {
	e := newTestServer(t)
	token := bearer(t, "tenant-a", "user-1")
	defID, versionID := buildPublishedFlow(t, e, token)

	rec, version := doJSON(t, e, http.MethodGet, "/api/v1/flows/versions/"+versionID, token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PUBLISHED", version["status"])
	assert.Equal(t, float64(1), version["version_number"])

	rec, _ = doJSON(t, e, http.MethodGet, "/api/v1/flows/definitions/"+defID+"/active-version", token, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, active := doJSON(t, e, http.MethodGet, "/api/v1/flows/types/ONBOARDING/active-version", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, versionID, active["id"])

	// published versions are frozen
	rec, body := doJSON(t, e, http.MethodPost, "/api/v1/flows/versions/"+versionID+"/steps", token,
		`{"step_order":3,"step_type":"FORM","title":"Late"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "steps can only be modified in draft versions", body["error"])

	// next-step-order on a draft
	rec, draft := doJSON(t, e, http.MethodPost, "/api/v1/flows/definitions/"+defID+"/versions", token, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	draftID := draft["id"].(string)

	rec, next := doJSON(t, e, http.MethodGet, "/api/v1/flows/versions/"+draftID+"/next-step-order", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), next["next_step_order"])
}

func TestPublishArchivesPreviousByDefault(t *testing.T) {
	e := newTestServer(t)
	token := bearer(t, "tenant-a", "user-1")
	defID, v1ID := buildPublishedFlow(t, e, token)

	rec, draft := doJSON(t, e, http.MethodPost, "/api/v1/flows/definitions/"+defID+"/versions", token, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	draftID := draft["id"].(string)
	rec, _ = doJSON(t, e, http.MethodPost, "/api/v1/flows/versions/"+draftID+"/steps", token,
		`{"step_order":1,"step_type":"FORM","title":"Only"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	// publishing without the archive flag retires the old version
	rec, _ = doJSON(t, e, http.MethodPost, "/api/v1/flows/versions/"+draftID+"/publish", token, `{}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, old := doJSON(t, e, http.MethodGet, "/api/v1/flows/versions/"+v1ID, token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ARCHIVED", old["status"])

	// an explicit opt-out keeps both published
	rec, second := doJSON(t, e, http.MethodPost, "/api/v1/flows/definitions/"+defID+"/versions", token, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	secondID := second["id"].(string)
	rec, _ = doJSON(t, e, http.MethodPost, "/api/v1/flows/versions/"+secondID+"/steps", token,
		`{"step_order":1,"step_type":"FORM","title":"Only"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec, _ = doJSON(t, e, http.MethodPost, "/api/v1/flows/versions/"+secondID+"/publish", token,
		`{"archive_old_version":false}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, prev := doJSON(t, e, http.MethodGet, "/api/v1/flows/versions/"+draftID, token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PUBLISHED", prev["status"])
}

func TestExecutionEndpoints(t *testing.T) {
	e := newTestServer(t)
	token := bearer(t, "tenant-a", "user-1")
	buildPublishedFlow(t, e, token)

	rec, inst := doJSON(t, e, http.MethodPost, "/api/v1/flows/execute", token, `{"flow_type":"ONBOARDING"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	instID := inst["id"].(string)
	assert.Equal(t, "IN_PROGRESS", inst["status"])
	steps := inst["steps"].([]any)
	require.Len(t, steps, 2)
	firstStepID := steps[0].(map[string]any)["id"].(string)

	rec, _ = doJSON(t, e, http.MethodPost, "/api/v1/flows/execute", token, `{"flow_type":"UNKNOWN"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, current := doJSON(t, e, http.MethodGet, "/api/v1/flows/instances/"+instID+"/current-step", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, firstStepID, current["id"])

	rec, assigned := doJSON(t, e, http.MethodPost, "/api/v1/flows/step-instances/"+firstStepID+"/assign", token,
		`{"assigned_to":"reviewer-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "reviewer-1", assigned["assigned_to"])

	rec, after := doJSON(t, e, http.MethodPost, "/api/v1/flows/instances/"+instID+"/submit-step", token,
		fmt.Sprintf(`{"step_instance_id":"%s","data":{"name":"Ada"}}`, firstStepID))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), after["current_step_order"])

	// resubmitting the same step
	rec, body := doJSON(t, e, http.MethodPost, "/api/v1/flows/instances/"+instID+"/submit-step", token,
		fmt.Sprintf(`{"step_instance_id":"%s"}`, firstStepID))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "step is already completed", body["error"])

	rec, _ = doJSON(t, e, http.MethodGet, "/api/v1/flows/instances?flow_type=ONBOARDING", token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, cancelled := doJSON(t, e, http.MethodPost, "/api/v1/flows/instances/"+instID+"/cancel", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CANCELLED", cancelled["status"])

	// other tenants see nothing
	other := bearer(t, "tenant-b", "user-2")
	rec, _ = doJSON(t, e, http.MethodGet, "/api/v1/flows/instances/"+instID, other, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
