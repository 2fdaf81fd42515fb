package statusapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailhistory/internal/importer"
	"github.com/nhle/mailhistory/internal/logging"
	"github.com/nhle/mailhistory/internal/metrics"
	"github.com/nhle/mailhistory/internal/model"
)

type fakeSource struct {
	stopped bool
}

func (f *fakeSource) Accounts() []model.AccountConfig {
	return []model.AccountConfig{
		{ID: "a", Index: 0, Label: "Work", Enabled: true, Host: "imap.example.com", Mailbox: "INBOX", Username: "secret-user"},
	}
}

func (f *fakeSource) Sessions() []importer.SessionSnapshot {
	return []importer.SessionSnapshot{
		{AccountID: "a", Label: "Work", Status: model.SessionImporting, StatusName: "importing", Connected: true, Current: 4, Total: 9, Imported: 3},
	}
}

func (f *fakeSource) Importing() bool          { return !f.stopped }
func (f *fakeSource) TotalMessageCount() int   { return 9 }
func (f *fakeSource) CurrentMessageCount() int { return 4 }
func (f *fakeSource) StopAll()                 { f.stopped = true }

func serve(t *testing.T, src Source, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	New(":0", src, logging.Discard()).Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestStatus(t *testing.T) {
	rec := serve(t, &fakeSource{}, http.MethodGet, "/api/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.True(t, got.Importing)
	assert.Equal(t, 4, got.Current)
	assert.Equal(t, 9, got.Total)
	require.Len(t, got.Sessions, 1)
	assert.Equal(t, "importing", got.Sessions[0].StatusName)
	assert.Equal(t, 3, got.Sessions[0].Imported)
}

func TestAccountsOmitCredentials(t *testing.T) {
	rec := serve(t, &fakeSource{}, http.MethodGet, "/api/v1/accounts")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"label":"Work"`)
	assert.NotContains(t, rec.Body.String(), "secret-user")
}

func TestSessionByID(t *testing.T) {
	rec := serve(t, &fakeSource{}, http.MethodGet, "/api/v1/sessions/a")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, &fakeSource{}, http.MethodGet, "/api/v1/sessions/zz")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "no session for account zz")
}

func TestStop(t *testing.T) {
	src := &fakeSource{}
	rec := serve(t, src, http.MethodPost, "/api/v1/stop")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, src.stopped)

	rec = serve(t, src, http.MethodGet, "/api/v1/stop")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.MessagesTotal.WithLabelValues("statusapi-test", metrics.OutcomeImported).Inc()

	rec := serve(t, &fakeSource{}, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `account="statusapi-test"`))
}
