package review

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ledgerguard/reconcile/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*queueFixture, *httptest.Server) {
	t.Helper()
	f := newQueueFixture(t)
	server := httptest.NewServer(NewServer(f.queue, f.db.Storage, f.auditLog).Routes())
	t.Cleanup(server.Close)
	return f, server
}

func TestServer_PendingItems(t *testing.T) {
	f, server := newTestServer(t)
	item := f.submit(t)

	resp, err := http.Get(server.URL + "/review/tenant-a/pending")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var items []model.ReviewItem
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&items))
	require.Len(t, items, 1)
	assert.Equal(t, item.ID, items[0].ID)
}

func TestServer_PendingItems_EmptyTenant(t *testing.T) {
	_, server := newTestServer(t)

	resp, err := http.Get(server.URL + "/review/tenant-empty/pending")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var items []model.ReviewItem
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&items))
	assert.Empty(t, items)
}

func TestServer_Resolve(t *testing.T) {
	f, server := newTestServer(t)
	item := f.submit(t)

	body, _ := json.Marshal(resolveRequest{
		Decision:            string(model.ReviewApproved),
		ReviewerID:          "reviewer-1",
		SelectedCandidateID: "cand-1",
	})
	resp, err := http.Post(server.URL+"/review/"+item.ID+"/resolve", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result resolveResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, item.ID, result.ReviewItemID)
	assert.Equal(t, "obl-1", result.ObligationID)
	assert.Equal(t, string(model.ReviewApproved), result.Status)

	obligation, err := f.db.Storage.GetObligationByID(context.Background(), "tenant-a", "obl-1")
	require.NoError(t, err)
	assert.Equal(t, model.ObligationSettled, obligation.Status)
}

func TestServer_Resolve_UnknownItem(t *testing.T) {
	_, server := newTestServer(t)

	body, _ := json.Marshal(resolveRequest{
		Decision:   string(model.ReviewRejected),
		ReviewerID: "reviewer-1",
	})
	resp, err := http.Post(server.URL+"/review/missing/resolve", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Resolve_BadBody(t *testing.T) {
	_, server := newTestServer(t)

	resp, err := http.Post(server.URL+"/review/some-id/resolve", "application/json", bytes.NewReader([]byte("{")))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_AuditExport(t *testing.T) {
	f, server := newTestServer(t)
	f.submit(t)

	resp, err := http.Get(server.URL + "/audit/tenant-a")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var export auditExport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&export))
	assert.Equal(t, "tenant-a", export.TenantID)
	assert.True(t, export.ChainValid)
	assert.NotEmpty(t, export.Digest)
	require.Len(t, export.Entries, 1)
	assert.Equal(t, int64(1), export.Entries[0].SequenceNo)
	assert.NotEmpty(t, export.Entries[0].EntryHash)
}

func TestServer_AuditExport_BadFilter(t *testing.T) {
	_, server := newTestServer(t)

	resp, err := http.Get(server.URL + "/audit/tenant-a?from=yesterday")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
