package feed_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"fleet-telemetry/internal/feed"
	"fleet-telemetry/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type rpcCall struct {
	Method string                 `json:"method"`
	Params map[string]interface{} `json:"params"`
}

func newTestServer(t *testing.T, handler func(call rpcCall) interface{}) (*httptest.Server, *[]rpcCall) {
	t.Helper()
	calls := &[]rpcCall{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var call rpcCall
		require.NoError(t, json.NewDecoder(r.Body).Decode(&call))
		*calls = append(*calls, call)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(handler(call))
	}))
	t.Cleanup(srv.Close)
	return srv, calls
}

func newClient(url string) *feed.Client {
	return feed.NewClient(feed.ClientConfig{
		BaseURL:     url,
		Credentials: feed.Credentials{Database: "fleet", UserName: "ops", SessionID: "s-1"},
	}, zap.NewNop())
}

func TestClient_GetFeed_ReturnsRecordsAndToken(t *testing.T) {
	srv, calls := newTestServer(t, func(call rpcCall) interface{} {
		return map[string]interface{}{
			"result": map[string]interface{}{
				"data": []map[string]interface{}{
					{"device": map[string]interface{}{"id": "b1"}, "dateTime": "2024-01-01T00:00:00Z", "latitude": 43.6},
				},
				"toVersion": "v2",
			},
		}
	})

	from := "v1"
	page, err := newClient(srv.URL).GetFeed(context.Background(), models.FeedRequest{
		Kind:         models.EntityLogRecord,
		FromVersion:  &from,
		ResultsLimit: 1000,
	})
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "v2", page.ToVersion)

	// 数字保留为 json.Number
	_, isNumber := page.Records[0]["latitude"].(json.Number)
	assert.True(t, isNumber)

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	assert.Equal(t, "GetFeed", call.Method)
	assert.Equal(t, "LogRecord", call.Params["typeName"])
	assert.Equal(t, "v1", call.Params["fromVersion"])
	assert.EqualValues(t, 1000, call.Params["resultsLimit"])
	assert.NotNil(t, call.Params["credentials"])
}

func TestClient_GetFeed_FirstSyncOmitsFromVersion(t *testing.T) {
	srv, calls := newTestServer(t, func(call rpcCall) interface{} {
		return map[string]interface{}{
			"result": map[string]interface{}{"data": []interface{}{}, "toVersion": "v0"},
		}
	})

	page, err := newClient(srv.URL).GetFeed(context.Background(), models.FeedRequest{Kind: models.EntityExceptionEvent})
	require.NoError(t, err)
	assert.Empty(t, page.Records)
	assert.Equal(t, "v0", page.ToVersion)

	_, hasFrom := (*calls)[0].Params["fromVersion"]
	assert.False(t, hasFrom)
}

func TestClient_GetFeed_APIError(t *testing.T) {
	srv, _ := newTestServer(t, func(call rpcCall) interface{} {
		return map[string]interface{}{
			"error": map[string]interface{}{"name": "InvalidUserException", "message": "session expired"},
		}
	})

	_, err := newClient(srv.URL).GetFeed(context.Background(), models.FeedRequest{Kind: models.EntityLogRecord})
	require.Error(t, err)
	var apiErr *feed.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "InvalidUserException", apiErr.Name)
}

func TestClient_GetFeed_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).GetFeed(context.Background(), models.FeedRequest{Kind: models.EntityLogRecord})
	require.Error(t, err)
}

func TestClient_GetDevice_NotFound(t *testing.T) {
	srv, calls := newTestServer(t, func(call rpcCall) interface{} {
		return map[string]interface{}{"result": []interface{}{}}
	})

	_, err := newClient(srv.URL).GetDevice(context.Background(), "b9")
	require.ErrorIs(t, err, models.ErrNotFound)

	search, ok := (*calls)[0].Params["search"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "b9", search["id"])
	assert.Equal(t, "Device", (*calls)[0].Params["typeName"])
}

func TestClient_GetDevice_Found(t *testing.T) {
	srv, _ := newTestServer(t, func(call rpcCall) interface{} {
		return map[string]interface{}{"result": []map[string]interface{}{
			{"id": "b1", "name": "Truck 7", "serialNumber": "G9-001"},
		}}
	})

	dev, err := newClient(srv.URL).GetDevice(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, "Truck 7", dev["name"])
}

func TestClient_FindDiagnostic_PicksFirstByName(t *testing.T) {
	srv, _ := newTestServer(t, func(call rpcCall) interface{} {
		return map[string]interface{}{"result": []map[string]interface{}{
			{"id": "d3", "name": "Raw odometer"},
			{"id": "d2", "name": "Engine hours"},
			{"id": "d1", "name": "Odometer"},
		}}
	})

	diag, err := newClient(srv.URL).FindDiagnostic(context.Background(), "odometer")
	require.NoError(t, err)
	assert.Equal(t, "d1", diag["id"])
}

func TestClient_FindDiagnostic_NoMatch(t *testing.T) {
	srv, _ := newTestServer(t, func(call rpcCall) interface{} {
		return map[string]interface{}{"result": []map[string]interface{}{
			{"id": "d2", "name": "Engine hours"},
		}}
	})

	_, err := newClient(srv.URL).FindDiagnostic(context.Background(), "odometer")
	require.ErrorIs(t, err, models.ErrNotFound)
}
