package chirpstack

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueue(t *testing.T) {
	var gotPath, gotAuth string
	var got enqueueRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get(authHeader)
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"fCnt": 12}`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL+"/", "api-key", time.Second)
	require.NoError(t, err)

	err = client.Enqueue(context.Background(), "ff0006f201000001", "+gcMRE00PTRJ", 7, true)
	require.NoError(t, err)

	assert.Equal(t, "/api/devices/ff0006f201000001/queue", gotPath)
	assert.Equal(t, "Bearer api-key", gotAuth)
	assert.Equal(t, DeviceQueueItem{Confirmed: true, Data: "+gcMRE00PTRJ", DevEUI: "ff0006f201000001", FCnt: 0, FPort: 7}, got.DeviceQueueItem)
}

func TestEnqueue_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"object does not exist","message":"object does not exist"}`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "", time.Second)
	require.NoError(t, err)

	err = client.Enqueue(context.Background(), "ff0006f201000001", "+gcMRE00PTNI", 7, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http 404")
	assert.Contains(t, err.Error(), "object does not exist")
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient("", "token", 0)
	assert.Error(t, err)
}
