package mcpclient

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResultSumTypeStates(t *testing.T) {
	ok := Ok(42)
	v, present := ok.Value()
	assert.True(t, ok.IsOk())
	assert.True(t, present)
	assert.Equal(t, 42, v)

	absent := Absent[int]()
	assert.True(t, absent.IsAbsent())
	assert.False(t, absent.IsOk())
	_, present = absent.Value()
	assert.False(t, present)

	failed := Err[int](assertErr)
	assert.False(t, failed.IsOk())
	assert.Equal(t, assertErr, failed.Error())
}

var assertErr = context.DeadlineExceeded

func newRegistryServer(t *testing.T, services map[string]serviceEntry) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/registry", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(registryResponse{Services: services})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestLookupReturnsOkOnMatchingService(t *testing.T) {
	consciousness := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ConsciousnessState{"consciousness_level": 0.73})
	}))
	defer consciousness.Close()

	registry := newRegistryServer(t, map[string]serviceEntry{
		"consciousness-layer": {URL: consciousness.URL},
	})

	client := New(registry.URL, testLogger())
	result := client.Lookup(context.Background(), consciousnessServiceNames, "test")
	require.True(t, result.IsOk())
	url, _ := result.Value()
	assert.Equal(t, consciousness.URL, url)
}

func TestLookupAbsentWhenRegistryUnreachable(t *testing.T) {
	client := New("http://127.0.0.1:0", testLogger())
	result := client.Lookup(context.Background(), consciousnessServiceNames, "test")
	assert.True(t, result.IsAbsent())
}

func TestLookupAbsentWhenNoCandidateMatches(t *testing.T) {
	registry := newRegistryServer(t, map[string]serviceEntry{
		"unrelated-service": {URL: "http://example.invalid"},
	})
	client := New(registry.URL, testLogger())
	result := client.Lookup(context.Background(), consciousnessServiceNames, "test")
	assert.True(t, result.IsAbsent())
}

func TestConsciousnessStateCallReturnsOkOnSuccessfulRoundTrip(t *testing.T) {
	consciousness := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/state", r.URL.Path)
		_ = json.NewEncoder(w).Encode(ConsciousnessState{"consciousness_level": 0.8})
	}))
	defer consciousness.Close()

	registry := newRegistryServer(t, map[string]serviceEntry{
		"mcp-consciousness-layer": {URL: consciousness.URL},
	})

	client := New(registry.URL, testLogger())
	result := client.ConsciousnessStateCall(context.Background())
	require.True(t, result.IsOk())
	state, _ := result.Value()
	assert.Equal(t, 0.8, state["consciousness_level"])
}

func TestConsciousnessStateCallAbsentOnNon2xx(t *testing.T) {
	consciousness := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer consciousness.Close()

	registry := newRegistryServer(t, map[string]serviceEntry{
		"mcp-consciousness-layer": {URL: consciousness.URL},
	})

	client := New(registry.URL, testLogger())
	result := client.ConsciousnessStateCall(context.Background())
	assert.True(t, result.IsAbsent())
}

func TestMarketAnalysisCallPropagatesTokenInPath(t *testing.T) {
	var seenPath string
	analyzer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(MarketAnalysisRecord{"sentiment": "bullish"})
	}))
	defer analyzer.Close()

	registry := newRegistryServer(t, map[string]serviceEntry{
		"mcp-market-analyzer": {URL: analyzer.URL},
	})

	client := New(registry.URL, testLogger())
	result := client.MarketAnalysisCall(context.Background(), "ETH")
	require.True(t, result.IsOk())
	assert.Equal(t, "/analysis/ETH", seenPath)
}
