package telemetry

import (
	"testing"
)

func TestSanitizeHost(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeHost(tc.input); got != tc.expected {
				t.Errorf("SanitizeHost(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if fetchAttemptsTotal == nil || tasksTotal == nil || rateLimitDelaysSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	// Observations must not panic after repeated Init.
	ObserveFetch("https://example.com/a", "ok", 128)
	ObserveRetry("timeout")
	ObserveRotation()
	ObserveTask("done")
	ObserveDedupHit()
	ObserveUpsert("inserted")
	ObserveExtractionError()
	IncActiveWorkers()
	DecActiveWorkers()
}
