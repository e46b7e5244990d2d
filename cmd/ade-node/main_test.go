package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunDispatch(t *testing.T) {
	t.Run("Help", func(t *testing.T) {
		var out, errOut bytes.Buffer
		code := Run([]string{"ade-node", "help"}, &out, &errOut)
		assert.Equal(t, 0, code)
		assert.Contains(t, out.String(), "replay")
	})

	t.Run("Unknown Command", func(t *testing.T) {
		var out, errOut bytes.Buffer
		code := Run([]string{"ade-node", "frobnicate"}, &out, &errOut)
		assert.Equal(t, 2, code)
		assert.Contains(t, errOut.String(), "Unknown command")
	})

	t.Run("Replay Missing Ref", func(t *testing.T) {
		var out, errOut bytes.Buffer
		code := Run([]string{"ade-node", "replay"}, &out, &errOut)
		assert.Equal(t, 2, code)
	})
}

func TestReplayCmdAgainstNode(t *testing.T) {
	trace := map[string]interface{}{
		"decision_id":   "d-1",
		"scenario_id":   "notification-timing",
		"scenario_hash": "sha256:abc",
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/replay/d-1"):
			_ = json.NewEncoder(w).Encode(trace)
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/verify"):
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"deterministic": false})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	t.Run("Fetch Trace", func(t *testing.T) {
		var out, errOut bytes.Buffer
		code := runReplayCmd([]string{"-addr", srv.URL, "d-1"}, &out, &errOut)
		require.Equal(t, 0, code, errOut.String())
		assert.Contains(t, out.String(), "notification-timing")
	})

	t.Run("Verify Divergent Exits Nonzero", func(t *testing.T) {
		var out, errOut bytes.Buffer
		code := runReplayCmd([]string{"-addr", srv.URL, "-verify", "d-1"}, &out, &errOut)
		assert.Equal(t, 3, code)
	})

	t.Run("Unknown Trace", func(t *testing.T) {
		var out, errOut bytes.Buffer
		code := runReplayCmd([]string{"-addr", srv.URL, "missing"}, &out, &errOut)
		assert.Equal(t, 1, code)
	})
}

func TestHealthCmd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	var out, errOut bytes.Buffer
	code := runHealthCmd([]string{"-addr", srv.URL}, &out, &errOut)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "ok")
}
