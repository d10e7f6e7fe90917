package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/compose-network/oracle/oracle-app/config"
	"github.com/compose-network/oracle/server/api/middleware"
	"github.com/compose-network/oracle/x/proof/groth16"
)

const alice = "0x00000000000000000000000000000000000a11ce"

func newTestApp(t *testing.T) (*App, *groth16.Prover) {
	t.Helper()

	prover, err := groth16.Setup()
	require.NoError(t, err)
	keyDir := t.TempDir()
	require.NoError(t, prover.SaveKeys(keyDir))

	cfg := config.Default()
	cfg.API.ListenAddr = "127.0.0.1:0"
	cfg.Verifier.Groth16.KeyDir = keyDir

	app, err := NewApp(t.Context(), cfg, zerolog.New(io.Discard))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.shutdown()) })
	return app, prover
}

func serve(t *testing.T, app *App, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set(middleware.HeaderCaller, alice)
	rec := httptest.NewRecorder()
	app.apiServer.Handler().ServeHTTP(rec, req)
	return rec
}

func TestAppEndToEnd(t *testing.T) {
	app, prover := newTestApp(t)

	rec := serve(t, app, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, app, http.MethodGet, "/ready", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"verifier":"groth16"`)

	deadline := time.Now().Add(time.Hour).Unix()
	rec = serve(t, app, http.MethodPost, "/v1/jobs", map[string]any{"id": "99", "deadline": deadline})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	payload, err := prover.Prove(big.NewInt(99))
	require.NoError(t, err)
	calldata, err := payload.EncodeCalldata()
	require.NoError(t, err)

	rec = serve(t, app, http.MethodPost, "/v1/results", map[string]any{"calldata": hexutil.Encode(calldata)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(t, app, http.MethodGet, "/v1/jobs/99/answer", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"answer":"IS_TRUE"`)

	rec = serve(t, app, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.EqualValues(t, 1, stats["jobs_completed"])
	require.EqualValues(t, 0, stats["jobs_in_progress"])
	require.EqualValues(t, 2, stats["last_event_seq"])

	rec = serve(t, app, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "oracle_service_operations_total"))
	require.True(t, strings.Contains(rec.Body.String(), "oracle_http_requests_total"))
}

func TestAppMissingVerifyingKey(t *testing.T) {
	cfg := config.Default()
	cfg.Verifier.Groth16.KeyDir = t.TempDir()

	_, err := NewApp(t.Context(), cfg, zerolog.New(io.Discard))
	require.Error(t, err)
	require.Contains(t, err.Error(), "verifying key")
}

func TestAppRequestWithoutCaller(t *testing.T) {
	app, _ := newTestApp(t)

	body := fmt.Sprintf(`{"id":"7","deadline":%d}`, time.Now().Add(time.Hour).Unix())
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(body))
	rec := httptest.NewRecorder()
	app.apiServer.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
