package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ticketsale/core"
	"ticketsale/core/genesis"
	"ticketsale/crypto"
	"ticketsale/indexer"
	"ticketsale/storage"
)

const testSecret = "rpc-test-secret"

var testAuth = AuthConfig{HMACSecret: testSecret, Issuer: "ticketsale", Audience: "ticketsale-rpc"}

type testEnv struct {
	server *httptest.Server
	node   *core.Node
}

func testAddr(fill byte) [20]byte {
	var out [20]byte
	for i := range out {
		out[i] = fill
	}
	return out
}

func newTestEnv(t *testing.T, cfg Config, history bool) *testEnv {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)

	spec := &genesis.Spec{
		TicketPrice: "15",
		TicketCount: 3,
		Alloc: map[string]string{
			crypto.FromRaw(testAddr(0x01)).String(): "100",
			crypto.FromRaw(testAddr(0x02)).String(): "100",
		},
	}
	var opts []core.Option
	var source HistorySource
	if history {
		store, err := indexer.Open("file:"+t.Name()+"?mode=memory&cache=shared", nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		opts = append(opts, core.WithEmitter(store))
		source = store
	}
	node, err := core.NewNode(db, spec, opts...)
	require.NoError(t, err)

	if cfg.Auth.HMACSecret == "" {
		cfg.Auth = testAuth
	}
	srv := NewServer(node, source, cfg, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testEnv{server: ts, node: node}
}

func tokenFor(t *testing.T, addr [20]byte) string {
	t.Helper()
	token, err := IssueToken(testAuth, addr, time.Hour, time.Now())
	require.NoError(t, err)
	return token
}

func (e *testEnv) call(t *testing.T, token, method string, params interface{}) (int, RPCResponse) {
	t.Helper()
	req := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		req["params"] = []interface{}{params}
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)
	return e.post(t, token, body)
}

func (e *testEnv) post(t *testing.T, token string, body []byte) (int, RPCResponse) {
	t.Helper()
	httpReq, err := http.NewRequest(http.MethodPost, e.server.URL+"/", bytes.NewReader(body))
	require.NoError(t, err)
	httpReq.Header.Set("Content-Type", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(httpReq)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out RPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

// decodeResult re-encodes the generic result into dst.
func decodeResult(t *testing.T, resp RPCResponse, dst interface{}) {
	t.Helper()
	require.Nil(t, resp.Error)
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, dst))
}
