package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"magink/core"
	"magink/crypto"
	"magink/native/magink"
	"magink/rpc/middleware"
	"magink/storage"
)

const (
	testJWTSecret = "rpc-test-secret"
	testImage     = "https://bafkreihgob3knpzzmhiw66grmkuq3qa2ukvdseksbaxkxuiehwkhuniyfy.ipfs.nftstorage.link"
)

type testEnv struct {
	node   *core.Node
	server *httptest.Server
	caller crypto.Address
	token  string
}

func newTestEnv(t *testing.T, cfg ServerConfig) *testEnv {
	t.Helper()
	node, err := core.NewNode(storage.NewMemDB(), core.Options{})
	require.NoError(t, err)
	deployer, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	require.NoError(t, node.Bootstrap(context.Background(), deployer.PubKey().Address(), testImage))

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = testJWTSecret
	}
	srv := NewServer(node, nil, cfg)
	httpServer := httptest.NewServer(srv.Router())
	t.Cleanup(httpServer.Close)

	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	caller := key.PubKey().Address()
	token, err := middleware.SignToken(cfg.JWTSecret, cfg.JWTIssuer, caller, time.Hour)
	require.NoError(t, err)
	return &testEnv{node: node, server: httpServer, caller: caller, token: token}
}

func (e *testEnv) call(t *testing.T, token, method string, params ...interface{}) (int, RPCResponse) {
	t.Helper()
	rawParams := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		encoded, err := json.Marshal(p)
		require.NoError(t, err)
		rawParams = append(rawParams, encoded)
	}
	body, err := json.Marshal(RPCRequest{JSONRPC: jsonRPCVersion, Method: method, Params: rawParams, ID: 1})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, e.server.URL+"/", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var decoded RPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

func TestMaginkFlowOverRPC(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})

	_, resp := env.call(t, env.token, "magink_claim")
	require.NotNil(t, resp.Error)
	require.Equal(t, codeDomainError, resp.Error.Code)
	require.Equal(t, "UserNotFound", resp.Error.Data)

	_, resp = env.call(t, env.token, "magink_start", map[string]interface{}{"era": 0})
	require.Nil(t, resp.Error)

	for i := 0; i < 9; i++ {
		_, resp = env.call(t, env.token, "magink_claim")
		require.Nil(t, resp.Error, "claim %d", i)
	}

	_, resp = env.call(t, "", "magink_getBadgesFor", env.caller.String())
	require.Nil(t, resp.Error)
	require.EqualValues(t, 9, resp.Result)

	_, resp = env.call(t, env.token, "magink_mintWizard", map[string]interface{}{"dryRun": true})
	require.Nil(t, resp.Error)
	_, resp = env.call(t, "", "magink_getIsAlreadyMinted", env.caller.String())
	require.Equal(t, false, resp.Result)

	_, resp = env.call(t, env.token, "magink_mintWizard")
	require.Nil(t, resp.Error)
	result := resp.Result.(map[string]interface{})
	require.Equal(t, "0", result["tokenId"])

	_, resp = env.call(t, "", "magink_getNextId")
	require.Equal(t, "1", resp.Result)

	_, resp = env.call(t, "", "wizard_ownerOf", "0")
	require.Equal(t, env.caller.String(), resp.Result)

	_, resp = env.call(t, env.token, "magink_mintWizard")
	require.NotNil(t, resp.Error)
	require.Equal(t, "NftAlreadyClaimed", resp.Error.Data)

	_, resp = env.call(t, env.token, "magink_getProfile")
	profile := resp.Result.(map[string]interface{})
	require.Equal(t, true, profile["nftClaimed"])
	require.EqualValues(t, 9, profile["badgesClaimed"])

	_, resp = env.call(t, "", "magink_getTokenImage")
	require.Equal(t, testImage, resp.Result)
}

func TestCallerMethodsRequireToken(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})

	status, resp := env.call(t, "", "magink_claim")
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	forged, err := middleware.SignToken("other-secret", "", env.caller, time.Hour)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/", strings.NewReader(`{"jsonrpc":"2.0","method":"magink_claim","id":1}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+forged)
	httpResp, err := env.server.Client().Do(req)
	require.NoError(t, err)
	httpResp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, httpResp.StatusCode)
}

func TestInvalidParamsAndUnknownMethods(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})

	_, resp := env.call(t, env.token, "magink_start", map[string]interface{}{"era": 256})
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	_, resp = env.call(t, env.token, "magink_start")
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	_, resp = env.call(t, "", "magink_getRemainingFor", "nope")
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	status, resp := env.call(t, "", "magink_transfer")
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)

	httpResp, err := env.server.Client().Post(env.server.URL+"/", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer httpResp.Body.Close()
	var decoded RPCResponse
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&decoded))
	require.Equal(t, codeParseError, decoded.Error.Code)
}

func TestRemainingAndBlockNumber(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})

	_, resp := env.call(t, env.token, "magink_start", map[string]interface{}{"era": 4})
	require.Nil(t, resp.Error)
	_, err := env.node.AdvanceBlocks(1)
	require.NoError(t, err)

	_, resp = env.call(t, env.token, "magink_getRemaining")
	require.EqualValues(t, 3, resp.Result)
	_, resp = env.call(t, "", "chain_blockNumber")
	require.EqualValues(t, 1, resp.Result)

	_, resp = env.call(t, env.token, "magink_claim")
	require.Equal(t, "TooEarlyToClaim", resp.Error.Data)
}

func TestRateLimitedRequests(t *testing.T) {
	env := newTestEnv(t, ServerConfig{RateLimit: middleware.RateLimit{RatePerSecond: 0.001, Burst: 2}})

	for i := 0; i < 2; i++ {
		status, _ := env.call(t, "", "chain_blockNumber")
		require.Equal(t, http.StatusOK, status)
	}
	resp, err := env.server.Client().Post(env.server.URL+"/", "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","method":"chain_blockNumber","id":1}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})

	resp, err := env.server.Client().Get(env.server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	env.call(t, "", "magink_getNextId")
	resp, err = env.server.Client().Get(env.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)
	require.Contains(t, body.String(), "magink_rpc_requests_total")
	require.Contains(t, body.String(), "magink_operations_total")
}

func TestEventStreamDeliversCommittedEvents(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	_, resp := env.call(t, env.token, "magink_start", map[string]interface{}{"era": 2})
	require.Nil(t, resp.Error)

	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var payload eventPayload
		require.NoError(t, json.Unmarshal(data, &payload))
		if payload.Type != magink.EventTypeEraStarted {
			continue
		}
		require.Equal(t, env.caller.String(), payload.Attributes["account"])
		require.Equal(t, "2", payload.Attributes["claimEra"])
		return
	}
}
