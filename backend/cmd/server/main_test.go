package main

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"social-connections/backend/internal/connections"
	"social-connections/backend/internal/forwarder"
	"social-connections/backend/internal/graph"
	"social-connections/backend/internal/relay"
)

const (
	forwarderHex = "0x00000000000000000000000000000000000000f0"
	bobHex       = "0x00000000000000000000000000000000000000b0"
	carolHex     = "0x00000000000000000000000000000000000000c0"
)

var trusted = common.HexToAddress(forwarderHex)

type testServer struct {
	router *gin.Engine
	store  *graph.Store
}

func setupServer(t *testing.T) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := graph.NewStore(graph.NewMemoryLedger(), 10)
	contract := connections.NewContract(forwarder.NewResolver(trusted), store, nil, 0)
	fwd := relay.NewForwarder(trusted, contract, store)
	return testServer{router: newRouter(zap.NewNop(), contract, fwd), store: store}
}

// signer is a test account that signs its own calls
type signer struct {
	key   *ecdsa.PrivateKey
	addr  common.Address
	nonce uint64
}

func newSigner(t *testing.T) *signer {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &signer{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

// body builds a signed follow endpoint body for method and targets
func (s *signer) body(t *testing.T, kind relay.Kind, method string, targets ...string) gin.H {
	t.Helper()
	var args []interface{}
	addrs := make([]common.Address, 0, len(targets))
	for _, raw := range targets {
		addrs = append(addrs, common.HexToAddress(raw))
	}
	if method != connections.MethodUnfollowAll {
		args = append(args, addrs)
	}
	data, err := connections.ParsedABI.Pack(method, args...)
	require.NoError(t, err)

	req := relay.ForwardRequest{From: s.addr, Nonce: s.nonce, Data: data}
	require.NoError(t, req.Sign(s.key, trusted, kind))
	s.nonce++

	return gin.H{
		"from":      s.addr.Hex(),
		"targets":   targets,
		"nonce":     req.Nonce,
		"signature": hexutil.Encode(req.Signature),
	}
}

func doJSON(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func decodeUser(t *testing.T, w *httptest.ResponseRecorder) graph.User {
	t.Helper()
	var user graph.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &user))
	return user
}

func TestHealthEndpoint(t *testing.T) {
	srv := setupServer(t)

	w := doJSON(srv.router, "GET", "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var response map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &response)
	assert.Equal(t, "ok", response["status"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestFollowAndGetUser(t *testing.T) {
	srv := setupServer(t)
	alice := newSigner(t)

	w := doJSON(srv.router, "POST", "/api/follow", alice.body(t, relay.KindDirect, connections.MethodFollow, bobHex, carolHex))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(srv.router, "GET", "/api/users/"+alice.addr.Hex(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	user := decodeUser(t, w)
	assert.Equal(t, []common.Address{common.HexToAddress(bobHex), common.HexToAddress(carolHex)}, user.Following)

	w = doJSON(srv.router, "POST", "/api/unfollow", alice.body(t, relay.KindDirect, connections.MethodUnfollow, bobHex))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(srv.router, "GET", "/api/users/"+bobHex, nil)
	assert.Empty(t, decodeUser(t, w).Followers)

	w = doJSON(srv.router, "POST", "/api/unfollow-all", alice.body(t, relay.KindDirect, connections.MethodUnfollowAll))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(srv.router, "GET", "/api/users/"+alice.addr.Hex(), nil)
	assert.Empty(t, decodeUser(t, w).Following)
}

func TestErrorStatuses(t *testing.T) {
	srv := setupServer(t)
	alice := newSigner(t)

	w := doJSON(srv.router, "POST", "/api/follow", alice.body(t, relay.KindDirect, connections.MethodFollow, bobHex))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	tests := []struct {
		name   string
		path   string
		body   func() gin.H
		status int
	}{
		{name: "self follow", path: "/api/follow", status: http.StatusBadRequest,
			body: func() gin.H { return alice.body(t, relay.KindDirect, connections.MethodFollow, alice.addr.Hex()) }},
		{name: "already following", path: "/api/follow", status: http.StatusConflict,
			body: func() gin.H { return alice.body(t, relay.KindDirect, connections.MethodFollow, bobHex) }},
		{name: "not following", path: "/api/unfollow", status: http.StatusConflict,
			body: func() gin.H { return alice.body(t, relay.KindDirect, connections.MethodUnfollow, carolHex) }},
		{name: "bad address", path: "/api/follow", status: http.StatusBadRequest,
			body: func() gin.H { return gin.H{"from": "alice", "targets": []string{}} }},
		{name: "missing from", path: "/api/follow", status: http.StatusBadRequest,
			body: func() gin.H { return gin.H{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// rejected calls do not consume the nonce
			alice.nonce = srv.store.Nonce(alice.addr)
			w := doJSON(srv.router, "POST", tt.path, tt.body())
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestUnsignedCallsRejected(t *testing.T) {
	srv := setupServer(t)
	victim := common.HexToAddress(carolHex)

	data, err := connections.ParsedABI.Pack(connections.MethodFollow, []common.Address{common.HexToAddress(bobHex)})
	require.NoError(t, err)

	tests := []struct {
		name string
		path string
		body gin.H
	}{
		{name: "follow as victim", path: "/api/follow",
			body: gin.H{"from": carolHex, "targets": []string{bobHex}}},
		{name: "unfollow-all as victim", path: "/api/unfollow-all",
			body: gin.H{"from": carolHex}},
		{name: "raw call claiming the forwarder", path: "/api/call",
			body: gin.H{"from": forwarderHex, "data": hexutil.Encode(forwarder.AppendSender(data, victim))}},
		{name: "raw call as victim", path: "/api/call",
			body: gin.H{"from": carolHex, "data": hexutil.Encode(data)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(srv.router, "POST", tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

			var response map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			assert.Equal(t, "metatx", response["type"])
		})
	}

	assert.Empty(t, srv.store.GetUser(victim).Following)
}

func TestSignatureFromAnotherKeyRejected(t *testing.T) {
	srv := setupServer(t)
	mallory := newSigner(t)
	victim := newSigner(t)

	body := mallory.body(t, relay.KindDirect, connections.MethodFollow, bobHex)
	body["from"] = victim.addr.Hex()

	w := doJSON(srv.router, "POST", "/api/follow", body)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, srv.store.GetUser(victim.addr).Following)
}

func TestBatchTooLarge(t *testing.T) {
	srv := setupServer(t)
	alice := newSigner(t)

	targets := make([]string, 11)
	for i := range targets {
		targets[i] = common.BytesToAddress([]byte{0x10, byte(i)}).Hex()
	}

	w := doJSON(srv.router, "POST", "/api/follow", alice.body(t, relay.KindDirect, connections.MethodFollow, targets...))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var response map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &response)
	assert.Equal(t, "resource", response["type"])
}

func TestCallEndpoint_Signed(t *testing.T) {
	srv := setupServer(t)
	alice := newSigner(t)

	data, err := connections.ParsedABI.Pack(connections.MethodFollow, []common.Address{common.HexToAddress(bobHex)})
	require.NoError(t, err)
	req := relay.ForwardRequest{From: alice.addr, Data: data}
	require.NoError(t, req.Sign(alice.key, trusted, relay.KindDirect))

	w := doJSON(srv.router, "POST", "/api/call", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var receipt connections.Receipt
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &receipt))
	assert.False(t, receipt.Forwarded)
	assert.Equal(t, alice.addr, receipt.Acting)
	assert.True(t, srv.store.IsFollowing(alice.addr, common.HexToAddress(bobHex)))

	w = doJSON(srv.router, "POST", "/api/call", req)
	assert.Equal(t, http.StatusBadRequest, w.Code, "replayed call")
}

func TestRelayEndpoint(t *testing.T) {
	srv := setupServer(t)
	alice := newSigner(t)

	data, err := connections.ParsedABI.Pack(connections.MethodFollow, []common.Address{common.HexToAddress(bobHex)})
	require.NoError(t, err)
	req := relay.ForwardRequest{From: alice.addr, Nonce: 0, Data: data}
	require.NoError(t, req.Sign(alice.key, trusted, relay.KindForwarded))

	w := doJSON(srv.router, "POST", "/api/relay", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var receipt connections.Receipt
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &receipt))
	assert.True(t, receipt.Forwarded)
	assert.Equal(t, alice.addr, receipt.Acting)

	w = doJSON(srv.router, "GET", "/api/relay/nonce/"+alice.addr.Hex(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var nonce struct {
		Nonce uint64 `json:"nonce"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &nonce))
	assert.Equal(t, uint64(1), nonce.Nonce)

	w = doJSON(srv.router, "POST", "/api/relay", req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
