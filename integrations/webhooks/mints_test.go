package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"magink/core"
	"magink/core/types"
	"magink/crypto"
	"magink/native/magink"
	"magink/storage"
)

func TestDispatcherSignsPayload(t *testing.T) {
	var mu sync.Mutex
	var receivedSignature, receivedEvent string
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		mu.Lock()
		body = data
		receivedSignature = r.Header.Get("X-Magink-Signature")
		receivedEvent = r.Header.Get("X-Magink-Event")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()
	if err := dispatcher.EnqueueMint(MintPayload{Account: "mgk1abc", TokenID: "3", Mode: "local"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	delivered := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return receivedSignature != ""
	}
	waitFor(delivered, time.Second)
	if !delivered() {
		t.Fatalf("expected signature header")
	}
	mu.Lock()
	defer mu.Unlock()
	if receivedEvent != string(EventWizardMinted) {
		t.Fatalf("unexpected event header %q", receivedEvent)
	}
	if !VerifySignature([]byte("secret"), body, receivedSignature) {
		t.Fatalf("signature %s does not verify", receivedSignature)
	}
	var payload MintPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.TokenID != "3" || payload.DeliveryID != "mint-mgk1abc-3" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestDispatcherRetries(t *testing.T) {
	attempts := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"),
		WithRetryPolicy(5, time.Millisecond*10, time.Millisecond*20),
		WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()
	if err := dispatcher.EnqueueEra(EraPayload{Account: "mgk1abc", ClaimEra: 2, StartBlock: 10}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(func() bool { return atomic.LoadInt32(&attempts) >= 3 }, time.Second)
	if atomic.LoadInt32(&attempts) < 3 {
		t.Fatalf("expected retries, got %d", attempts)
	}
}

func TestForwardDeliversCommittedMint(t *testing.T) {
	events := make(chan string, 16)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		events <- r.Header.Get("X-Magink-Event")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	node, err := core.NewNode(storage.NewMemDB(), core.Options{})
	if err != nil {
		t.Fatalf("node: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	deployer, _ := crypto.GeneratePrivateKey()
	if err := node.Bootstrap(ctx, deployer.PubKey().Address(), "ipfs://wizard"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	dispatcher, err := NewDispatcher(server.URL, []byte("secret"))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()
	go func() { _ = dispatcher.Forward(ctx, node) }()

	user, _ := crypto.GeneratePrivateKey()
	caller := user.PubKey().Address()
	if _, err := node.Start(ctx, caller, 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 9; i++ {
		if _, err := node.Claim(ctx, caller); err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
	}
	if _, err := node.MintWizard(ctx, caller, false); err != nil {
		t.Fatalf("mint: %v", err)
	}

	seen := map[string]bool{}
	deadline := time.After(5 * time.Second)
	for !seen[string(EventWizardMinted)] || !seen[string(EventEraStarted)] {
		select {
		case evt := <-events:
			seen[evt] = true
		case <-deadline:
			t.Fatalf("expected era and mint deliveries, got %v", seen)
		}
	}
}

func TestMalformedEraAttributesAreNotDelivered(t *testing.T) {
	attempts := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	_, err := eraPayload(map[string]string{"account": "mgk1abc", "claimEra": "300", "startBlock": "4"})
	require.Error(t, err)
	_, err = eraPayload(map[string]string{"account": "mgk1abc", "claimEra": "1", "startBlock": "soon"})
	require.Error(t, err)
	payload, err := eraPayload(map[string]string{"account": "mgk1abc", "claimEra": "2", "startBlock": "9"})
	require.NoError(t, err)
	require.Equal(t, EraPayload{Account: "mgk1abc", ClaimEra: 2, StartBlock: 9}, payload)

	dispatcher, err := NewDispatcher(server.URL, []byte("secret"))
	require.NoError(t, err)
	dispatcher.forwardOne(core.EventUpdate{
		Sequence: 1,
		Cursor:   "1",
		Event: types.Event{
			Type:       magink.EventTypeEraStarted,
			Attributes: map[string]string{"account": "mgk1abc", "claimEra": "x", "startBlock": "4"},
		},
	})
	dispatcher.Close()
	require.Zero(t, atomic.LoadInt32(&attempts))
}

func waitFor(cond func() bool, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond * 10)
	}
}
