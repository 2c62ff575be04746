package relay

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agora-run/agora/internal/signer"
	"github.com/agora-run/agora/internal/telemetry"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s, err := NewServer(telemetry.NewStderrLogger(telemetry.LevelError), Config{
		JWTSecret:        "test-secret",
		JWTExpiry:        time.Hour,
		BufferCapacity:   3,
		OriginAllowlist:  []string{"127.0.0.1"},
		PollDefaultLimit: 50,
		PollMaxLimit:     100,
		MaxWSConnections: 10,
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	mux := http.NewServeMux()
	s.RegisterHandlers(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return s, ts
}

func registerAgent(t *testing.T, ts *httptest.Server) (publicKey string, token string) {
	t.Helper()
	priv, err := signer.GeneratePrivateKeyHex()
	if err != nil {
		t.Fatalf("GeneratePrivateKeyHex: %v", err)
	}
	ls, err := signer.NewLocalSigner(priv)
	if err != nil {
		t.Fatalf("NewLocalSigner: %v", err)
	}

	body, _ := json.Marshal(registerRequest{PublicKey: ls.PublicKey(), PrivateKey: priv, Name: "agent"})
	resp, err := http.Post(ts.URL+"/v1/register", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("register request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out registerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding register response: %v", err)
	}
	return ls.PublicKey(), out.Token
}

func TestRegisterRejectsMismatchedKeyPair(t *testing.T) {
	_, ts := newTestServer(t)
	priv, _ := signer.GeneratePrivateKeyHex()

	body, _ := json.Marshal(registerRequest{PublicKey: "not-the-real-pubkey", PrivateKey: priv})
	resp, err := http.Post(ts.URL+"/v1/register", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("register request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for a key pair that doesn't verify, got %d", resp.StatusCode)
	}
}

func TestRegisterThenSendThenPollRoundTrips(t *testing.T) {
	_, ts := newTestServer(t)
	pkA, tokenA := registerAgent(t, ts)
	pkB, tokenB := registerAgent(t, ts)

	sendBody, _ := json.Marshal(sendRequest{To: pkB, Type: "ping", Payload: map[string]any{"x": 1}})
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/send", bytes.NewReader(sendBody))
	req.Header.Set("Authorization", "Bearer "+tokenA)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("send request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from send, got %d", resp.StatusCode)
	}
	var sendOut sendResponse
	_ = json.NewDecoder(resp.Body).Decode(&sendOut)

	pollReq, _ := http.NewRequest(http.MethodGet, ts.URL+"/v1/messages", nil)
	pollReq.Header.Set("Authorization", "Bearer "+tokenB)
	pollResp, err := http.DefaultClient.Do(pollReq)
	if err != nil {
		t.Fatalf("poll request: %v", err)
	}
	defer pollResp.Body.Close()

	var pollOut struct {
		Messages []BufferedMessage `json:"messages"`
		HasMore  bool              `json:"hasMore"`
	}
	_ = json.NewDecoder(pollResp.Body).Decode(&pollOut)
	if len(pollOut.Messages) != 1 {
		t.Fatalf("expected 1 buffered message, got %d", len(pollOut.Messages))
	}
	if pollOut.Messages[0].ID != sendOut.EnvelopeID {
		t.Fatalf("expected same envelope id, got %s vs %s", pollOut.Messages[0].ID, sendOut.EnvelopeID)
	}
	if pollOut.Messages[0].From != pkA {
		t.Fatalf("expected sender %s, got %s", pkA, pollOut.Messages[0].From)
	}

	// Second poll without since must be empty: poll without since clears.
	pollResp2, _ := http.DefaultClient.Do(pollReq)
	defer pollResp2.Body.Close()
	var pollOut2 struct {
		Messages []BufferedMessage `json:"messages"`
	}
	_ = json.NewDecoder(pollResp2.Body).Decode(&pollOut2)
	if len(pollOut2.Messages) != 0 {
		t.Fatalf("expected second poll to be empty, got %d", len(pollOut2.Messages))
	}
}

func TestSendToUnknownRecipientReturns404(t *testing.T) {
	_, ts := newTestServer(t)
	_, token := registerAgent(t, ts)

	body, _ := json.Marshal(sendRequest{To: "ghost", Type: "ping"})
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/send", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("send request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown recipient, got %d", resp.StatusCode)
	}
}

func TestAuthMissingMalformedRevoked(t *testing.T) {
	_, ts := newTestServer(t)
	_, token := registerAgent(t, ts)

	// Missing.
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/v1/peers", nil)
	resp, _ := http.DefaultClient.Do(req)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing auth header, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Malformed.
	req2, _ := http.NewRequest(http.MethodGet, ts.URL+"/v1/peers", nil)
	req2.Header.Set("Authorization", "NotBearer abc")
	resp2, _ := http.DefaultClient.Do(req2)
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for malformed auth header, got %d", resp2.StatusCode)
	}
	resp2.Body.Close()

	// Revoked: disconnect then reuse token.
	discReq, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/disconnect", nil)
	discReq.Header.Set("Authorization", "Bearer "+token)
	discResp, err := http.DefaultClient.Do(discReq)
	if err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	discResp.Body.Close()

	req3, _ := http.NewRequest(http.MethodGet, ts.URL+"/v1/peers", nil)
	req3.Header.Set("Authorization", "Bearer "+token)
	resp3, err := http.DefaultClient.Do(req3)
	if err != nil {
		t.Fatalf("peers after disconnect: %v", err)
	}
	defer resp3.Body.Close()
	if resp3.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for revoked token, got %d", resp3.StatusCode)
	}
}

func TestBufferEvictionThroughSendEndpoint(t *testing.T) {
	_, ts := newTestServer(t) // buffer capacity is 3
	_, tokenA := registerAgent(t, ts)
	pkB, tokenB := registerAgent(t, ts)
	_ = tokenB

	for i := 0; i < 4; i++ {
		body, _ := json.Marshal(sendRequest{To: pkB, Type: "note", Payload: map[string]any{"n": i}})
		req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/send", bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+tokenA)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		resp.Body.Close()
		time.Sleep(time.Millisecond) // distinct timestamps
	}

	pollReq, _ := http.NewRequest(http.MethodGet, ts.URL+"/v1/messages", nil)
	pollReq.Header.Set("Authorization", "Bearer "+tokenB)
	resp, err := http.DefaultClient.Do(pollReq)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	defer resp.Body.Close()

	var out struct {
		Messages []BufferedMessage `json:"messages"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if len(out.Messages) != 3 {
		t.Fatalf("expected capacity-bounded 3 messages, got %d", len(out.Messages))
	}
}
