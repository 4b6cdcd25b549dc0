package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/voxline/voxline/internal/dialog"
	"github.com/voxline/voxline/internal/docstore"
	"github.com/voxline/voxline/internal/order"
	"github.com/voxline/voxline/internal/session"
	"github.com/voxline/voxline/pkg/provider/llm"
	llmmock "github.com/voxline/voxline/pkg/provider/llm/mock"
	"github.com/coder/websocket"

	"github.com/voxline/voxline/pkg/provider/stt/deepgram"
	sttmock "github.com/voxline/voxline/pkg/provider/stt/mock"
	ttsmock "github.com/voxline/voxline/pkg/provider/tts/mock"
)

// testServer bundles a Server with the mocks behind it.
type testServer struct {
	srv   *Server
	llm   *llmmock.Provider
	tts   *ttsmock.Provider
	store *docstore.MemoryStore
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()

	llmProv := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "Hello, how can I help?"},
	}
	orch, err := dialog.New(llmProv, session.NewStore())
	if err != nil {
		t.Fatal(err)
	}

	store := docstore.NewMemoryStore()
	extractor, err := order.New(store, "orders")
	if err != nil {
		t.Fatal(err)
	}

	ttsProv := &ttsmock.Provider{Audio: []byte("mp3-reply")}
	srv, err := New(orch, ttsProv, extractor, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return &testServer{srv: srv, llm: llmProv, tts: ttsProv, store: store}
}

func postCall(t *testing.T, h http.Handler, scenarioName string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest("POST", "/api/call/"+scenarioName, bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func supplierBody() map[string]any {
	return map[string]any{
		"input":     "",
		"sessionId": "call-1",
		"isStart":   true,
		"scenarioParams": map[string]any{
			"companyName": "Acme Retail",
			"products":    []string{"M6 bolts", "wing nuts"},
		},
	}
}

func TestHandleCall_Success(t *testing.T) {
	ts := newTestServer(t)
	h := ts.srv.Routes()

	rec := postCall(t, h, "supplier", supplierBody())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "audio/mpeg" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-cache" {
		t.Errorf("Cache-Control = %q", got)
	}
	if rec.Body.String() != "mp3-reply" {
		t.Errorf("body = %q", rec.Body.String())
	}

	// isStart substitutes the sentinel for the input.
	calls := ts.llm.Calls()
	if len(calls) != 1 {
		t.Fatalf("want one completion, got %d", len(calls))
	}
	msgs := calls[0].Req.Messages
	if msgs[len(msgs)-1].Content != "Call connected..." {
		t.Errorf("want start sentinel as input, got %q", msgs[len(msgs)-1].Content)
	}

	// Supplier replies use the outbound voice.
	synth := ts.tts.Calls()
	if len(synth) != 1 || synth[0].Voice != "en-US-AvaMultilingualNeural" {
		t.Errorf("unexpected synthesis calls %+v", synth)
	}
}

func TestHandleCall_BadRequests(t *testing.T) {
	ts := newTestServer(t)
	h := ts.srv.Routes()

	cases := map[string]struct {
		scenarioName string
		body         map[string]any
	}{
		"unknown scenario": {"paging", supplierBody()},
		"missing session": {"supplier", map[string]any{
			"input": "hi", "scenarioParams": map[string]any{"companyName": "A", "products": []string{"x"}},
		}},
		"empty input without isStart": {"supplier", map[string]any{
			"sessionId": "s", "scenarioParams": map[string]any{"companyName": "A", "products": []string{"x"}},
		}},
		"missing scenario param": {"supplier", map[string]any{
			"input": "hi", "sessionId": "s",
			"scenarioParams": map[string]any{"companyName": "A"},
		}},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := postCall(t, h, tc.scenarioName, tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
			}
			var resp errorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode envelope: %v", err)
			}
			if resp.Success {
				t.Error("envelope must report success=false")
			}
			if resp.Error == "" {
				t.Error("envelope must carry an error message")
			}
		})
	}
}

func TestHandleCall_CompletionFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.llm.CompleteResponse = nil
	ts.llm.CompleteErr = errors.New("upstream down")
	h := ts.srv.Routes()

	rec := postCall(t, h, "supplier", supplierBody())
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(resp.Detail, "completion failed") {
		t.Errorf("detail = %q", resp.Detail)
	}
}

func customerServiceBody() map[string]any {
	return map[string]any{
		"input":     "Yes, place the order please.",
		"sessionId": "call-cs",
		"scenarioParams": map[string]any{
			"companyName":          "Acme Retail",
			"customerServiceHours": "9-5 weekdays",
			"products":             []string{"Widget Pro"},
		},
	}
}

const orderReply = `Your order is confirmed!
[ORDER]
PRODUCT::Widget Pro
QUANTITY::2
ADDRESS::12 High St, Leeds
PAYMENT::card
[/ORDER]`

func TestHandleCall_OrderExtraction(t *testing.T) {
	ts := newTestServer(t)
	ts.llm.CompleteResponse = &llm.CompletionResponse{Content: orderReply}
	h := ts.srv.Routes()

	rec := postCall(t, h, "customer-service", customerServiceBody())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	docs := ts.store.InCollection("orders")
	if len(docs) != 1 {
		t.Fatalf("want one persisted order, got %d", len(docs))
	}
	rec2, ok := docs[0].Doc.(*order.Record)
	if !ok {
		t.Fatalf("unexpected doc type %T", docs[0].Doc)
	}
	if rec2.ProductName != "Widget Pro" || rec2.Quantity != 2 {
		t.Errorf("record = %+v", rec2)
	}

	// The synthesized text must be the acknowledgement, not the markup.
	synth := ts.tts.Calls()
	if len(synth) != 1 {
		t.Fatalf("want one synthesis, got %d", len(synth))
	}
	if strings.Contains(synth[0].Text, "[ORDER]") {
		t.Errorf("markup leaked into speech: %q", synth[0].Text)
	}
	if !strings.Contains(synth[0].Text, "2 Widget Pro") {
		t.Errorf("acknowledgement must name quantity and product: %q", synth[0].Text)
	}
	if synth[0].Voice != "en-US-CoraMultilingualNeural" {
		t.Errorf("customer service must use the Cora voice, got %q", synth[0].Voice)
	}
}

func TestHandleCall_OrderPersistenceFailureStillSpeaks(t *testing.T) {
	ts := newTestServer(t)
	ts.llm.CompleteResponse = &llm.CompletionResponse{Content: orderReply}
	ts.store.AppendErr = errors.New("connection refused")
	h := ts.srv.Routes()

	rec := postCall(t, h, "customer-service", customerServiceBody())
	if rec.Code != http.StatusOK {
		t.Fatalf("persistence failure must not fail the call: status = %d", rec.Code)
	}
	// The block stays in the spoken reply when nothing was persisted.
	synth := ts.tts.Calls()
	if len(synth) != 1 || !strings.Contains(synth[0].Text, "[ORDER]") {
		t.Errorf("unpersisted order must keep the block, got %+v", synth)
	}
}

func TestHandleCall_InvalidOrderBlockStillSpeaks(t *testing.T) {
	ts := newTestServer(t)
	ts.llm.CompleteResponse = &llm.CompletionResponse{
		Content: "Done! [ORDER]PRODUCT::X/QUANTITY::-3/ADDRESS::A/PAYMENT::card[/ORDER]",
	}
	h := ts.srv.Routes()

	rec := postCall(t, h, "customer-service", customerServiceBody())
	if rec.Code != http.StatusOK {
		t.Fatalf("invalid block must not fail the call: status = %d", rec.Code)
	}
	if len(ts.store.All()) != 0 {
		t.Error("invalid block must not be persisted")
	}
}

func TestHandleCall_SynthesisFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.tts.SynthesizeErr = errors.New("azure 401")
	h := ts.srv.Routes()

	rec := postCall(t, h, "supplier", supplierBody())
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}

// fakeMinter is a test double for the KeyMinter interface.
type fakeMinter struct {
	key *deepgram.TemporaryKey
	err error

	gotProject string
	gotTTL     time.Duration
}

func (f *fakeMinter) CreateTemporaryKey(_ context.Context, projectID, _ string, ttl time.Duration) (*deepgram.TemporaryKey, error) {
	f.gotProject = projectID
	f.gotTTL = ttl
	if f.err != nil {
		return nil, f.err
	}
	return f.key, nil
}

func TestHandleToken(t *testing.T) {
	expires := time.Now().Add(6 * time.Minute).UTC().Truncate(time.Second)
	minter := &fakeMinter{key: &deepgram.TemporaryKey{ID: "k1", Key: "dg-temp", ExpiresAt: expires}}

	ts := newTestServer(t, WithKeyMinter(minter, "proj-123", 6*time.Minute))
	h := ts.srv.Routes()

	req := httptest.NewRequest("POST", "/api/token", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp tokenResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Key != "dg-temp" {
		t.Errorf("key = %q", resp.Key)
	}
	if minter.gotProject != "proj-123" || minter.gotTTL != 6*time.Minute {
		t.Errorf("minter called with project=%q ttl=%s", minter.gotProject, minter.gotTTL)
	}
}

func TestHandleToken_NotConfigured(t *testing.T) {
	ts := newTestServer(t)
	h := ts.srv.Routes()

	req := httptest.NewRequest("POST", "/api/token", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHandleStream_NotConfigured(t *testing.T) {
	ts := newTestServer(t)
	h := ts.srv.Routes()

	req := httptest.NewRequest("GET", "/api/stream/supplier?sessionId=s", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHandleStream_DisconnectClosesSession(t *testing.T) {
	sess := sttmock.NewSession()
	ts := newTestServer(t, WithSTT(&sttmock.Provider{Session: sess}))

	httpSrv := httptest.NewServer(ts.srv.Routes())
	defer httpSrv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/api/stream/supplier?sessionId=s-1"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil {
		t.Fatalf("close: %v", err)
	}

	// The handler must tear down promptly: the STT session is closed on
	// exit, which also ends the transcript forwarder.
	deadline := time.Now().Add(3 * time.Second)
	for sess.IsConnected() {
		if time.Now().After(deadline) {
			t.Fatal("stream handler did not close the stt session after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestFlattenParams(t *testing.T) {
	got := flattenParams(map[string]any{
		"companyName": "Acme",
		"products":    []any{"a", "b"},
		"retries":     float64(2),
	})
	if got["companyName"] != "Acme" {
		t.Errorf("companyName = %q", got["companyName"])
	}
	if got["products"] != "- a\n- b" {
		t.Errorf("products = %q", got["products"])
	}
	if got["retries"] != "2" {
		t.Errorf("retries = %q", got["retries"])
	}
}
