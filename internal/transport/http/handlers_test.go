package http

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/config"
	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/domain"
	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/gateway"
	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/graph"
	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/orchestrator"
	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/prompt"
	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/service"
	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/session"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	p := config.PipelineConfig{
		RetryAttempts:    2,
		RetryBackoffMS:   1,
		RestartPolicy:    config.RestartCancel,
		SubscriberBuffer: 64,
	}
	registry := session.NewRegistry(graph.Default(), p.SubscriberBuffer, time.Hour, time.Hour)
	t.Cleanup(registry.Close)

	orch := orchestrator.New(gateway.NewMock(), prompt.NewBuilder("persona"), nil, p)
	svc := service.New(registry, orch, nil)

	ts := httptest.NewServer(NewServer(svc).Echo())
	t.Cleanup(ts.Close)
	return ts
}

func createSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp, err := http.Post(ts.URL+"/v1/sessions", "application/json", nil)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var info domain.SessionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.SessionID == "" || info.Greeting == "" {
		t.Fatalf("incomplete session info: %+v", info)
	}
	return info.SessionID
}

func getStatus(t *testing.T, ts *httptest.Server, id string) domain.StatusSnapshot {
	t.Helper()
	resp, err := http.Get(ts.URL + "/v1/sessions/" + id + "/status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var snap domain.StatusSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return snap
}

func waitForStatus(t *testing.T, ts *httptest.Server, id string, want domain.SessionStatus) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if snap := getStatus(t, ts, id); snap.Status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session %s never reached %s (last: %s)", id, want, getStatus(t, ts, id).Status)
}

func TestCreateSessionAndStatus(t *testing.T) {
	ts := newTestServer(t)
	id := createSession(t, ts)

	snap := getStatus(t, ts, id)
	if snap.Status != domain.SessionStatusCreated {
		t.Fatalf("expected CREATED, got %s", snap.Status)
	}
	if len(snap.Stages) != 0 {
		t.Fatalf("fresh session must have no stage results, got %d", len(snap.Stages))
	}
}

func TestUploadImageRunsPipeline(t *testing.T) {
	ts := newTestServer(t)
	id := createSession(t, ts)

	resp, err := http.Post(ts.URL+"/v1/sessions/"+id+"/image", "image/png",
		bytes.NewReader([]byte("fake-png-bytes")))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	waitForStatus(t, ts, id, domain.SessionStatusAwaitingInput)

	snap := getStatus(t, ts, id)
	if r := snap.Stages[graph.StageExtractText]; r.State != domain.StageDone {
		t.Fatalf("extract_text not done: %+v", r)
	}
}

func TestUploadRejectsNonImage(t *testing.T) {
	ts := newTestServer(t)
	id := createSession(t, ts)

	resp, err := http.Post(ts.URL+"/v1/sessions/"+id+"/image", "text/plain",
		strings.NewReader("not an image"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestSendMessageAndHistory(t *testing.T) {
	ts := newTestServer(t)
	id := createSession(t, ts)

	body := `{"content":"为什么选B？"}`
	resp, err := http.Post(ts.URL+"/v1/sessions/"+id+"/message", "application/json",
		strings.NewReader(body))
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	waitForStatus(t, ts, id, domain.SessionStatusAwaitingInput)

	mresp, err := http.Get(ts.URL + "/v1/sessions/" + id + "/messages")
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	defer mresp.Body.Close()
	var out struct {
		Messages []domain.Turn `json:"messages"`
	}
	if err := json.NewDecoder(mresp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Messages) != 2 {
		t.Fatalf("expected user+assistant turns, got %d", len(out.Messages))
	}
	if out.Messages[1].Role != "assistant" {
		t.Fatalf("unexpected second turn: %+v", out.Messages[1])
	}
}

func TestCreateSessionWithModelOverrides(t *testing.T) {
	ts := newTestServer(t)

	body := `{"model_overrides":{"vision":{"model":"qwen-vl-plus","api_key":"sk-user"},"tts":{"model":"x"}}}`
	resp, err := http.Post(ts.URL+"/v1/sessions", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	bad, err := http.Post(ts.URL+"/v1/sessions", "application/json", strings.NewReader(`{not json`))
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", bad.StatusCode)
	}
}

func TestGuideEndpoint(t *testing.T) {
	ts := newTestServer(t)
	id := createSession(t, ts)

	// Before the analysis pipeline has run there is nothing to guide.
	early, err := http.Post(ts.URL+"/v1/sessions/"+id+"/guide", "application/json", nil)
	if err != nil {
		t.Fatalf("guide: %v", err)
	}
	early.Body.Close()
	if early.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 before analysis, got %d", early.StatusCode)
	}

	resp, err := http.Post(ts.URL+"/v1/sessions/"+id+"/image", "image/png",
		bytes.NewReader([]byte("fake-png-bytes")))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	resp.Body.Close()
	waitForStatus(t, ts, id, domain.SessionStatusAwaitingInput)

	direct, err := http.Post(ts.URL+"/v1/sessions/"+id+"/guide", "application/json",
		strings.NewReader(`{"choice":"直接解答"}`))
	if err != nil {
		t.Fatalf("guide: %v", err)
	}
	defer direct.Body.Close()
	if direct.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for direct mode, got %d", direct.StatusCode)
	}
	var directInfo domain.GuideInfo
	if err := json.NewDecoder(direct.Body).Decode(&directInfo); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if directInfo.Mode != "direct" || directInfo.Answer == "" {
		t.Fatalf("unexpected direct info: %+v", directInfo)
	}

	guided, err := http.Post(ts.URL+"/v1/sessions/"+id+"/guide", "application/json",
		strings.NewReader(`{"choice":"1"}`))
	if err != nil {
		t.Fatalf("guide: %v", err)
	}
	defer guided.Body.Close()
	if guided.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202 for guided mode, got %d", guided.StatusCode)
	}
	var guidedInfo domain.GuideInfo
	if err := json.NewDecoder(guided.Body).Decode(&guidedInfo); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if guidedInfo.Mode != "guided" || len(guidedInfo.Steps) == 0 {
		t.Fatalf("unexpected guided info: %+v", guidedInfo)
	}
	waitForStatus(t, ts, id, domain.SessionStatusAwaitingInput)
}

func TestSendMessageValidation(t *testing.T) {
	ts := newTestServer(t)
	id := createSession(t, ts)

	resp, err := http.Post(ts.URL+"/v1/sessions/"+id+"/message", "application/json",
		strings.NewReader(`{"content":"  "}`))
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestUnknownSessionReturns404(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/sessions/sess_missing/status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestDeleteSession(t *testing.T) {
	ts := newTestServer(t)
	id := createSession(t, ts)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/sessions/"+id, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	resp2, err := http.Get(ts.URL + "/v1/sessions/" + id + "/status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp2.StatusCode)
	}
}

func TestEventStreamStartsWithStatus(t *testing.T) {
	ts := newTestServer(t)
	id := createSession(t, ts)

	resp, err := http.Get(ts.URL + "/v1/sessions/" + id + "/events")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("unexpected content type %q", ct)
	}

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasPrefix(line, "event: SESSION_STATUS") {
		t.Fatalf("expected SESSION_STATUS catch-up first, got %q", line)
	}

	data, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev domain.Event
	if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(data), "data: ")), &ev); err != nil {
		t.Fatalf("decode catch-up event: %v", err)
	}
	var snap domain.StatusSnapshot
	if err := json.Unmarshal(ev.Payload, &snap); err != nil {
		t.Fatalf("decode catch-up payload: %v", err)
	}
	if snap.Status != domain.SessionStatusCreated {
		t.Fatalf("expected CREATED snapshot, got %s", snap.Status)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
