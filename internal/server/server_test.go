package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"

	"provisionr/internal/command"
	"provisionr/internal/config"
	"provisionr/internal/dispatch"
	"provisionr/internal/engine"
	"provisionr/internal/store"
	"provisionr/internal/testutil"
	"provisionr/internal/types"
)

// newTestServer wires the full stack: in-memory catalogue, dispatcher
// goroutine, and the middleware-wrapped handler.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	catalogue := testutil.NewCatalogue(t)

	eng, err := engine.New("")
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	d := dispatch.New(command.NewCommander(eng), store.NewTemplateStore(), catalogue)
	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	t.Cleanup(cancel)

	srv := New(config.Default(), d.Queue(), catalogue)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postTemplate(t *testing.T, ts *httptest.Server, name, content string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "template.txt")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := io.WriteString(fw, content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	mw.Close()

	resp, err := http.Post(ts.URL+"/api/v1/template/"+name, mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("post template: %v", err)
	}
	return resp
}

func doJSON(t *testing.T, method, url, contentType, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func mustStatus(t *testing.T, resp *http.Response, want int) string {
	t.Helper()
	body := readBody(t, resp)
	if resp.StatusCode != want {
		t.Fatalf("status = %d, want %d (body: %s)", resp.StatusCode, want, body)
	}
	return body
}

func setupGreet(t *testing.T, ts *httptest.Server) {
	t.Helper()
	mustStatus(t, postTemplate(t, ts, "greet", "Hello {{ name }}"), http.StatusOK)
	mustStatus(t, doJSON(t, http.MethodPut, ts.URL+"/api/v1/template/greet/values", "application/yaml", "name: World\n"), http.StatusOK)
}

func TestRenderWithStoredValues(t *testing.T) {
	ts := newTestServer(t)
	setupGreet(t, ts)

	resp, err := http.Get(ts.URL + "/api/v1/template/greet?mac_address=AA")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
	if body := mustStatus(t, resp, http.StatusOK); body != "Hello World" {
		t.Fatalf("body = %q", body)
	}
}

func TestRenderSecondRequestIsCached(t *testing.T) {
	ts := newTestServer(t)
	setupGreet(t, ts)

	resp, _ := http.Get(ts.URL + "/api/v1/template/greet?mac_address=AA")
	mustStatus(t, resp, http.StatusOK)

	// The query override is ignored because AA already has an artifact.
	resp, err := http.Get(ts.URL + "/api/v1/template/greet?mac_address=AA&name=Bob")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if body := mustStatus(t, resp, http.StatusOK); body != "Hello World" {
		t.Fatalf("body = %q", body)
	}
}

func TestRenderQueryOverride(t *testing.T) {
	ts := newTestServer(t)
	setupGreet(t, ts)

	resp, _ := http.Get(ts.URL + "/api/v1/template/greet?mac_address=AA")
	mustStatus(t, resp, http.StatusOK)

	resp, err := http.Get(ts.URL + "/api/v1/template/greet?mac_address=BB&name=Bob")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if body := mustStatus(t, resp, http.StatusOK); body != "Hello Bob" {
		t.Fatalf("body = %q", body)
	}
}

func TestRenderHashedDynamicField(t *testing.T) {
	ts := newTestServer(t)
	mustStatus(t, postTemplate(t, ts, "ks", "PW: {{ pw }}"), http.StatusOK)

	cfg := `{"id_field":"mac_address","dynamic_fields":[{"field_name":"pw","type":"alphanumeric","length":16,"hashing_algorithm":"sha512"}]}`
	mustStatus(t, doJSON(t, http.MethodPut, ts.URL+"/api/v1/config/ks", "application/json", cfg), http.StatusOK)

	resp, err := http.Get(ts.URL + "/api/v1/template/ks?mac_address=01")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	body := mustStatus(t, resp, http.StatusOK)
	if !regexp.MustCompile(`^PW: \$6\$.*$`).MatchString(body) {
		t.Fatalf("body = %q, want sha512 crypt prefix", body)
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/template/missing?mac_address=X")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	body := mustStatus(t, resp, http.StatusBadRequest)
	if !strings.Contains(body, "not found") {
		t.Fatalf("body = %q", body)
	}
}

func TestRenderMissingIdentity(t *testing.T) {
	ts := newTestServer(t)
	mustStatus(t, postTemplate(t, ts, "t", "static content"), http.StatusOK)

	resp, err := http.Get(ts.URL + "/api/v1/template/t")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	body := mustStatus(t, resp, http.StatusBadRequest)
	if !strings.Contains(body, "Missing required field") {
		t.Fatalf("body = %q", body)
	}
}

func TestPostInvalidTemplateSyntax(t *testing.T) {
	ts := newTestServer(t)
	resp := postTemplate(t, ts, "bad", "{% if x %}unterminated")
	body := mustStatus(t, resp, http.StatusBadRequest)
	if !strings.Contains(body, `"status":"error"`) {
		t.Fatalf("body = %q", body)
	}
}

func TestPutValuesInvalidYAML(t *testing.T) {
	ts := newTestServer(t)
	mustStatus(t, postTemplate(t, ts, "t", "x"), http.StatusOK)

	resp := doJSON(t, http.MethodPut, ts.URL+"/api/v1/template/t/values", "application/yaml", "key: [unclosed\n")
	mustStatus(t, resp, http.StatusBadRequest)
}

func TestPutValuesUnknownTemplate(t *testing.T) {
	ts := newTestServer(t)
	resp := doJSON(t, http.MethodPut, ts.URL+"/api/v1/template/nope/values", "application/yaml", "a: b\n")
	body := mustStatus(t, resp, http.StatusBadRequest)
	if !strings.Contains(body, "not found") {
		t.Fatalf("body = %q", body)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	mustStatus(t, postTemplate(t, ts, "router", "x"), http.StatusOK)

	cfg := `{"id_field":"serial","dynamic_fields":[{"field_name":"pw","type":"passphrase","word_count":4}]}`
	mustStatus(t, doJSON(t, http.MethodPut, ts.URL+"/api/v1/config/router", "application/json", cfg), http.StatusOK)

	resp, err := http.Get(ts.URL + "/api/v1/config/router")
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	body := mustStatus(t, resp, http.StatusOK)

	var got types.TemplateConfig
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode config: %v (body: %s)", err, body)
	}
	if got.IDField != "serial" || len(got.DynamicFields) != 1 {
		t.Fatalf("config = %+v", got)
	}
	f := got.DynamicFields[0]
	if f.FieldName != "pw" || f.Generator.Kind != types.GeneratorPassphrase || f.Generator.WordCount != 4 {
		t.Fatalf("field = %+v", f)
	}
}

func TestGetConfigUnknownTemplate(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/v1/config/nope")
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	mustStatus(t, resp, http.StatusNotFound)
}

func TestRenderedListAndFetch(t *testing.T) {
	ts := newTestServer(t)
	setupGreet(t, ts)

	resp, _ := http.Get(ts.URL + "/api/v1/template/greet?mac_address=AA")
	mustStatus(t, resp, http.StatusOK)

	resp, err := http.Get(ts.URL + "/api/v1/rendered/greet")
	if err != nil {
		t.Fatalf("list rendered: %v", err)
	}
	var summaries []types.RenderedSummary
	if err := json.Unmarshal([]byte(mustStatus(t, resp, http.StatusOK)), &summaries); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(summaries) != 1 || summaries[0].IDFieldValue != "AA" {
		t.Fatalf("summaries = %+v", summaries)
	}

	resp, err = http.Get(ts.URL + "/api/v1/rendered/greet/AA")
	if err != nil {
		t.Fatalf("get rendered: %v", err)
	}
	var artifact types.RenderedArtifact
	if err := json.Unmarshal([]byte(mustStatus(t, resp, http.StatusOK)), &artifact); err != nil {
		t.Fatalf("decode artifact: %v", err)
	}
	if artifact.TemplateName != "greet" || artifact.RenderedContent != "Hello World" {
		t.Fatalf("artifact = %+v", artifact)
	}

	resp, err = http.Get(ts.URL + "/api/v1/rendered/greet/ZZ")
	if err != nil {
		t.Fatalf("get rendered: %v", err)
	}
	mustStatus(t, resp, http.StatusNotFound)
}

func TestDeletePreservesRendered(t *testing.T) {
	ts := newTestServer(t)
	setupGreet(t, ts)

	resp, _ := http.Get(ts.URL + "/api/v1/template/greet?mac_address=AA")
	mustStatus(t, resp, http.StatusOK)

	resp = doJSON(t, http.MethodDelete, ts.URL+"/api/v1/template/greet", "", "")
	mustStatus(t, resp, http.StatusOK)

	resp, err := http.Get(ts.URL + "/api/v1/rendered/greet")
	if err != nil {
		t.Fatalf("list rendered: %v", err)
	}
	var summaries []types.RenderedSummary
	if err := json.Unmarshal([]byte(mustStatus(t, resp, http.StatusOK)), &summaries); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("summaries after delete = %+v", summaries)
	}
}

func TestConcurrentRendersSingleArtifact(t *testing.T) {
	ts := newTestServer(t)
	mustStatus(t, postTemplate(t, ts, "secret", "S: {{ token }}"), http.StatusOK)
	cfg := `{"id_field":"mac_address","dynamic_fields":[{"field_name":"token","type":"alphanumeric","length":32}]}`
	mustStatus(t, doJSON(t, http.MethodPut, ts.URL+"/api/v1/config/secret", "application/json", cfg), http.StatusOK)

	const workers = 8
	bodies := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := http.Get(ts.URL + "/api/v1/template/secret?mac_address=AA")
			if err != nil {
				t.Errorf("render %d: %v", i, err)
				return
			}
			defer resp.Body.Close()
			b, _ := io.ReadAll(resp.Body)
			bodies[i] = string(b)
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if bodies[i] != bodies[0] {
			t.Fatalf("divergent renders: %q vs %q", bodies[0], bodies[i])
		}
	}

	resp, err := http.Get(ts.URL + "/api/v1/rendered/secret")
	if err != nil {
		t.Fatalf("list rendered: %v", err)
	}
	var summaries []types.RenderedSummary
	if err := json.Unmarshal([]byte(mustStatus(t, resp, http.StatusOK)), &summaries); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("artifact count = %d, want 1", len(summaries))
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	body := mustStatus(t, resp, http.StatusOK)
	if !strings.Contains(body, "healthy") {
		t.Fatalf("body = %q", body)
	}
}

func TestOpenAPIEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/openapi.json")
	if err != nil {
		t.Fatalf("openapi: %v", err)
	}
	var spec map[string]any
	if err := json.Unmarshal([]byte(mustStatus(t, resp, http.StatusOK)), &spec); err != nil {
		t.Fatalf("decode spec: %v", err)
	}
	if spec["openapi"] != "3.0.3" {
		t.Fatalf("spec = %v", spec["openapi"])
	}
}

func TestLogLevelEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/config/loglevel?level=debug", "", "")
	mustStatus(t, resp, http.StatusOK)

	resp = doJSON(t, http.MethodPost, ts.URL+"/config/loglevel?level=verbose", "", "")
	mustStatus(t, resp, http.StatusBadRequest)

	resp, err := http.Get(ts.URL + "/config/loglevel")
	if err != nil {
		t.Fatalf("get loglevel: %v", err)
	}
	body := mustStatus(t, resp, http.StatusOK)
	if !strings.Contains(body, "debug") {
		t.Fatalf("body = %q", body)
	}

	doJSON(t, http.MethodPost, ts.URL+"/config/loglevel?level=info", "", "").Body.Close()
}

func TestRateLimitedAPI(t *testing.T) {
	catalogue := testutil.NewCatalogue(t)

	eng, _ := engine.New("")
	d := dispatch.New(command.NewCommander(eng), store.NewTemplateStore(), catalogue)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	cfg := config.Default()
	cfg.RateLimit = &config.RateLimitConfig{Enabled: true, RequestsPerSecond: 1, Burst: 2}
	srv := New(cfg, d.Queue(), catalogue)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	var got429 bool
	for i := 0; i < 5; i++ {
		resp, err := http.Get(ts.URL + "/api/v1/config/nope")
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			if resp.Header.Get("Retry-After") == "" {
				t.Error("429 without Retry-After")
			}
			got429 = true
		}
		resp.Body.Close()
	}
	if !got429 {
		t.Fatal("burst of 5 requests never hit the limiter")
	}
}
