package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"testing"
	"time"
)

// testServer holds state for a running test server instance
type testServer struct {
	cmd     *exec.Cmd
	baseURL string
	port    int
}

func findFreePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// buildBinary compiles the provisionr binary for testing
func buildBinary(t *testing.T) string {
	t.Helper()

	tmpDir := t.TempDir()
	binaryName := "provisionr-test"
	if runtime.GOOS == "windows" {
		binaryName += ".exe"
	}
	binaryPath := filepath.Join(tmpDir, binaryName)

	cmd := exec.Command("go", "build", "-o", binaryPath, ".")
	cmd.Dir = ".."
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")

	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to build binary: %v\nOutput: %s", err, output)
	}

	return binaryPath
}

// createTestConfig writes a config file that preloads one greeting
// template with a defaults file and one dynamic field.
func createTestConfig(t *testing.T, port int, dbPath string) string {
	t.Helper()

	dir := t.TempDir()

	templatePath := filepath.Join(dir, "greet.tmpl")
	if err := os.WriteFile(templatePath, []byte("Hello {{ name }}\nKey: {{ api_key }}\n"), 0644); err != nil {
		t.Fatalf("failed to write template: %v", err)
	}

	valuesPath := filepath.Join(dir, "greet-values.yaml")
	if err := os.WriteFile(valuesPath, []byte("name: World\n"), 0644); err != nil {
		t.Fatalf("failed to write values: %v", err)
	}

	config := fmt.Sprintf(`log_level: "error"
port: %d
db: "%s"

templates:
  greet:
    template_path: "%s"
    values_path: "%s"
    dynamic_fields:
      - field_name: "api_key"
        type: "alphanumeric"
        length: 24
`, port, dbPath, templatePath, valuesPath)

	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(config), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	return configPath
}

// startServer starts the provisionr server and waits for it to be ready
func startServer(t *testing.T, binaryPath, configPath string, port int) *testServer {
	t.Helper()

	cmd := exec.Command(binaryPath, "-config", configPath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}

	ts := &testServer{
		cmd:     cmd,
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", port),
		port:    port,
	}

	if err := ts.waitReady(10 * time.Second); err != nil {
		cmd.Process.Kill()
		t.Fatalf("server failed to become ready: %v", err)
	}

	return ts
}

// waitReady polls the health endpoint until the server is ready
func (ts *testServer) waitReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 1 * time.Second}

	for time.Now().Before(deadline) {
		resp, err := client.Get(ts.baseURL + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}

	return fmt.Errorf("server not ready after %v", timeout)
}

// stop gracefully stops the server
func (ts *testServer) stop() error {
	if ts.cmd == nil || ts.cmd.Process == nil {
		return nil
	}

	if runtime.GOOS == "windows" {
		return ts.cmd.Process.Kill()
	}

	ts.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan error, 1)
	go func() {
		done <- ts.cmd.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		ts.cmd.Process.Kill()
		return fmt.Errorf("server did not shutdown gracefully, killed")
	}
}

func (ts *testServer) get(t *testing.T, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(ts.baseURL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("GET %s read body: %v", path, err)
	}
	return resp.StatusCode, string(body)
}

func (ts *testServer) do(t *testing.T, method, path, contentType, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, ts.baseURL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("%s %s read body: %v", method, path, err)
	}
	return resp.StatusCode, string(respBody)
}

// uploadTemplate sends template content as a multipart file upload
func (ts *testServer) uploadTemplate(t *testing.T, name, content string) (int, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name+".tmpl")
	if err != nil {
		t.Fatalf("multipart form: %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatalf("multipart write: %v", err)
	}
	mw.Close()

	resp, err := http.Post(ts.baseURL+"/api/v1/template/"+name, mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST template %s: %v", name, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("POST template %s read body: %v", name, err)
	}
	return resp.StatusCode, string(body)
}

// startDefault builds the binary and starts a server with the standard
// test config. Callers get a running server with the greet template
// preloaded.
func startDefault(t *testing.T) *testServer {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	binaryPath := buildBinary(t)

	port, err := findFreePort()
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}

	dbPath := filepath.Join(t.TempDir(), "test.db")
	configPath := createTestConfig(t, port, dbPath)

	ts := startServer(t, binaryPath, configPath, port)
	t.Cleanup(func() { ts.stop() })
	return ts
}

func TestE2E_ServerStartupAndShutdown(t *testing.T) {
	ts := startDefault(t)

	status, _ := ts.get(t, "/health")
	if status != http.StatusOK {
		t.Errorf("expected status 200, got %d", status)
	}

	if err := ts.stop(); err != nil {
		// "signal: terminated" is the expected exit under SIGTERM
		if !strings.Contains(err.Error(), "signal") {
			t.Errorf("server shutdown error: %v", err)
		}
	}
}

func TestE2E_PreloadedTemplateRenders(t *testing.T) {
	ts := startDefault(t)

	status, body := ts.get(t, "/api/v1/template/greet?mac_address=AA:BB:CC:DD:EE:FF")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	if !strings.HasPrefix(body, "Hello World\n") {
		t.Errorf("unexpected render: %q", body)
	}
	if !strings.Contains(body, "Key: ") {
		t.Errorf("expected generated key in render: %q", body)
	}

	// The same device gets the identical document back, generated key
	// included.
	status2, body2 := ts.get(t, "/api/v1/template/greet?mac_address=AA:BB:CC:DD:EE:FF")
	if status2 != http.StatusOK {
		t.Fatalf("expected 200 on repeat, got %d", status2)
	}
	if body2 != body {
		t.Errorf("repeat render differs:\nfirst:  %q\nsecond: %q", body, body2)
	}

	// A different device gets a different generated key.
	_, other := ts.get(t, "/api/v1/template/greet?mac_address=11:22:33:44:55:66")
	if other == body {
		t.Error("distinct devices received identical generated values")
	}
}

func TestE2E_UploadRenderDelete(t *testing.T) {
	ts := startDefault(t)

	status, body := ts.uploadTemplate(t, "motd", "Welcome to {{ site }}\n")
	if status != http.StatusOK {
		t.Fatalf("upload failed: %d %s", status, body)
	}

	status, body = ts.do(t, http.MethodPut, "/api/v1/template/motd/values", "application/yaml", "site: lab-1\n")
	if status != http.StatusOK {
		t.Fatalf("put values failed: %d %s", status, body)
	}

	status, body = ts.get(t, "/api/v1/template/motd?mac_address=AA")
	if status != http.StatusOK {
		t.Fatalf("render failed: %d %s", status, body)
	}
	if body != "Welcome to lab-1\n" {
		t.Errorf("unexpected render: %q", body)
	}

	status, _ = ts.do(t, http.MethodDelete, "/api/v1/template/motd", "", "")
	if status != http.StatusOK {
		t.Fatalf("delete failed: %d", status)
	}

	// The template is gone but its past render survives.
	status, body = ts.get(t, "/api/v1/template/motd?mac_address=AA")
	if status != http.StatusBadRequest {
		t.Errorf("expected 400 after delete, got %d: %s", status, body)
	}
	status, body = ts.get(t, "/api/v1/rendered/motd/AA")
	if status != http.StatusOK {
		t.Errorf("expected surviving artifact, got %d: %s", status, body)
	}
}

func TestE2E_QueryOverridesStoredValues(t *testing.T) {
	ts := startDefault(t)

	status, body := ts.get(t, "/api/v1/template/greet?mac_address=QO&name=Bob")
	if status != http.StatusOK {
		t.Fatalf("render failed: %d %s", status, body)
	}
	if !strings.HasPrefix(body, "Hello Bob\n") {
		t.Errorf("query parameter did not override stored value: %q", body)
	}
}

func TestE2E_ErrorResponses(t *testing.T) {
	ts := startDefault(t)

	status, body := ts.get(t, "/api/v1/template/nope?mac_address=AA")
	if status != http.StatusBadRequest {
		t.Errorf("unknown template: expected 400, got %d", status)
	}
	if !strings.Contains(body, "not found") {
		t.Errorf("unknown template: unexpected body %q", body)
	}

	status, body = ts.get(t, "/api/v1/template/greet")
	if status != http.StatusBadRequest {
		t.Errorf("missing identity: expected 400, got %d", status)
	}
	if !strings.Contains(body, "Missing required field") {
		t.Errorf("missing identity: unexpected body %q", body)
	}

	status, _ = ts.get(t, "/api/v1/config/nope")
	if status != http.StatusNotFound {
		t.Errorf("unknown config: expected 404, got %d", status)
	}
}

func TestE2E_ConfigAndRenderedListing(t *testing.T) {
	ts := startDefault(t)

	status, body := ts.get(t, "/api/v1/config/greet")
	if status != http.StatusOK {
		t.Fatalf("get config failed: %d %s", status, body)
	}
	var cfg struct {
		IDField       string `json:"id_field"`
		DynamicFields []struct {
			FieldName string `json:"field_name"`
		} `json:"dynamic_fields"`
	}
	if err := json.Unmarshal([]byte(body), &cfg); err != nil {
		t.Fatalf("config decode: %v", err)
	}
	if cfg.IDField != "mac_address" {
		t.Errorf("expected default id field, got %q", cfg.IDField)
	}
	if len(cfg.DynamicFields) != 1 || cfg.DynamicFields[0].FieldName != "api_key" {
		t.Errorf("unexpected dynamic fields: %+v", cfg.DynamicFields)
	}

	for _, id := range []string{"d1", "d2"} {
		if status, body := ts.get(t, "/api/v1/template/greet?mac_address="+id); status != http.StatusOK {
			t.Fatalf("render %s failed: %d %s", id, status, body)
		}
	}

	status, body = ts.get(t, "/api/v1/rendered/greet")
	if status != http.StatusOK {
		t.Fatalf("list rendered failed: %d %s", status, body)
	}
	var list []struct {
		IDFieldValue string `json:"id_field_value"`
	}
	if err := json.Unmarshal([]byte(body), &list); err != nil {
		t.Fatalf("list decode: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(list))
	}
}

func TestE2E_ValidateFlag(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	binaryPath := buildBinary(t)
	dbPath := filepath.Join(t.TempDir(), "test.db")
	configPath := createTestConfig(t, 3000, dbPath)

	cmd := exec.Command(binaryPath, "-config", configPath, "-validate")
	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("validate failed: %v\nOutput: %s", err, output)
	}
	if !strings.Contains(string(output), "Configuration is valid") {
		t.Errorf("unexpected validate output: %s", output)
	}

	// A config pointing at a missing template file must fail validation
	// with a non-zero exit.
	bad := strings.Replace(readFile(t, configPath), "greet.tmpl", "missing.tmpl", 1)
	badPath := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(badPath, []byte(bad), 0644); err != nil {
		t.Fatalf("failed to write bad config: %v", err)
	}

	cmd = exec.Command(binaryPath, "-config", badPath, "-validate")
	output, err = cmd.CombinedOutput()
	if err == nil {
		t.Fatalf("expected validation failure, got success:\n%s", output)
	}
	if !strings.Contains(string(output), "Configuration has errors") {
		t.Errorf("unexpected failure output: %s", output)
	}
}

func TestE2E_CatalogueSurvivesRestart(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	binaryPath := buildBinary(t)

	port, err := findFreePort()
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}
	dbPath := filepath.Join(t.TempDir(), "test.db")
	configPath := createTestConfig(t, port, dbPath)

	ts := startServer(t, binaryPath, configPath, port)
	_, first := ts.get(t, "/api/v1/template/greet?mac_address=persist-1")
	if err := ts.stop(); err != nil && !strings.Contains(err.Error(), "signal") {
		t.Fatalf("shutdown error: %v", err)
	}

	ts = startServer(t, binaryPath, configPath, port)
	defer ts.stop()

	// The restarted server serves the stored artifact, generated
	// values intact.
	status, second := ts.get(t, "/api/v1/template/greet?mac_address=persist-1")
	if status != http.StatusOK {
		t.Fatalf("render after restart failed: %d %s", status, second)
	}
	if second != first {
		t.Errorf("artifact changed across restart:\nbefore: %q\nafter:  %q", first, second)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}
