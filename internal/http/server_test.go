package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/campfirevalley/riverboat/internal/campfire"
	"github.com/campfirevalley/riverboat/internal/envelope"
	"github.com/campfirevalley/riverboat/internal/pipeline"
)

func newTestServer(t *testing.T, authSecret string) *httptest.Server {
	t.Helper()
	campers := campfire.DefaultCampers(nil, nil)
	agg := campfire.NewAggregator(campers, campfire.GateModeSuppress, nil)
	dispatcher := pipeline.NewDispatcher(nil, agg, pipeline.NewResponseCache(time.Minute), nil, nil)

	s := NewServer(Config{
		Addr:       "127.0.0.1:0",
		Dispatcher: dispatcher,
		AuthSecret: authSecret,
		Version:    "test",
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postBox(t *testing.T, srv *httptest.Server, task string) *http.Response {
	t.Helper()
	box, err := envelope.Build(envelope.BuildInput{
		Claim:         envelope.ClaimGenerateCode,
		Task:          task,
		OS:            envelope.OSLinux,
		WorkspaceRoot: "/home/dev/project",
	})
	if err != nil {
		t.Fatalf("building box: %v", err)
	}
	raw, _ := json.Marshal(box)
	resp, err := http.Post(srv.URL+"/api/v1/partybox", "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	return resp
}

func TestProcessHelloWorldEndToEnd(t *testing.T) {
	srv := newTestServer(t, "")

	resp := postBox(t, srv, "Create a hello world function")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var boxed struct {
		Torch    envelope.CamperResponse `json:"torch"`
		Metadata map[string]any          `json:"metadata"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&boxed); err != nil {
		t.Fatalf("decoding response: %v", err)
	}

	if boxed.Torch.ResponseType != envelope.TypeCode {
		t.Errorf("response_type = %q, want code", boxed.Torch.ResponseType)
	}
	if len(boxed.Torch.FilesToCreate) != 1 || boxed.Torch.FilesToCreate[0].Path != "hello.py" {
		t.Errorf("files = %+v", boxed.Torch.FilesToCreate)
	}
	if !strings.Contains(boxed.Torch.FilesToCreate[0].Content, "Hello, World!") {
		t.Errorf("file content = %q", boxed.Torch.FilesToCreate[0].Content)
	}
	if boxed.Metadata["box_id"] == "" {
		t.Error("metadata should carry a box_id")
	}
	if boxed.Metadata["claim"] != "generate_code" {
		t.Errorf("metadata claim = %v", boxed.Metadata["claim"])
	}
}

func TestProcessRejectsDangerousTask(t *testing.T) {
	srv := newTestServer(t, "")

	resp := postBox(t, srv, "run rm -rf / please")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}

	var errResp envelope.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	if errResp.Code != envelope.CodeSecurity {
		t.Errorf("code = %q", errResp.Code)
	}
	if errResp.RetryPossible {
		t.Error("security violations are never retryable")
	}
}

func TestProcessRejectsMalformedBody(t *testing.T) {
	srv := newTestServer(t, "")

	resp, err := http.Post(srv.URL+"/api/v1/partybox", "application/json", strings.NewReader("{{{"))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	var errResp envelope.ErrorResponse
	json.NewDecoder(resp.Body).Decode(&errResp)
	if errResp.Code != envelope.CodeParse {
		t.Errorf("code = %q, want PARSE_ERROR", errResp.Code)
	}
}

func TestAuthRequiredWhenSecretConfigured(t *testing.T) {
	srv := newTestServer(t, "sekrit")

	resp := postBox(t, srv, "Create a hello world function")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	var errResp envelope.ErrorResponse
	json.NewDecoder(resp.Body).Decode(&errResp)
	if errResp.Code != envelope.CodeAuth {
		t.Errorf("code = %q, want AUTH_ERROR", errResp.Code)
	}
}

func TestAuthAcceptsSignedToken(t *testing.T) {
	srv := newTestServer(t, "sekrit")

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "torch-client",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	signed, err := token.SignedString([]byte("sekrit"))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}

	box, _ := envelope.Build(envelope.BuildInput{
		Claim:         envelope.ClaimGenerateCode,
		Task:          "Create a hello world function",
		OS:            envelope.OSLinux,
		WorkspaceRoot: "/home/dev/project",
	})
	raw, _ := json.Marshal(box)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/partybox", bytes.NewReader(raw))
	req.Header.Set("Authorization", "Bearer "+signed)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestOpenEndpointsSkipAuth(t *testing.T) {
	srv := newTestServer(t, "sekrit")

	for _, path := range []string{"/healthz", "/version", "/metricsz"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s failed: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d", path, resp.StatusCode)
		}
	}
}

func TestDeliveriesWithoutStore(t *testing.T) {
	srv := newTestServer(t, "")

	resp, err := http.Get(srv.URL + "/api/v1/deliveries")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 when no delivery log is configured", resp.StatusCode)
	}
}

func TestVersionEndpoint(t *testing.T) {
	srv := newTestServer(t, "")

	resp, err := http.Get(srv.URL + "/version")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["version"] != "test" {
		t.Errorf("version = %q", body["version"])
	}
}
