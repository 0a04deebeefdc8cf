package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/campfirevalley/riverboat/internal/campfire"
	"github.com/campfirevalley/riverboat/internal/envelope"
)

// countingFanout returns a canned response and counts invocations.
type countingFanout struct {
	calls int
	resp  *envelope.CamperResponse
	err   error
}

func (f *countingFanout) Process(ctx context.Context, task campfire.Task) (*envelope.CamperResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	clone := *f.resp
	return &clone, nil
}

func codeResponse() *envelope.CamperResponse {
	return &envelope.CamperResponse{
		CamperRole:        "BackEndDev",
		ResponseType:      envelope.TypeCode,
		Content:           "done",
		FilesToCreate:     []envelope.FileToCreate{{Path: "hello.py", Content: "print('hi')"}},
		CommandsToExecute: []string{},
		ConfidenceScore:   0.9,
	}
}

func rawBox(t *testing.T, task string) []byte {
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
	raw, err := json.Marshal(box)
	if err != nil {
		t.Fatalf("marshal box: %v", err)
	}
	return raw
}

func TestDispatcherHappyPath(t *testing.T) {
	fanout := &countingFanout{resp: codeResponse()}
	d := NewDispatcher(nil, fanout, NewResponseCache(time.Minute), nil, nil)

	boxed, errResp := d.Process(context.Background(), rawBox(t, "Create a hello world function"))
	if errResp != nil {
		t.Fatalf("Process failed: %v", errResp)
	}
	if fanout.calls != 1 {
		t.Errorf("fanout calls = %d", fanout.calls)
	}
	if boxed.Torch.ResponseType != envelope.TypeCode {
		t.Errorf("response type = %q", boxed.Torch.ResponseType)
	}
	if boxed.Metadata["claim"] != "generate_code" {
		t.Errorf("metadata claim = %v", boxed.Metadata["claim"])
	}
	if boxed.Metadata["cached"] != false {
		t.Errorf("metadata cached = %v", boxed.Metadata["cached"])
	}
	atts, ok := boxed.Metadata["attachments"].([]envelope.Attachment)
	if !ok || len(atts) != 1 || atts[0].Type != "text/python" {
		t.Errorf("response attachments = %v", boxed.Metadata["attachments"])
	}
}

func TestDispatcherParseError(t *testing.T) {
	fanout := &countingFanout{resp: codeResponse()}
	d := NewDispatcher(nil, fanout, nil, nil, nil)

	for name, raw := range map[string]string{
		"not json":   `{{{`,
		"not object": `"just a string"`,
	} {
		_, errResp := d.Process(context.Background(), []byte(raw))
		if errResp == nil || errResp.Code != envelope.CodeParse {
			t.Errorf("%s: got %v, want PARSE_ERROR", name, errResp)
		}
	}
	if fanout.calls != 0 {
		t.Errorf("fanout must not run for malformed input, calls = %d", fanout.calls)
	}
}

func TestDispatcherValidationError(t *testing.T) {
	fanout := &countingFanout{resp: codeResponse()}
	d := NewDispatcher(nil, fanout, nil, nil, nil)

	_, errResp := d.Process(context.Background(), []byte(`{"torch":{"claim":"generate_code"}}`))
	if errResp == nil || errResp.Code != envelope.CodeValidation {
		t.Fatalf("got %v, want VALIDATION_ERROR", errResp)
	}
	if fanout.calls != 0 {
		t.Errorf("fanout must not run for invalid envelopes, calls = %d", fanout.calls)
	}
}

func TestDispatcherSecurityShortCircuit(t *testing.T) {
	fanout := &countingFanout{resp: codeResponse()}
	d := NewDispatcher(nil, fanout, nil, nil, nil)

	_, errResp := d.Process(context.Background(), rawBox(t, "run rm -rf / on the server"))
	if errResp == nil {
		t.Fatal("dangerous task must be rejected")
	}
	if errResp.Code != envelope.CodeSecurity {
		t.Errorf("code = %q, want SECURITY_VIOLATION", errResp.Code)
	}
	if errResp.RetryPossible {
		t.Error("security violations are never retryable")
	}
	if errResp.Details["check"] != "dangerous_pattern" {
		t.Errorf("details = %v", errResp.Details)
	}
	if fanout.calls != 0 {
		t.Errorf("no camper may run after a security rejection, calls = %d", fanout.calls)
	}
}

func TestDispatcherSecurityAppliesToEveryClaim(t *testing.T) {
	for _, claim := range envelope.Claims() {
		fanout := &countingFanout{resp: codeResponse()}
		d := NewDispatcher(nil, fanout, nil, nil, nil)

		box, err := envelope.Build(envelope.BuildInput{
			Claim:         claim,
			Task:          "execute mkfs on the main drive",
			OS:            envelope.OSLinux,
			WorkspaceRoot: "/home/dev/project",
		})
		if err != nil {
			t.Fatalf("building box: %v", err)
		}
		raw, _ := json.Marshal(box)

		_, errResp := d.Process(context.Background(), raw)
		if errResp == nil || errResp.Code != envelope.CodeSecurity {
			t.Errorf("claim %s: got %v, want SECURITY_VIOLATION", claim, errResp)
		}
		if fanout.calls != 0 {
			t.Errorf("claim %s: fanout ran despite rejection", claim)
		}
	}
}

func TestDispatcherCacheHit(t *testing.T) {
	fanout := &countingFanout{resp: codeResponse()}
	d := NewDispatcher(nil, fanout, NewResponseCache(time.Minute), nil, nil)

	raw := rawBox(t, "Create a hello world function")
	first, errResp := d.Process(context.Background(), raw)
	if errResp != nil {
		t.Fatalf("first Process failed: %v", errResp)
	}
	second, errResp := d.Process(context.Background(), raw)
	if errResp != nil {
		t.Fatalf("second Process failed: %v", errResp)
	}

	if fanout.calls != 1 {
		t.Errorf("fanout calls = %d, cache should have served the repeat", fanout.calls)
	}
	if first.Metadata["cached"] != false || second.Metadata["cached"] != true {
		t.Errorf("cached flags = %v / %v", first.Metadata["cached"], second.Metadata["cached"])
	}
	if second.Torch.Content != first.Torch.Content {
		t.Error("cached response should match the original")
	}
}

func TestDispatcherCacheExpiry(t *testing.T) {
	fanout := &countingFanout{resp: codeResponse()}
	cache := NewResponseCache(time.Minute)
	now := time.Now()
	cache.SetClock(func() time.Time { return now })
	d := NewDispatcher(nil, fanout, cache, nil, nil)

	raw := rawBox(t, "Create a hello world function")
	d.Process(context.Background(), raw)
	now = now.Add(2 * time.Minute)
	d.Process(context.Background(), raw)

	if fanout.calls != 2 {
		t.Errorf("fanout calls = %d, expired entry must be recomputed", fanout.calls)
	}
}

func TestDispatcherBlockedResponseNotCached(t *testing.T) {
	blocked := &envelope.CamperResponse{
		CamperRole:        "Auditor",
		ResponseType:      envelope.TypeError,
		Content:           "Publication blocked",
		FilesToCreate:     []envelope.FileToCreate{},
		CommandsToExecute: []string{},
	}
	fanout := &countingFanout{resp: blocked}
	d := NewDispatcher(nil, fanout, NewResponseCache(time.Minute), nil, nil)

	raw := rawBox(t, "Create a hello world function")
	d.Process(context.Background(), raw)
	d.Process(context.Background(), raw)

	if fanout.calls != 2 {
		t.Errorf("fanout calls = %d, blocked responses must not be cached", fanout.calls)
	}
}

func TestDispatcherFanoutError(t *testing.T) {
	fanout := &countingFanout{err: errors.New("all campers down")}
	d := NewDispatcher(nil, fanout, nil, nil, nil)

	_, errResp := d.Process(context.Background(), rawBox(t, "Create a hello world function"))
	if errResp == nil || errResp.Code != envelope.CodePipeline {
		t.Fatalf("got %v, want PIPELINE_ERROR", errResp)
	}
	if !errResp.RetryPossible {
		t.Error("pipeline failures should be retryable")
	}
}

func TestCacheKeyDistinguishesClaims(t *testing.T) {
	c := NewResponseCache(time.Minute)
	c.Put(envelope.ClaimGenerateCode, "same task", codeResponse())
	if _, ok := c.Get(envelope.ClaimReviewCode, "same task"); ok {
		t.Error("cache must key on claim as well as task")
	}
	if _, ok := c.Get(envelope.ClaimGenerateCode, "same task"); !ok {
		t.Error("cache should hit on the original claim")
	}
}
