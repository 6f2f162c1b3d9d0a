package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestResultVariants(t *testing.T) {
	ok := Success(134.5)
	if !ok.OK() || ok.Err() != nil {
		t.Fatalf("Success result reported failure: %+v", ok)
	}

	failed := Fail(KindNotFound, "no such ticker")
	if failed.OK() {
		t.Fatal("Fail result reported success")
	}
	if !errors.Is(failed.Err(), ErrNotFound) {
		t.Fatalf("Err() = %v, want NotFound", failed.Err())
	}
}

func TestFailureFromKeepsKindAndDetails(t *testing.T) {
	cause := Errorf(KindUpstream, "rate limited").WithDetails(map[string]any{"reason": "quota"})
	result := FailureFrom(fmt.Errorf("search: %w", cause))
	if result.Failure.Kind != KindUpstream {
		t.Fatalf("kind = %s, want %s", result.Failure.Kind, KindUpstream)
	}
	if result.Failure.Details["reason"] != "quota" {
		t.Fatalf("details = %v, want reason=quota", result.Failure.Details)
	}

	plain := FailureFrom(errors.New("boom"))
	if plain.Failure.Kind != KindUpstream || plain.Failure.Message != "boom" {
		t.Fatalf("plain failure = %+v", plain.Failure)
	}

	timeout := FailureFrom(context.DeadlineExceeded)
	if timeout.Failure.Kind != KindUpstream {
		t.Fatalf("timeout kind = %s", timeout.Failure.Kind)
	}
}

func TestResultJSON(t *testing.T) {
	raw, err := json.Marshal(Success(134.5))
	if err != nil {
		t.Fatalf("Marshal(success) error = %v", err)
	}
	if string(raw) != `{"ok":true,"payload":134.5}` {
		t.Fatalf("success JSON = %s", raw)
	}

	raw, err = json.Marshal(Fail(KindInvalidRange, "start after end"))
	if err != nil {
		t.Fatalf("Marshal(failure) error = %v", err)
	}
	if string(raw) != `{"ok":false,"error":{"kind":"InvalidRange","message":"start after end"}}` {
		t.Fatalf("failure JSON = %s", raw)
	}

	var decoded Result
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	if decoded.OK() || decoded.Failure.Kind != KindInvalidRange {
		t.Fatalf("decoded = %+v", decoded)
	}
}

func TestErrorIsMatchesKindOnly(t *testing.T) {
	err := Wrap(KindNotFound, errors.New("404"), "ticker ZZZZ not found")
	if !errors.Is(err, ErrNotFound) {
		t.Fatal("errors.Is(NotFound) = false")
	}
	if errors.Is(err, ErrUpstream) {
		t.Fatal("errors.Is(Upstream) = true for a NotFound error")
	}
	if KindOf(errors.New("plain")) != KindUpstream {
		t.Fatal("plain errors should classify as upstream")
	}
	if KindOf(nil) != "" {
		t.Fatal("nil should have no kind")
	}
}

func TestKindCodeAndFields(t *testing.T) {
	tests := map[Kind]string{
		KindValidation:   "VALIDATION_ERROR",
		KindInvalidRange: "INVALID_RANGE",
		KindNotFound:     "NOT_FOUND",
		KindUpstream:     "UPSTREAM_ERROR",
		KindAssembly:     "ASSEMBLY_ERROR",
	}
	for kind, want := range tests {
		if got := kind.Code(); got != want {
			t.Errorf("%s.Code() = %q, want %q", kind, got, want)
		}
	}

	err := fmt.Errorf("decode: %w", NewError(KindValidation, "bad").WithDetails(map[string]any{"fields": []string{"threadId"}}))
	if got := Fields(err); len(got) != 1 || got[0] != "threadId" {
		t.Errorf("Fields() = %v, want [threadId]", got)
	}
	if got := Fields(errors.New("plain")); got != nil {
		t.Errorf("Fields(plain) = %v, want nil", got)
	}
}
