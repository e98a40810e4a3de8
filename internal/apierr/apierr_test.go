package apierr

import (
	"errors"
	"testing"
)

func TestWrapCarriesUnderlyingMessageAsDetail(t *testing.T) {
	e := Wrap(CodeNotFound, "task not found", errors.New("no rows"))
	if e.Detail != "no rows" {
		t.Fatalf("expected detail to carry underlying error, got %q", e.Detail)
	}
	if e.Code != CodeNotFound {
		t.Fatalf("expected code NOT_FOUND, got %s", e.Code)
	}
}

func TestHTTPStatusMapsKnownCodes(t *testing.T) {
	cases := map[Code]int{
		CodeValidation:       400,
		CodeNotFound:         404,
		CodeCyclicDependency: 422,
		CodeCapacityExceeded: 429,
		CodeUpstreamFailure:  502,
		CodeInternal:         500,
	}
	for code, want := range cases {
		e := New(code, "x")
		if got := e.HTTPStatus(); got != want {
			t.Errorf("%s: expected status %d, got %d", code, want, got)
		}
	}
}

func TestHTTPStatusDefaultsToInternalForUnknownCode(t *testing.T) {
	e := New(Code("SOMETHING_NEW"), "x")
	if got := e.HTTPStatus(); got != 500 {
		t.Fatalf("expected default 500, got %d", got)
	}
}

func TestToEnvelopeOmitsEmptyDetail(t *testing.T) {
	e := New(CodeValidation, "bad input")
	env := e.ToEnvelope()
	if env.Error != "bad input" || env.Code != CodeValidation {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if env.Timestamp == "" {
		t.Fatal("expected a stamped timestamp")
	}
}

func TestErrorStringIncludesDetailWhenPresent(t *testing.T) {
	e := Wrap(CodeInternal, "save failed", errors.New("disk full"))
	msg := e.Error()
	if msg == "" {
		t.Fatal("expected a non-empty error string")
	}
}
