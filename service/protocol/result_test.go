package protocol

import (
	"testing"

	errs "GProject/tools/errs"
)

func TestResultTag(t *testing.T) {
	ok := Ok(map[string]any{"n": 1})
	if ok.Failed() || ok.Err() != nil {
		t.Fatal("Ok result reports failure")
	}

	fail := Fail(errs.ErrCredentials)
	if !fail.Failed() || fail.Err() != errs.ErrCredentials {
		t.Fatal("Fail result lost its error")
	}
}

// A handler returning an error VALUE as its payload must still count as
// success; only the tag decides.
func TestResultErrorValuedPayload(t *testing.T) {
	r := Ok(errs.ErrNotFound)
	if r.Failed() {
		t.Fatal("error-shaped payload misread as failure")
	}
	if r.Value() != errs.ErrNotFound {
		t.Fatal("payload lost")
	}
}

func TestFailNilCoerces(t *testing.T) {
	r := Fail(nil)
	if !r.Failed() || r.Err() == nil {
		t.Fatal("Fail(nil) must still be a failure")
	}
}
