package lime

import "testing"

func TestReasonError(t *testing.T) {
	r := Reason{Code: ReasonCodeAuthenticationFailed, Description: "bad password"}
	want := "lime: reason 32: bad password"
	if got := r.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestReasonHTTPStatus(t *testing.T) {
	tests := []struct {
		code int
		want int
	}{
		{ReasonCodeInvalidSessionID, 401},
		{ReasonCodeSessionTimeout, 401},
		{ReasonCodeSessionError, 401},
		{ReasonCodeValidationError, 400},
		{ReasonCodeNegotiationNoOptions, 401},
		{ReasonCodeAuthenticationFailed, 401},
		{ReasonCodeGeneralError, 403},
		{99, 403},
	}
	for _, tt := range tests {
		r := Reason{Code: tt.code}
		if got := r.HTTPStatus(); got != tt.want {
			t.Errorf("Reason{Code: %d}.HTTPStatus() = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestNewReason(t *testing.T) {
	r := NewReason(ReasonCodeGeneralError, "boom")
	if r.Code != ReasonCodeGeneralError || r.Description != "boom" {
		t.Errorf("NewReason = %+v", r)
	}
}
