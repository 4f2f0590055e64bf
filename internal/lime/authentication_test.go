package lime

import "testing"

func TestPlainAuthenticationBase64RoundTrip(t *testing.T) {
	var a PlainAuthentication
	a.SetPasswordAsBase64("secret")

	got, err := a.GetFromBase64()
	if err != nil {
		t.Fatalf("GetFromBase64: %v", err)
	}
	if got != "secret" {
		t.Errorf("GetFromBase64() = %q, want %q", got, "secret")
	}
}

func TestAuthenticationSchemes(t *testing.T) {
	tests := []struct {
		auth Authentication
		want AuthenticationScheme
	}{
		{GuestAuthentication{}, AuthenticationSchemeGuest},
		{PlainAuthentication{}, AuthenticationSchemePlain},
		{KeyAuthentication{}, AuthenticationSchemeKey},
		{TransportAuthentication{}, AuthenticationSchemeTransport},
		{ExternalAuthentication{}, AuthenticationSchemeExternal},
	}
	for _, tt := range tests {
		if got := tt.auth.Scheme(); got != tt.want {
			t.Errorf("%T.Scheme() = %v, want %v", tt.auth, got, tt.want)
		}
	}
}

func TestNewAuthenticationForScheme(t *testing.T) {
	tests := []struct {
		scheme AuthenticationScheme
		want   Authentication
	}{
		{AuthenticationSchemePlain, &PlainAuthentication{}},
		{AuthenticationSchemeKey, &KeyAuthentication{}},
		{AuthenticationSchemeTransport, &TransportAuthentication{}},
		{AuthenticationSchemeExternal, &ExternalAuthentication{}},
		{AuthenticationSchemeGuest, &GuestAuthentication{}},
		{"", &GuestAuthentication{}},
	}
	for _, tt := range tests {
		got := newAuthenticationForScheme(tt.scheme)
		if got.Scheme() != tt.want.Scheme() {
			t.Errorf("newAuthenticationForScheme(%q).Scheme() = %v, want %v", tt.scheme, got.Scheme(), tt.want.Scheme())
		}
	}
}
