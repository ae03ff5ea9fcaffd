package stage

import "testing"

func TestHealthNamedKeepsHandlerName(t *testing.T) {
	if got := (Health{Ready: true}).Named("generate-manifest"); got.Name != "generate-manifest" {
		t.Fatalf("expected job type to fill empty name, got %q", got.Name)
	}
	if got := Healthy("derivatives").Named("generate-derivatives"); got.Name != "derivatives" {
		t.Fatalf("expected handler name to win, got %q", got.Name)
	}
}

func TestHealthString(t *testing.T) {
	cases := map[string]Health{
		"generate-derivatives: ready":                Healthy("generate-derivatives"),
		"generate-manifest: queue store unavailable": Unhealthy("generate-manifest", "queue store unavailable"),
		"generate-manifest: not ready":               Unhealthy("generate-manifest", ""),
	}
	for want, h := range cases {
		if got := h.String(); got != want {
			t.Fatalf("String() = %q, want %q", got, want)
		}
	}
}
