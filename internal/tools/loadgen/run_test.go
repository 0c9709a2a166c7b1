package loadgen

import "testing"

func TestClassifyStatusClass(t *testing.T) {
	cases := map[int]string{
		200: "2xx",
		302: "3xx",
		404: "4xx",
		500: "5xx",
		599: "5xx",
		100: "other",
	}
	for status, want := range cases {
		if got := classifyStatusClass(status); got != want {
			t.Fatalf("classifyStatusClass(%d)=%q want %q", status, got, want)
		}
	}
}

func TestNormalizeProfile(t *testing.T) {
	if got := normalizeProfile(""); got != "mixed" {
		t.Fatalf("normalizeProfile empty=%q want mixed", got)
	}
	if got := normalizeProfile("  AUTH  "); got != "auth" {
		t.Fatalf("normalizeProfile auth=%q want auth", got)
	}
}

func TestTargetsForProfile(t *testing.T) {
	for _, profile := range []string{"health", "auth", "sessions", "mixed"} {
		targets, err := targetsForProfile(profile)
		if err != nil {
			t.Fatalf("profile %q: %v", profile, err)
		}
		if len(targets) == 0 {
			t.Fatalf("profile %q has no targets", profile)
		}
	}
	if _, err := targetsForProfile("bogus"); err == nil {
		t.Fatal("unknown profile must be rejected")
	}
}
