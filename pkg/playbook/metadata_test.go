package playbook

import "testing"

func TestSecondsToHuman(t *testing.T) {
	cases := []struct {
		seconds int
		want    string
	}{
		{90061, "1 day 1 hours 1 minutes 01 seconds"},
		{172862, "2 days 0 hours 1 minutes 02 seconds"},
		{47461, "13 hours 11 minutes 01 seconds"},
		{3601, "1 hours 0 minutes 01 seconds"},
		{61, "1 minutes 01 seconds"},
		{59, "0 minutes 59 seconds"},
		{0, "0 minutes 00 seconds"},
	}

	for _, tc := range cases {
		if got := SecondsToHuman(tc.seconds); got != tc.want {
			t.Errorf("SecondsToHuman(%d) = %q, want %q", tc.seconds, got, tc.want)
		}
	}
}

func TestMetadataDefaults(t *testing.T) {
	md, err := metadataFromMap(map[string]any{"name": "minimal"})
	if err != nil {
		t.Fatalf("metadataFromMap failed: %v", err)
	}

	if md.OnFail != PolicyFail {
		t.Errorf("expected default on_fail=fail, got %s", md.OnFail)
	}
	if md.LogLevel != "info" {
		t.Errorf("expected default loglevel=info, got %s", md.LogLevel)
	}
}

func TestMetadataRejectsBadEnums(t *testing.T) {
	cases := []struct {
		name string
		doc  map[string]any
	}{
		{"bad on_fail", map[string]any{"on_fail": "explode"}},
		{"bad loglevel", map[string]any{"loglevel": "loud"}},
		{"bad tags", map[string]any{"tags": "not-a-list"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := metadataFromMap(tc.doc); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestMetadataItemCoversEveryField(t *testing.T) {
	md := Metadata{
		Name:     "x",
		Version:  "1",
		Author:   "a",
		Tags:     []string{"t"},
		OnFail:   PolicyContinue,
		LogLevel: "debug",
		RunAs:    "svc",
	}

	for _, field := range []string{"name", "version", "author", "description", "tags", "on_fail", "loglevel", "run_as"} {
		if _, err := md.Item(field); err != nil {
			t.Errorf("Item(%s) failed: %v", field, err)
		}
	}
}
