package jsontail

import "testing"

func TestExtractFromMixedOutput(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain object",
			in:   `{"ok":true}`,
			want: `{"ok":true}`,
		},
		{
			name: "diagnostics then result",
			in:   "loading ligands...\nprocessed 5 of 5\n{\"processed\":5,\"succeeded\":4,\"failed\":1}",
			want: `{"processed":5,"succeeded":4,"failed":1}`,
		},
		{
			name: "purge style deletion log",
			in:   "[DEL] a.log\n[CSV] Truncated: b.csv\n{\"ok\":true,\"exit_code\":0}",
			want: `{"ok":true,"exit_code":0}`,
		},
		{
			name: "trailing newline and spaces",
			in:   "{\"ok\":true}  \n\n",
			want: `{"ok":true}`,
		},
		{
			name: "pretty printed result",
			in:   "stage done\n{\n  \"ok\": true,\n  \"count\": 3\n}\n",
			want: `{"ok":true,"count":3}`,
		},
		{
			name: "unbalanced brace in diagnostics",
			in:   "warn: parse failure near {token\n{\"ok\":false}",
			want: `{"ok":false}`,
		},
		{
			name: "earlier object ignored",
			in:   "{\"first\":1}\nmore output\n{\"second\":2}",
			want: `{"second":2}`,
		},
		{
			name: "nested object",
			in:   "done\n{\"units\":{\"processed\":2},\"ok\":true}",
			want: `{"units":{"processed":2},"ok":true}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Compact(tt.in)
			if !ok {
				t.Fatalf("Compact(%q) reported no result", tt.in)
			}
			if got != tt.want {
				t.Errorf("Compact(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExtractNoResult(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"no braces", "plain text output\nnothing else"},
		{"truncated object", `{"partial":`},
		{"object not at end", `{"ok":true} trailing garbage`},
		{"array only", `[1,2,3]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if raw, ok := Extract(tt.in); ok {
				t.Errorf("Extract(%q) = %s, want no result", tt.in, raw)
			}
		})
	}
}

func TestUnmarshal(t *testing.T) {
	var counts struct {
		Processed int `json:"processed"`
		Succeeded int `json:"succeeded"`
	}
	in := "ligand L1 ok\nligand L2 ok\n{\"processed\":2,\"succeeded\":2,\"failed\":0}\n"
	if !Unmarshal(in, &counts) {
		t.Fatal("Unmarshal reported no result")
	}
	if counts.Processed != 2 || counts.Succeeded != 2 {
		t.Errorf("got %+v, want processed=2 succeeded=2", counts)
	}

	if Unmarshal("no json here", &counts) {
		t.Error("Unmarshal succeeded on input without a result object")
	}
}
