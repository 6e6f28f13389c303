package discord

import "testing"

func TestCDNRewriter(t *testing.T) {
	tests := []struct {
		name string
		base string
		in   string
		want string
	}{
		{
			name: "rewrites cdn host",
			base: "https://img.example.com",
			in:   "https://cdn.discordapp.com/attachments/1/2/a_cat_h.png",
			want: "https://img.example.com/attachments/1/2/a_cat_h.png",
		},
		{
			name: "keeps query string",
			base: "https://img.example.com",
			in:   "https://cdn.discordapp.com/attachments/1/2/a.png?ex=1&is=2",
			want: "https://img.example.com/attachments/1/2/a.png?ex=1&is=2",
		},
		{
			name: "foreign host untouched",
			base: "https://img.example.com",
			in:   "https://media.other.net/a.png",
			want: "https://media.other.net/a.png",
		},
		{
			name: "empty base disables rewriting",
			base: "",
			in:   "https://cdn.discordapp.com/attachments/1/2/a.png",
			want: "https://cdn.discordapp.com/attachments/1/2/a.png",
		},
		{
			name: "garbage input falls back to raw",
			base: "https://img.example.com",
			in:   "::not-a-url",
			want: "::not-a-url",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := NewCDNRewriter(tc.base).Rewrite(tc.in); got != tc.want {
				t.Fatalf("Rewrite(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
