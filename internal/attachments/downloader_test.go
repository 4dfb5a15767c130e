package attachments

import "testing"

func TestMimeAllowed(t *testing.T) {
	cases := []struct {
		mime string
		want bool
	}{
		{"text/plain", true},
		{"text/markdown", true},
		{"application/pdf", true},
		{"application/json", true},
		{"image/jpeg", true},
		{"image/png", true},
		{"image/gif", true},
		{"image/webp", true},
		{"application/zip", false},
		{"video/mp4", false},
		{"image/svg+xml", false},
	}
	for _, tc := range cases {
		if got := mimeAllowed(tc.mime); got != tc.want {
			t.Errorf("mimeAllowed(%q) = %v, want %v", tc.mime, got, tc.want)
		}
	}
}
