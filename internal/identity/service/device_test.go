package service

import "testing"

func TestDeviceDisplayName(t *testing.T) {
	tests := []struct {
		name string
		ua   string
		want string
	}{
		{
			name: "desktop chrome",
			ua:   "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			want: "Chrome on Mac OS X",
		},
		{
			name: "empty",
			ua:   "",
			want: "Unknown Device",
		},
		{
			name: "garbage",
			ua:   "???",
			want: "Unknown Device",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := deviceDisplayName(tt.ua); got != tt.want {
				t.Errorf("deviceDisplayName(%q) = %q, want %q", tt.ua, got, tt.want)
			}
		})
	}
}
