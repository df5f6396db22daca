package socketio

import "testing"

func TestEndpointURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{base: "http://localhost:3001", want: "ws://localhost:3001/socket.io/?EIO=4&transport=websocket"},
		{base: "https://notify.example.edu/", want: "wss://notify.example.edu/socket.io/?EIO=4&transport=websocket"},
		{base: "https://example.edu/push", want: "wss://example.edu/socket.io/?EIO=4&transport=websocket"},
		{base: "http://localhost:3001/admin/", want: "ws://localhost:3001/socket.io/?EIO=4&transport=websocket"},
	}
	for _, tc := range cases {
		got, err := EndpointURL(tc.base)
		if err != nil {
			t.Fatalf("EndpointURL(%q) error: %v", tc.base, err)
		}
		if got != tc.want {
			t.Fatalf("EndpointURL(%q) = %q, want %q", tc.base, got, tc.want)
		}
	}
}

func TestEndpointURLRejectsBadInput(t *testing.T) {
	for _, base := range []string{"ftp://example.edu", "http://", "::"} {
		if _, err := EndpointURL(base); err == nil {
			t.Fatalf("expected %q to be rejected", base)
		}
	}
}
