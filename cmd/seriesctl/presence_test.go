package main

import "testing"

func TestPresenceURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8080":   "ws://localhost:8080/api/v1/series/s%201/presence?player=p%2B1",
		"https://caro.test/base/": "wss://caro.test/base/api/v1/series/s%201/presence?player=p%2B1",
	}
	for base, want := range cases {
		pc, err := newPresenceClient(base, "s 1", "p+1")
		if err != nil {
			t.Fatalf("%s: %v", base, err)
		}
		if pc.url != want {
			t.Fatalf("%s: got %s want %s", base, pc.url, want)
		}
	}
	if _, err := newPresenceClient("ftp://x", "s", "p"); err == nil {
		t.Fatalf("expected scheme error")
	}
}
