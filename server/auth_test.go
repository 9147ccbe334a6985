package server

import (
	"encoding/base64"
	"testing"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !checkPassword(hash, "hunter2") {
		t.Fatalf("expected the correct password to check out")
	}
	if checkPassword(hash, "wrong") {
		t.Fatalf("expected an incorrect password to fail")
	}
}

func TestParseBasicAuth(t *testing.T) {
	creds := base64.StdEncoding.EncodeToString([]byte("alice:s3cret"))
	user, pass, ok := parseBasicAuth("Basic " + creds)
	if !ok {
		t.Fatalf("expected parseBasicAuth to succeed")
	}
	if user != "alice" || pass != "s3cret" {
		t.Fatalf("expected alice/s3cret, got %s/%s", user, pass)
	}
}

func TestParseBasicAuthRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"Bearer abcdef",
		"Basic !!!not-base64!!!",
	}
	for _, header := range cases {
		if _, _, ok := parseBasicAuth(header); ok {
			t.Fatalf("expected %q to fail to parse", header)
		}
	}
}
