package server

import "testing"

func TestDecodePathInPlace(t *testing.T) {
	cases := map[string]string{
		"/hello%20world":  "/hello world",
		"/a/b/c":          "/a/b/c",
		"/caf%C3%A9":      "/caf\xc3\xa9",
		"/100%25done":     "/100%done",
		"/no+plus":        "/no+plus", // '+' is only space in query values, not paths
		"/trailing%2":     "/trailing%2", // malformed escape copied through verbatim
	}
	for in, want := range cases {
		if got := decodePathInPlace(in); got != want {
			t.Fatalf("decodePathInPlace(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPercentDecodeQueryPlusAsSpace(t *testing.T) {
	src := []byte("a+b%20c")
	dst := make([]byte, len(src))
	n := percentDecode(dst, src, true)
	if got := string(dst[:n]); got != "a b c" {
		t.Fatalf("expected %q, got %q", "a b c", got)
	}
}

func TestPercentDecodeNeverGrows(t *testing.T) {
	src := []byte("%41%42%43")
	n := percentDecode(src, src, false)
	if got := string(src[:n]); got != "ABC" {
		t.Fatalf("expected in-place decode to %q, got %q", "ABC", got)
	}
}
