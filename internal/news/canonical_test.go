package news

import "testing"

func TestCanonicalize(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"https://WWW.Bloomberg.COM/a?utm_source=x", "https://bloomberg.com/a"},
		{"http://www.bloomberg.com/a/", "https://bloomberg.com/a"},
		{"https://bloomberg.com/a#c", "https://bloomberg.com/a"},
		{"reuters.com/markets", "https://reuters.com/markets"},
		{"https://example.com:443/x", "https://example.com/x"},
		{"http://example.com:80/x", "https://example.com/x"},
		{"https://example.com/", "https://example.com/"},
		{"https://example.com/p?b=2&a=1", "https://example.com/p?a=1&b=2"},
		{"https://example.com/p?fbclid=abc&x=1&utm_campaign=z", "https://example.com/p?x=1"},
		{"https://example.com/p?gclid=1&utm_medium=2", "https://example.com/p"},
		{"  https://example.com/x  ", "https://example.com/x"},
	}
	for _, tc := range cases {
		if got := Canonicalize(tc.in); got != tc.want {
			t.Errorf("Canonicalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCanonicalizeIsIdempotent(t *testing.T) {
	inputs := []string{
		"https://WWW.Bloomberg.COM/a?utm_source=x",
		"http://example.com:80/x/?b=2&a=1#frag",
		"reuters.com/markets/",
	}
	for _, in := range inputs {
		once := Canonicalize(in)
		if twice := Canonicalize(once); twice != once {
			t.Errorf("not idempotent: %q -> %q -> %q", in, once, twice)
		}
	}
}

func TestCanonicalizeUnparseableReturnsInput(t *testing.T) {
	in := "://not a url"
	if got := Canonicalize(in); got != in {
		t.Errorf("unparseable input must come back unchanged, got %q", got)
	}
}

func TestHashID(t *testing.T) {
	id := HashID("https://bloomberg.com/a")
	if len(id) != 16 {
		t.Fatalf("id length = %d", len(id))
	}
	if id != HashID("https://bloomberg.com/a") {
		t.Error("id must be stable")
	}
	if id == HashID("https://bloomberg.com/b") {
		t.Error("distinct urls must not collide on these inputs")
	}
	for _, r := range id {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			t.Fatalf("non-hex rune %q in id", r)
		}
	}
}
