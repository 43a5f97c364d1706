package natskv

import (
	"regexp"
	"testing"
)

var validKey = regexp.MustCompile(`^[-/_=.a-zA-Z0-9]+$`)

func TestEncodeKey(t *testing.T) {
	for _, k := range []string{"history:q-1", "history:ACME SARL/42", "é"} {
		if got := encodeKey(k); !validKey.MatchString(got) {
			t.Errorf("encodeKey(%q) = %q is not a valid KV key", k, got)
		}
	}
	if encodeKey("a") == encodeKey("b") {
		t.Error("distinct keys must not collide")
	}
}
