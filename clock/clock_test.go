package clock

import (
	"testing"
	"time"
)

type fakeSource struct{ t time.Time }

func (f *fakeSource) Now() time.Time { return f.t }

func TestNow_StableWithinRequestUntilReset(t *testing.T) {
	src := &fakeSource{t: time.Unix(100, 0)}
	s := New(src)

	first := s.Now()
	src.t = time.Unix(200, 0)
	second := s.Now()

	if first != second {
		t.Fatalf("now changed without a reset: %d != %d", first, second)
	}

	s.PurgeToken(true) // reset
	third := s.Now()
	if third == first {
		t.Fatal("now should change after a reset")
	}
}

func TestPurgeToken_GeneratesOnFirstUse(t *testing.T) {
	s := New(&fakeSource{t: time.Unix(1, 0)})
	tok := s.PurgeToken(false)
	if tok == "" {
		t.Fatal("expected a token on first use")
	}
	again := s.PurgeToken(false)
	if tok != again {
		t.Fatal("non-reset calls must return the same token")
	}
}

func TestCompare_IdenticalStrings(t *testing.T) {
	if Compare(Token("5-aaa"), Token("5-aaa")) != 0 {
		t.Fatal("identical tokens must compare equal")
	}
}

func TestCompare_DifferentMicrotime(t *testing.T) {
	if Compare(Token("10-aaa"), Token("5-bbb")) <= 0 {
		t.Fatal("10-aaa should compare greater than 5-bbb")
	}
	if Compare(Token("5-bbb"), Token("10-aaa")) >= 0 {
		t.Fatal("5-bbb should compare less than 10-aaa")
	}
}

func TestCompare_SameMicrotimeDifferentSuffixIsZero(t *testing.T) {
	if Compare(Token("5-aaa"), Token("5-bbb")) != 0 {
		t.Fatal("same-microtime distinct-suffix tokens must have zero ordering")
	}
}

func TestStrictlyNewer_SameMicrotimeIsNotNewer(t *testing.T) {
	if StrictlyNewer(Token("5-aaa"), Token("5-bbb")) {
		t.Fatal("same-microtime distinct-suffix must not be strictly newer")
	}
}

func TestStrictlyNewer_LaterMicrotimeIsNewer(t *testing.T) {
	if !StrictlyNewer(Token("10-aaa"), Token("5-bbb")) {
		t.Fatal("10-aaa must be strictly newer than 5-bbb")
	}
}
