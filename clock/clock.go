// Package clock implements the process-scoped "now" and purge-token
// service: two items — the monotonic now and the purge token — are
// process-wide, so they are modeled as a small service with explicit
// init-at-first-use and reset-together lifecycle, guarded by a plain
// mutex (token generation is nowhere near hot enough for anything
// fancier).
package clock

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Token is a purge token: "<microtime>-<suffix>", totally ordered by its
// microtime prefix. Equal strings compare equal; unequal microtimes
// decide order; equal-microtime-distinct-suffix tokens are distinct
// identities with zero ordering (see Compare).
type Token string

// Source supplies wall-clock time; overridden in tests for determinism.
type Source interface {
	Now() time.Time
}

type realSource struct{}

func (realSource) Now() time.Time { return time.Now() }

// Service is the process-scoped clock + purge-token generator. The zero
// value is not usable; construct with New. A single process-wide instance
// is exposed via Default for production code; tests construct their own
// with a fake Source.
type Service struct {
	mu     sync.Mutex
	src    Source
	nowUS  int64 // cached microsecond instant for the current "request"; 0 = unset
	token  Token // current purge token; "" = never generated
	suffix func() string
}

// New constructs a Service using src for time and a uuid-derived suffix
// generator (overridable in tests via WithSuffixFunc).
func New(src Source) *Service {
	if src == nil {
		src = realSource{}
	}
	return &Service{src: src, suffix: defaultSuffix}
}

// WithSuffixFunc overrides the unique-suffix generator (tests only).
func (s *Service) WithSuffixFunc(f func() string) *Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suffix = f
	return s
}

func defaultSuffix() string {
	return uuid.New().String()[:8]
}

// Default is the process-wide clock/purge-token service used when no
// explicit Service is threaded through.
var Default = New(nil)

// Now returns the first observed instant (microseconds since epoch) since
// the last reset; subsequent calls return the same instant until the
// purge token is regenerated.
func (s *Service) Now() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nowLocked()
}

func (s *Service) nowLocked() int64 {
	if s.nowUS == 0 {
		s.nowUS = s.src.Now().UnixMicro()
	}
	return s.nowUS
}

// NowSeconds is a convenience for TTL arithmetic, which envelope expiry
// expresses in whole seconds (now + ttl).
func (s *Service) NowSeconds() int64 {
	return s.Now() / 1_000_000
}

// PurgeToken returns the current token, generating one on first use. If
// reset is true, both the cached "now" and the current token are cleared
// first, so a fresh instant and a fresh token are produced.
func (s *Service) PurgeToken(reset bool) Token {
	s.mu.Lock()
	defer s.mu.Unlock()

	if reset || s.token == "" {
		s.nowUS = 0
		micro := s.nowLocked()
		s.token = Token(fmt.Sprintf("%d-%s", micro, s.suffix()))
	}
	return s.token
}

// prefix extracts the microtime prefix of a token. Tokens are always
// produced by PurgeToken, so the format is trusted; a malformed token
// (e.g. hand-constructed in a test) parses as prefix 0.
func prefix(t Token) int64 {
	s := string(t)
	for i := 0; i < len(s); i++ {
		if s[i] == '-' {
			var v int64
			for j := 0; j < i; j++ {
				if s[j] < '0' || s[j] > '9' {
					return 0
				}
				v = v*10 + int64(s[j]-'0')
			}
			return v
		}
	}
	return 0
}

// Compare orders two tokens by microtime prefix:
//   - 0 if the tokens are identical strings,
//   - 0 if the microtime prefixes are equal but the suffixes differ
//     (distinct identities, but no strict order between them — a
//     concurrent token in the same instant, tolerated conservatively),
//   - otherwise the sign of (prefix(a) - prefix(b)).
func Compare(a, b Token) int {
	if a == b {
		return 0
	}
	pa, pb := prefix(a), prefix(b)
	switch {
	case pa > pb:
		return 1
	case pa < pb:
		return -1
	default:
		return 0
	}
}

// StrictlyNewer reports whether candidate's microtime prefix is strictly
// greater than baseline's — the exact test the event-invalidation engine
// uses to decide whether a recorded token supersedes a loader's
// lastinvalidation. Equal-microtime-different-suffix tokens are not
// strictly newer: a concurrent token in the same instant must not
// trigger a second invalidation.
func StrictlyNewer(candidate, baseline Token) bool {
	return prefix(candidate) > prefix(baseline)
}
