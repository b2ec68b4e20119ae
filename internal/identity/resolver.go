// Package identity maps sender handles, including opaque linked identifiers,
// to phone-digit identities.
package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chat-dispatch-bot/internal/irisfast"
	"github.com/park285/chat-dispatch-bot/internal/obslog"
)

// Address suffixes used by the transport.
const (
	SuffixPhone     = "@s.whatsapp.net"
	SuffixPhoneLegc = "@c.us"
	SuffixLID       = "@lid"
	SuffixGroup     = "@g.us"
)

// Source records which step produced a resolution.
type Source int

const (
	SourceNone Source = iota
	SourcePhone
	SourceParticipant
	SourceCache
	SourceMapping
	SourceFallback
)

func (s Source) String() string {
	switch s {
	case SourcePhone:
		return "phone"
	case SourceParticipant:
		return "participant"
	case SourceCache:
		return "cache"
	case SourceMapping:
		return "mapping"
	case SourceFallback:
		return "fallback"
	}
	return "none"
}

// Resolution is a resolved phone identity plus where it came from.
type Resolution struct {
	Digits string
	Source Source
}

// Trusted is false for the raw-digit fallback, which can be wrong for some
// numbering plans and must not grant owner or sudo rights.
func (r Resolution) Trusted() bool {
	return r.Digits != "" && r.Source != SourceFallback && r.Source != SourceNone
}

// LIDMapper is the transport's own linked-identifier to phone lookup.
type LIDMapper interface {
	PhoneForLID(ctx context.Context, lid string) (string, error)
}

// Resolver resolves handles in the order phone-addressed, participant list,
// cache, transport mapping, raw digits. The cache only grows.
type Resolver struct {
	mapper  LIDMapper
	timeout time.Duration
	logger  *zap.Logger

	mu    sync.RWMutex
	cache map[string]string
}

func NewResolver(mapper LIDMapper, logger *zap.Logger) *Resolver {
	return &Resolver{
		mapper:  mapper,
		timeout: 3 * time.Second,
		logger:  obslog.Or(logger),
		cache:   make(map[string]string),
	}
}

// Resolve never fails; the worst case is a SourceFallback resolution.
func (r *Resolver) Resolve(ctx context.Context, handle string, participants []irisfast.Participant) Resolution {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return Resolution{}
	}
	if !IsLID(handle) {
		return Resolution{Digits: Digits(handle), Source: SourcePhone}
	}

	key := Bare(handle)
	for _, p := range participants {
		if !matchesLID(p, key) {
			continue
		}
		if d := Digits(p.PhoneNumber); d != "" {
			r.remember(key, d)
			return Resolution{Digits: d, Source: SourceParticipant}
		}
	}

	if d, ok := r.Cached(handle); ok {
		return Resolution{Digits: d, Source: SourceCache}
	}

	if r.mapper != nil {
		mctx, cancel := context.WithTimeout(ctx, r.timeout)
		phone, err := r.mapper.PhoneForLID(mctx, handle)
		cancel()
		if err == nil {
			if d := Digits(phone); d != "" {
				r.remember(key, d)
				return Resolution{Digits: d, Source: SourceMapping}
			}
		} else {
			r.logger.Debug("lid_mapping_miss", zap.String("lid", handle), zap.Error(err))
		}
	}

	r.logger.Warn("lid_unresolved", zap.String("lid", handle))
	return Resolution{Digits: Digits(handle), Source: SourceFallback}
}

// Cached returns the cached digits for an opaque handle.
func (r *Resolver) Cached(handle string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.cache[Bare(handle)]
	return d, ok
}

// Remember seeds the cache, e.g. from a transport contact sync.
func (r *Resolver) Remember(handle, phone string) {
	if d := Digits(phone); d != "" && IsLID(handle) {
		r.remember(Bare(handle), d)
	}
}

func (r *Resolver) remember(key, digits string) {
	r.mu.Lock()
	r.cache[key] = digits
	r.mu.Unlock()
}

func matchesLID(p irisfast.Participant, key string) bool {
	if p.LID != "" && Bare(p.LID) == key {
		return true
	}
	return IsLID(p.ID) && Bare(p.ID) == key
}

// IsLID reports an opaque linked-identifier handle.
func IsLID(handle string) bool {
	return strings.HasSuffix(strings.TrimSpace(handle), SuffixLID)
}

// IsGroup reports a group chat address.
func IsGroup(chatID string) bool {
	return strings.HasSuffix(strings.TrimSpace(chatID), SuffixGroup)
}

// Bare strips the device part (":12") and keeps user@server.
func Bare(handle string) string {
	handle = strings.TrimSpace(handle)
	at := strings.LastIndex(handle, "@")
	if at < 0 {
		return handle
	}
	user, server := handle[:at], handle[at:]
	if i := strings.Index(user, ":"); i >= 0 {
		user = user[:i]
	}
	return user + server
}

// Digits keeps only the decimal digits of the user part of a handle.
func Digits(handle string) string {
	user := Bare(handle)
	if at := strings.LastIndex(user, "@"); at >= 0 {
		user = user[:at]
	}
	var b strings.Builder
	for _, c := range user {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// PhoneJID builds the canonical storage identity for digits.
func PhoneJID(digits string) string {
	if digits == "" {
		return ""
	}
	return digits + SuffixPhone
}
