package ratelimit

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

type Action string

const (
	ActionContactSubmit    Action = "contact_submit"
	ActionNewsletterSignup Action = "newsletter_signup"
	ActionLoginAttempt     Action = "login_attempt"
)

type Rule struct {
	Limit  int
	Window time.Duration
}

// DefaultRule applies to actions without a rule of their own.
var DefaultRule = Rule{Limit: 5, Window: time.Minute}

func DefaultRules() map[Action]Rule {
	return map[Action]Rule{
		ActionContactSubmit:    {Limit: 5, Window: time.Minute},
		ActionNewsletterSignup: {Limit: 5, Window: time.Minute},
		ActionLoginAttempt:     {Limit: 10, Window: 5 * time.Minute},
	}
}

type Decision struct {
	Allowed   bool
	Remaining int
	// RetryAfter is set only when the attempt was rejected, and is always positive then.
	RetryAfter time.Duration
}

type bucketKey struct {
	identifier string
	action     Action
}

type bucket struct {
	// ascending, all within the last window
	events []time.Time
	window time.Duration
}

// prune drops events at or before now-window.
func (b *bucket) prune(now time.Time) {
	cutoff := now.Add(-b.window)
	i := 0
	for i < len(b.events) && !b.events[i].After(cutoff) {
		i++
	}
	if i > 0 {
		b.events = append(b.events[:0], b.events[i:]...)
	}
}

// Limiter is a sliding-window log limiter keyed by (identifier, action).
// Within any window of length W no key ever gets more than N accepted events.
type Limiter struct {
	mutex   sync.Mutex
	rules   map[Action]Rule
	buckets map[bucketKey]*bucket
	now     func() time.Time
}

func NewLimiter(rules map[Action]Rule) *Limiter {
	copied := make(map[Action]Rule, len(rules))
	for action, rule := range rules {
		if rule.Limit <= 0 || rule.Window <= 0 {
			log.Warnf("rate limiter: ignoring invalid rule for [%s]: %+v", action, rule)
			continue
		}
		copied[action] = rule
	}
	return &Limiter{
		rules:   copied,
		buckets: make(map[bucketKey]*bucket),
		now:     time.Now,
	}
}

func (l *Limiter) Rule(action Action) Rule {
	if rule, ok := l.rules[action]; ok {
		return rule
	}
	return DefaultRule
}

// Check records the attempt if it fits into the window, or rejects it.
func (l *Limiter) Check(identifier string, action Action) Decision {
	rule := l.Rule(action)
	key := bucketKey{identifier: identifier, action: action}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{window: rule.Window}
		l.buckets[key] = b
	}
	b.prune(now)

	if len(b.events) >= rule.Limit {
		retryAfter := b.events[0].Add(rule.Window).Sub(now)
		if retryAfter <= 0 {
			retryAfter = time.Millisecond
		}
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: retryAfter,
		}
	}

	b.events = append(b.events, now)
	return Decision{
		Allowed:   true,
		Remaining: rule.Limit - len(b.events),
	}
}

// Sweep evicts keys idle for longer than their window.
func (l *Limiter) Sweep() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	now := l.now()
	removed := 0
	for key, b := range l.buckets {
		b.prune(now)
		if len(b.events) == 0 {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

func (l *Limiter) Len() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return len(l.buckets)
}

func (l *Limiter) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debugln("rate limiter: sweeper stopped")
			return
		case <-ticker.C:
			if removed := l.Sweep(); removed > 0 {
				log.Tracef("rate limiter: evicted %d idle keys", removed)
			}
		}
	}
}
