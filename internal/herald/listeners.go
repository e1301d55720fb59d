package herald

import (
	"regexp"
	"strings"
	"sync"
)

// Listener is the capability a subscriber implements to receive delivery
// (§4.3.2). herald_message runs on a worker-pool goroutine; implementations
// must tolerate concurrent/reentrant calls.
type Listener interface {
	HeraldMessage(engine *Engine, received *MessageReceived)
}

// ListenerRegistry maps compiled subject glob patterns to the set of
// subscribers bound to them (§4.2). Storage is a map from filter string
// to its compiled pattern and subscriber set — matching a subject scans
// every compiled pattern and unions the hits;
// no ordering is guaranteed across subscribers.
type ListenerRegistry struct {
	mu       sync.RWMutex
	patterns map[string]*compiledPattern
}

type compiledPattern struct {
	re   *regexp.Regexp
	subs map[Listener]struct{}
}

// NewListenerRegistry creates an empty registry.
func NewListenerRegistry() *ListenerRegistry {
	return &ListenerRegistry{patterns: make(map[string]*compiledPattern)}
}

// Bind subscribes l to every filter in filters, compiling each filter
// exactly once per registry (subsequent binds of the same filter string
// reuse the compiled pattern).
func (r *ListenerRegistry) Bind(l Listener, filters []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range filters {
		cp, err := r.compiledLocked(f)
		if err != nil {
			return err
		}
		cp.subs[l] = struct{}{}
	}
	return nil
}

// Update diffs oldFilters against newFilters and adjusts bindings so l
// ends up bound to exactly newFilters.
func (r *ListenerRegistry) Update(l Listener, oldFilters, newFilters []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	oldSet := toSet(oldFilters)
	newSet := toSet(newFilters)

	for f := range oldSet {
		if _, keep := newSet[f]; !keep {
			if cp, ok := r.patterns[f]; ok {
				delete(cp.subs, l)
				if len(cp.subs) == 0 {
					delete(r.patterns, f)
				}
			}
		}
	}
	for f := range newSet {
		if _, had := oldSet[f]; !had {
			cp, err := r.compiledLocked(f)
			if err != nil {
				return err
			}
			cp.subs[l] = struct{}{}
		}
	}
	return nil
}

// Unbind removes l from every filter in filters (or all filters, if
// filters is nil).
func (r *ListenerRegistry) Unbind(l Listener, filters []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if filters == nil {
		for f, cp := range r.patterns {
			delete(cp.subs, l)
			if len(cp.subs) == 0 {
				delete(r.patterns, f)
			}
		}
		return
	}
	for _, f := range filters {
		if cp, ok := r.patterns[f]; ok {
			delete(cp.subs, l)
			if len(cp.subs) == 0 {
				delete(r.patterns, f)
			}
		}
	}
}

// Match returns the union of subscribers whose pattern matches subject,
// taken under the registry lock the way §4.2 requires (a single atomic
// snapshot, not a scan that can race a concurrent Bind/Unbind).
func (r *ListenerRegistry) Match(subject string) []Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[Listener]struct{})
	var out []Listener
	for _, cp := range r.patterns {
		if !cp.re.MatchString(subject) {
			continue
		}
		for l := range cp.subs {
			if _, dup := seen[l]; dup {
				continue
			}
			seen[l] = struct{}{}
			out = append(out, l)
		}
	}
	return out
}

func (r *ListenerRegistry) compiledLocked(filter string) (*compiledPattern, error) {
	if cp, ok := r.patterns[filter]; ok {
		return cp, nil
	}
	re, err := regexp.Compile("(?i)^" + globToRegexBody(filter) + "$")
	if err != nil {
		return nil, err
	}
	cp := &compiledPattern{re: re, subs: make(map[Listener]struct{})}
	r.patterns[filter] = cp
	return cp, nil
}

// globToRegexBody translates a glob filter (*, ?, character classes) to
// the body of a case-insensitive regular expression, matching the subset
// of glob syntax §4.2 names.
func globToRegexBody(glob string) string {
	var b strings.Builder
	inClass := false
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		if inClass {
			if c == ']' {
				inClass = false
			}
			b.WriteByte(c)
			continue
		}
		switch c {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '[':
			inClass = true
			b.WriteByte(c)
		case '.', '+', '(', ')', '|', '^', '$', '{', '}', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func toSet(ss []string) map[string]struct{} {
	m := make(map[string]struct{}, len(ss))
	for _, s := range ss {
		m[s] = struct{}{}
	}
	return m
}
