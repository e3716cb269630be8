package properties

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/mattcburns/fleetupdate/pkg/ferrors"
)

// placeholderPattern matches ${key}. Go's regexp (RE2) has no
// lookbehind, so the "don't rewrite inside an existing placeholder"
// guard described in spec.md §4.2 is applied procedurally in imply,
// not as part of this pattern — see replaceGuarded and
// insidePlaceholder below.
var placeholderPattern = regexp.MustCompile(`\$\{([^{}]+)\}`)

// Manager resolves ${key} placeholders for one operating system,
// matching spec.md's PropertyManager.
type Manager struct {
	currentOS OS
	resolved  map[string]string
	// foreignOnly holds keys that appear only in a Property scoped to
	// an OS other than currentOS -- referenced by ignore_foreign_property.
	foreignOnly map[string]bool
	// processEnv stands in for the host's own "process properties"
	// (e.g. a Java System.getProperty equivalent); consulted before
	// environment variables during fixed-point resolution.
	processEnv map[string]string
}

// Options configures NewManager.
type Options struct {
	// SystemKeys names the process-inherited properties (by key) that
	// participate in resolution, drawn from ProcessEnv.
	SystemKeys []string
	// ProcessEnv supplies process-scoped property values (stand-in for
	// Java's System properties); looked up before os.LookupEnv.
	ProcessEnv map[string]string
}

// NewManager builds a Manager for currentOS from the property list and
// options. It resolves every property eagerly, so a cyclic or
// unresolved property graph makes NewManager itself return an error.
func NewManager(currentOS OS, props []Property, opts Options) (*Manager, error) {
	for _, p := range props {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}

	pending := map[string]string{}
	foreignOnly := map[string]bool{}
	seenAnyOS := map[string]bool{}

	// (1) system properties named in opts.SystemKeys.
	for _, k := range opts.SystemKeys {
		if v, ok := opts.ProcessEnv[k]; ok {
			pending[k] = v
		}
	}
	// (2) non-OS properties.
	for _, p := range props {
		if p.OS == Any {
			pending[p.Key] = p.Value
			seenAnyOS[p.Key] = true
		}
	}
	// (3) OS-matching properties override earlier entries.
	for _, p := range props {
		if p.OS != Any && p.OS == currentOS {
			pending[p.Key] = p.Value
			seenAnyOS[p.Key] = true
		}
	}
	// Track keys that exist only under a foreign OS scope, for
	// ignore_foreign_property mode.
	for _, p := range props {
		if p.OS != Any && p.OS != currentOS {
			if _, stillPending := pending[p.Key]; !stillPending {
				foreignOnly[p.Key] = true
			}
		}
	}

	m := &Manager{
		currentOS:   currentOS,
		resolved:    map[string]string{},
		foreignOnly: foreignOnly,
		processEnv:  opts.ProcessEnv,
	}
	if err := m.resolveAll(pending); err != nil {
		return nil, err
	}
	return m, nil
}

// resolveAll runs the fixed-point worklist described in spec.md §4.2:
// pull out every value with no placeholder, substitute newly resolved
// keys into the rest, and on a stalled pass consult the environment
// for the unresolved dependencies of the stalled values before failing.
func (m *Manager) resolveAll(pending map[string]string) error {
	for len(pending) > 0 {
		progressed := false
		for k, v := range pending {
			if !placeholderPattern.MatchString(v) {
				m.resolved[k] = v
				delete(pending, k)
				progressed = true
			}
		}
		if len(pending) == 0 {
			return nil
		}
		if progressed {
			m.substituteInto(pending)
			continue
		}

		// No progress: find one pending value referencing a key not in
		// pending, and look it up in the environment.
		found := false
		for _, v := range pending {
			for _, match := range placeholderPattern.FindAllStringSubmatch(v, -1) {
				key := match[1]
				if _, stillPending := pending[key]; stillPending {
					continue
				}
				if _, already := m.resolved[key]; already {
					continue
				}
				val, ok := m.lookupEnvironment(key)
				if !ok {
					continue
				}
				if placeholderPattern.MatchString(val) {
					return ferrors.New("properties.Resolve", ferrors.CyclicProperty,
						fmt.Errorf("environment value for %q must not itself contain a placeholder", key))
				}
				m.resolved[key] = val
				found = true
			}
		}
		if !found {
			return ferrors.New("properties.Resolve", ferrors.CyclicProperty,
				fmt.Errorf("no progress resolving properties and no environment lookup available"))
		}
		m.substituteInto(pending)
	}
	return nil
}

func (m *Manager) lookupEnvironment(key string) (string, bool) {
	if v, ok := m.processEnv[key]; ok {
		return v, true
	}
	if v, ok := os.LookupEnv(key); ok {
		return v, true
	}
	return "", false
}

// substituteInto replaces every newly-resolved key inside the
// remaining pending values, in place.
func (m *Manager) substituteInto(pending map[string]string) {
	for k, v := range pending {
		pending[k] = placeholderPattern.ReplaceAllStringFunc(v, func(token string) string {
			key := placeholderPattern.FindStringSubmatch(token)[1]
			if rv, ok := m.resolved[key]; ok {
				return rv
			}
			return token
		})
	}
}

// ResolveOptions configures a single Resolve call.
type ResolveOptions struct {
	IsPath               bool
	IgnoreForeignProperty bool
}

// Resolve replaces every ${key} in s with its resolved value. If
// IsPath is set, backslashes are normalized to forward slashes. An
// unresolved key fails with UnresolvedProperty unless
// IgnoreForeignProperty is set and the key is known only from a
// foreign-OS Property, in which case it is left verbatim.
func (m *Manager) Resolve(s string, opts ResolveOptions) (string, error) {
	var firstErr error
	out := placeholderPattern.ReplaceAllStringFunc(s, func(token string) string {
		if firstErr != nil {
			return token
		}
		key := placeholderPattern.FindStringSubmatch(token)[1]
		if v, ok := m.resolved[key]; ok {
			return v
		}
		if opts.IgnoreForeignProperty && m.foreignOnly[key] {
			return token
		}
		firstErr = ferrors.New("properties.Resolve", ferrors.UnresolvedProperty,
			fmt.Errorf("unresolved property %q", key))
		return token
	})
	if firstErr != nil {
		return "", firstErr
	}
	if opts.IsPath {
		out = strings.ReplaceAll(out, `\`, "/")
	}
	return out, nil
}

// ImplyPolicy selects how Imply rewrites literal substrings back into
// ${key} placeholders.
type ImplyPolicy int

const (
	PolicyNone ImplyPolicy = iota
	PolicyFullMatch
	PolicyWholeWord // default
	PolicyEveryOccurrence
)

var wordBoundary = regexp.MustCompile(`\w`)

// Imply applies the reverse-abstraction transformation: literal
// substrings matching a resolved property's value are rewritten to
// ${key}, longest values first so a longer match is never shadowed by
// a shorter one sharing a prefix/suffix.
func (m *Manager) Imply(s string, policy ImplyPolicy, isPath bool) string {
	if policy == PolicyNone {
		return s
	}
	candidate := s
	if isPath {
		candidate = strings.ReplaceAll(candidate, `\`, "/")
	}

	type kv struct{ key, value string }
	entries := make([]kv, 0, len(m.resolved))
	for k, v := range m.resolved {
		if v == "" {
			continue
		}
		entries = append(entries, kv{k, v})
	}
	sort.Slice(entries, func(i, j int) bool {
		if len(entries[i].value) != len(entries[j].value) {
			return len(entries[i].value) > len(entries[j].value)
		}
		return entries[i].key < entries[j].key
	})

	switch policy {
	case PolicyFullMatch:
		for _, e := range entries {
			if candidate == e.value {
				return "${" + e.key + "}"
			}
		}
		return candidate
	case PolicyWholeWord:
		for _, e := range entries {
			candidate = replaceGuarded(candidate, e.key, e.value, true)
		}
		return candidate
	case PolicyEveryOccurrence:
		for _, e := range entries {
			candidate = replaceGuarded(candidate, e.key, e.value, false)
		}
		return candidate
	default:
		return candidate
	}
}

// replaceGuarded rewrites occurrences of value with ${key}, skipping
// any occurrence that already sits inside a ${...} placeholder and
// -- when wholeWord is set -- any occurrence not at a word boundary.
func replaceGuarded(s, key, value string, wholeWord bool) string {
	if value == "" {
		return s
	}
	var b strings.Builder
	i := 0
	for {
		idx := strings.Index(s[i:], value)
		if idx < 0 {
			b.WriteString(s[i:])
			break
		}
		start := i + idx
		end := start + len(value)
		b.WriteString(s[i:start])

		if insidePlaceholder(s, start) {
			b.WriteString(value)
			i = end
			continue
		}
		if wholeWord && !isWordBoundaryMatch(s, start, end) {
			b.WriteString(value)
			i = end
			continue
		}
		b.WriteString("${")
		b.WriteString(key)
		b.WriteString("}")
		i = end
	}
	return b.String()
}

// insidePlaceholder reports whether position pos in s falls inside an
// existing ${...} span, emulating the lookbehind guard from spec.md
// §4.2 without relying on RE2 lookbehind support.
func insidePlaceholder(s string, pos int) bool {
	open := strings.LastIndex(s[:pos], "${")
	if open < 0 {
		return false
	}
	closeIdx := strings.Index(s[open:], "}")
	if closeIdx < 0 {
		return false
	}
	return open+closeIdx >= pos
}

func isWordBoundaryMatch(s string, start, end int) bool {
	if start > 0 && wordBoundary.MatchString(string(s[start-1])) {
		return false
	}
	if end < len(s) && wordBoundary.MatchString(string(s[end])) {
		return false
	}
	return true
}

// Snapshot returns a copy of the fully-resolved property map, for
// callers that need direct access rather than per-string resolution.
func (m *Manager) Snapshot() map[string]string {
	out := make(map[string]string, len(m.resolved))
	for k, v := range m.resolved {
		out[k] = v
	}
	return out
}
