// Package execctx holds the mutable key/value environment threaded through a
// single supervised run.
package execctx

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Well-known keys.
const (
	KeyExecutionID      = "ExecutionId"
	KeyExecution        = "_execution"
	KeyHost             = "Host"
	KeyExitCode         = "ExitCode"
	KeyDuration         = "Duration"
	KeyStdOut           = "StdOut"
	KeyStdErr           = "StdErr"
	KeyAttempts         = "Attempts"
	KeyTerminationCause = "TerminationCause"
)

var envName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Context is the execution environment of one run. Values are strings for
// keys seeded from the OS environment; actions may store any JSON-compatible
// value.
type Context struct {
	mu     sync.RWMutex
	values map[string]any
}

// New returns an empty context.
func New() *Context {
	return &Context{values: make(map[string]any)}
}

// FromEnviron seeds a context from KEY=VALUE pairs such as os.Environ().
// Malformed entries are ignored.
func FromEnviron(environ []string) *Context {
	c := New()
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		c.values[k] = v
	}
	return c
}

// ExecutionID returns the orchestrator-provided execution identifier, or
// stores and returns a generated one.
func (c *Context) ExecutionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.values[KeyExecutionID]; ok {
		if s := Stringify(v); s != "" {
			return s
		}
	}
	id := uuid.NewString()
	c.values[KeyExecutionID] = id
	return id
}

// Set stores a value.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	c.values[key] = value
	c.mu.Unlock()
}

// Update stores every entry of values.
func (c *Context) Update(values map[string]any) {
	c.mu.Lock()
	for k, v := range values {
		c.values[k] = v
	}
	c.mu.Unlock()
}

// Delete removes a key.
func (c *Context) Delete(key string) {
	c.mu.Lock()
	delete(c.values, key)
	c.mu.Unlock()
}

// Get returns the raw value of key, or nil.
func (c *Context) Get(key string) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[key]
}

// Lookup returns the raw value of key and whether it is present.
func (c *Context) Lookup(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// String returns the value of key rendered as a string.
func (c *Context) String(key string) (string, bool) {
	v, ok := c.Lookup(key)
	if !ok {
		return "", false
	}
	return Stringify(v), true
}

// Keys returns the sorted list of keys.
func (c *Context) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of keys.
func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.values)
}

// Snapshot returns a shallow copy of the values.
func (c *Context) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Environ renders the context as KEY=VALUE pairs for a child process. Only
// keys that are valid environment variable names are exported.
func (c *Context) Environ() []string {
	keys := c.Keys()
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if !envName.MatchString(k) {
			continue
		}
		s, _ := c.String(k)
		out = append(out, k+"="+s)
	}
	return out
}

// Stringify renders a context value. Strings pass through, scalars use their
// natural form and composite values are encoded as JSON.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case fmt.Stringer:
		return t.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
