// Package irc parses the IRC-style lines spoken by Twitch chat: an optional
// @tags block, an optional :prefix block, a command and its params.
package irc

import (
	"errors"
	"strings"
)

// ErrMalformed is returned for lines that do not follow the grammar.
var ErrMalformed = errors.New("irc: malformed line")

// Tags is an insertion-ordered tag map. The zero value is empty and usable.
type Tags struct {
	keys   []string
	values map[string]string
}

// Get returns the value for key or "" when absent.
func (t Tags) Get(key string) string { return t.values[key] }

// Lookup returns the value for key and whether it was present.
func (t Tags) Lookup(key string) (string, bool) {
	v, ok := t.values[key]
	return v, ok
}

// Keys returns tag keys in the order they appeared.
func (t Tags) Keys() []string { return append([]string(nil), t.keys...) }

// Len returns the number of distinct tags.
func (t Tags) Len() int { return len(t.keys) }

// Set adds or replaces a tag; a replaced tag keeps its original position.
func (t *Tags) Set(key, value string) {
	if t.values == nil {
		t.values = make(map[string]string)
	}
	if _, ok := t.values[key]; !ok {
		t.keys = append(t.keys, key)
	}
	t.values[key] = value
}

// Message is one parsed line.
type Message struct {
	Raw     string
	Tags    Tags
	Prefix  string
	Nick    string
	User    string
	Host    string
	Command string
	Params  []string
	// Trailing is set when the last param was introduced by ':'.
	Trailing bool
}

// Param returns the i-th param or "".
func (m *Message) Param(i int) string {
	if i < 0 || i >= len(m.Params) {
		return ""
	}
	return m.Params[i]
}

// ParamString re-serializes the params tail as it appeared on the wire.
func (m *Message) ParamString() string {
	if len(m.Params) == 0 {
		return ""
	}
	last := len(m.Params) - 1
	if !m.Trailing {
		return strings.Join(m.Params, " ")
	}
	head := strings.Join(m.Params[:last], " ")
	if head == "" {
		return ":" + m.Params[last]
	}
	return head + " :" + m.Params[last]
}

// Parse parses a single line. Trailing CR/LF is ignored.
func Parse(line string) (*Message, error) {
	line = strings.TrimRight(line, "\r\n")
	m := &Message{Raw: line}
	rest := line

	if strings.HasPrefix(rest, "@") {
		block, tail, ok := strings.Cut(rest[1:], " ")
		if !ok {
			return nil, ErrMalformed
		}
		for _, part := range strings.Split(block, ";") {
			if part == "" {
				continue
			}
			k, v, _ := strings.Cut(part, "=")
			m.Tags.Set(k, unescapeTag(v))
		}
		rest = strings.TrimLeft(tail, " ")
	}

	if strings.HasPrefix(rest, ":") {
		prefix, tail, ok := strings.Cut(rest[1:], " ")
		if !ok {
			return nil, ErrMalformed
		}
		m.Prefix = prefix
		m.Nick, m.User, m.Host = splitPrefix(prefix)
		rest = strings.TrimLeft(tail, " ")
	}

	cmd, tail, _ := strings.Cut(rest, " ")
	if cmd == "" {
		return nil, ErrMalformed
	}
	m.Command = cmd
	rest = tail

	for {
		rest = strings.TrimLeft(rest, " ")
		if rest == "" {
			break
		}
		if rest[0] == ':' {
			m.Params = append(m.Params, rest[1:])
			m.Trailing = true
			break
		}
		var p string
		p, rest, _ = strings.Cut(rest, " ")
		m.Params = append(m.Params, p)
	}
	return m, nil
}

// splitPrefix splits nick!user@host. No '!' means no nick, no '@' means no user.
func splitPrefix(prefix string) (nick, user, host string) {
	rest := prefix
	if i := strings.IndexByte(rest, '!'); i >= 0 {
		nick, rest = rest[:i], rest[i+1:]
	}
	if i := strings.IndexByte(rest, '@'); i >= 0 {
		user, rest = rest[:i], rest[i+1:]
	}
	return nick, user, rest
}

var tagUnescaper = strings.NewReplacer(`\:`, ";", `\s`, " ", `\\`, `\`, `\r`, "\r", `\n`, "\n")

func unescapeTag(v string) string {
	if !strings.Contains(v, `\`) {
		return v
	}
	return tagUnescaper.Replace(v)
}

// SplitLines splits a frame on LF or CRLF and drops empty lines.
func SplitLines(packet string) []string {
	parts := strings.Split(packet, "\n")
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSuffix(p, "\r")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// FormatLine builds an outbound line. The last param is sent as a trailing
// param when it is empty, contains a space, or starts with ':'.
func FormatLine(command string, params ...string) string {
	var b strings.Builder
	b.WriteString(command)
	for i, p := range params {
		b.WriteByte(' ')
		if i == len(params)-1 && (p == "" || strings.ContainsRune(p, ' ') || strings.HasPrefix(p, ":")) {
			b.WriteByte(':')
		}
		b.WriteString(p)
	}
	return b.String()
}
