// Package oauth runs the Twitch implicit-grant login: a loopback listener
// receives the redirect, a small page moves the token from the URL fragment
// into the query string, and the token is handed to the credential manager.
// It also validates the stored token periodically.
package oauth

import (
	"bytes"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/onnwee/stream-bridge/config"
	"github.com/onnwee/stream-bridge/credentials"
	"github.com/onnwee/stream-bridge/telemetry"
	"github.com/onnwee/stream-bridge/twitchapi"
)

const (
	DefaultListenAddr  = "127.0.0.1:8080"
	DefaultRedirectURI = "http://localhost:8080/"

	writeTimeout = 5 * time.Second
)

const rewritePage = `<!DOCTYPE html>
<html><head><title>Twitch login</title></head><body>
<p id="status">Completing login...</p>
<script>
if (window.location.hash.length > 1) {
  window.location.replace("/?" + window.location.hash.substring(1));
} else {
  document.getElementById("status").textContent = "No token was returned. Close this window and try again.";
}
</script>
</body></html>`

const donePage = `<!DOCTYPE html>
<html><head><title>Twitch login</title></head><body>You may now close this window.</body></html>`

type Options struct {
	ListenAddr  string
	RedirectURI string
	Scopes      []string
	Browser     BrowserOpener
	// OnToken receives the access token from the redirect.
	OnToken func(token string)
}

// connReader pumps one accepted connection into chunks until it closes.
type connReader struct {
	conn   net.Conn
	chunks chan []byte
	done   chan struct{}
}

// Flow is polled from the integration tick. Only one flow runs at a time.
type Flow struct {
	cred *credentials.Credential
	opts Options
	log  *slog.Logger

	ln       net.Listener
	accepted chan net.Conn
	stop     chan struct{}
	cur      *connReader
	buf      []byte
}

func NewFlow(cred *credentials.Credential, opts Options) *Flow {
	if opts.ListenAddr == "" {
		opts.ListenAddr = DefaultListenAddr
	}
	if opts.RedirectURI == "" {
		opts.RedirectURI = DefaultRedirectURI
	}
	if opts.Scopes == nil {
		opts.Scopes = twitchapi.DefaultScopes
	}
	if opts.Browser == nil {
		opts.Browser = SystemBrowser{}
	}
	return &Flow{cred: cred, opts: opts, log: slog.Default().With(slog.String("component", "oauth"))}
}

// InProgress reports whether the listener is waiting for the redirect.
func (f *Flow) InProgress() bool { return f.ln != nil }

// Addr returns the listener address while a flow is running.
func (f *Flow) Addr() net.Addr {
	if f.ln == nil {
		return nil
	}
	return f.ln.Addr()
}

// Start validates the client id, opens the loopback listener and shows the
// authorization page. Starting again while in progress restarts the flow.
func (f *Flow) Start() error {
	clientID := f.cred.ClientID
	if !config.IsAlphanumeric(clientID) {
		return fmt.Errorf("oauth start: %w", config.ErrInvalidClientID)
	}
	f.Stop()

	authURL, err := twitchapi.BuildImplicitAuthorizeURL(clientID, f.opts.RedirectURI, f.opts.Scopes)
	if err != nil {
		return fmt.Errorf("oauth start: %w", err)
	}
	ln, err := net.Listen("tcp", f.opts.ListenAddr)
	if err != nil {
		return fmt.Errorf("oauth listen %s: %w", f.opts.ListenAddr, err)
	}
	f.ln = ln
	f.accepted = make(chan net.Conn)
	f.stop = make(chan struct{})
	go acceptLoop(ln, f.accepted, f.stop)

	telemetry.IncOAuthFlow()
	f.log.Info("oauth flow started", slog.String("listen", ln.Addr().String()))
	if err := f.opts.Browser.Open(authURL); err != nil {
		f.log.Warn("could not open browser, open the URL manually", slog.String("url", authURL), slog.Any("err", err))
	}
	return nil
}

// Stop closes the listener and any connection and clears the buffer.
// Safe in any state.
func (f *Flow) Stop() {
	if f.stop != nil {
		close(f.stop)
		f.stop = nil
	}
	if f.ln != nil {
		_ = f.ln.Close()
		f.ln = nil
	}
	f.dropConn()
	f.accepted = nil
	f.buf = nil
}

func (f *Flow) dropConn() {
	if f.cur != nil {
		close(f.cur.done)
		_ = f.cur.conn.Close()
		f.cur = nil
	}
	f.buf = f.buf[:0]
}

func acceptLoop(ln net.Listener, out chan<- net.Conn, stop <-chan struct{}) {
	for {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		select {
		case out <- c:
		case <-stop:
			_ = c.Close()
			return
		}
	}
}

func readLoop(r *connReader) {
	defer close(r.chunks)
	buf := make([]byte, 4096)
	for {
		n, err := r.conn.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case r.chunks <- chunk:
			case <-r.done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// Poll accepts at most one pending connection, appends received bytes without
// carriage returns and answers once a blank line ends the request head.
func (f *Flow) Poll() {
	if f.ln == nil {
		return
	}
	if f.cur == nil {
		select {
		case c := <-f.accepted:
			f.cur = &connReader{conn: c, chunks: make(chan []byte, 8), done: make(chan struct{})}
			go readLoop(f.cur)
		default:
			return
		}
	}
	eof := false
drain:
	for {
		select {
		case chunk, ok := <-f.cur.chunks:
			if !ok {
				eof = true
				break drain
			}
			for _, b := range chunk {
				if b != '\r' {
					f.buf = append(f.buf, b)
				}
			}
		default:
			break drain
		}
	}
	switch {
	case bytes.HasSuffix(f.buf, []byte("\n\n")):
		f.handleRequest()
	case eof:
		f.dropConn()
	}
}

func (f *Flow) handleRequest() {
	head := strings.TrimRight(string(f.buf), "\n")
	requestLine, _, _ := strings.Cut(head, "\n")
	parts := strings.Fields(requestLine)
	if len(parts) < 2 || parts[0] != "GET" {
		f.reply("404 Not Found", "")
		f.dropConn()
		return
	}
	target := parts[1]
	switch {
	case target == "/":
		f.reply("200 OK", rewritePage)
		f.dropConn()
	case strings.HasPrefix(target, "/?"):
		q, err := url.ParseQuery(target[2:])
		if err != nil {
			f.log.Warn("unparseable oauth redirect", slog.Any("err", err))
		}
		if token := q.Get("access_token"); token != "" {
			f.log.Info("oauth token received")
			if f.opts.OnToken != nil {
				f.opts.OnToken(token)
			}
		} else {
			f.log.Warn("oauth redirect without access_token", slog.String("error", q.Get("error")),
				slog.String("description", q.Get("error_description")))
		}
		f.reply("200 OK", donePage)
		f.Stop()
	default:
		f.reply("404 Not Found", "")
		f.dropConn()
	}
}

func (f *Flow) reply(status, body string) {
	resp := fmt.Sprintf("HTTP/1.1 %s\r\nContent-Type: text/html; charset=utf-8\r\nContent-Length: %d\r\nConnection: close\r\nCache-Control: max-age=0\r\n\r\n%s",
		status, len(body), body)
	_ = f.cur.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := f.cur.conn.Write([]byte(resp)); err != nil {
		f.log.Warn("oauth response write failed", slog.Any("err", err))
	}
}
