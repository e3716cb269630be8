// fleetupdate transport: byte-stream providers for update descriptors.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package transport supplies the default "open a byte stream for a
// URI" collaborator spec.md §6 names: http(s)://, file://, and
// sftp:// (the latter new domain-stack wiring for
// golang.org/x/crypto/ssh, exercising the dependency the teacher's
// pkg/crypto only used for PBKDF2). It is the sole implementation of
// the default Observer's OpenDownloadStream in pkg/update.
package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

const userAgent = "fleetupdate/1.0"

// Config holds the connect/read timeouts spec.md §4.8 and §5 name: 10s
// connect, 10s read, overridable by embedders.
type Config struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	// SSHAuth supplies the auth methods used for sftp:// sources. Left
	// nil, sftp:// URIs fail with an explicit error rather than
	// silently falling back to an unauthenticated connection.
	SSHAuth []ssh.AuthMethod
	// SSHHostKeyCallback validates the remote host key. There is no
	// default: left nil, sftp:// URIs fail with an explicit error.
	SSHHostKeyCallback ssh.HostKeyCallback
}

// DefaultConfig returns the 10s/10s timeouts spec.md §4.8 specifies.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    10 * time.Second,
	}
}

// Open returns a readable byte stream for uri, dispatching on scheme.
// It implements the "byte stream provider" external collaborator of
// spec.md §6.
func Open(ctx context.Context, uri string, cfg Config) (io.ReadCloser, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("transport: parse uri %q: %w", uri, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return openHTTP(ctx, uri, cfg)
	case "file":
		return openFile(u)
	case "sftp":
		return openSFTP(ctx, u, cfg)
	default:
		return nil, fmt.Errorf("transport: unsupported scheme %q", u.Scheme)
	}
}

func openHTTP(ctx context.Context, uri string, cfg Config) (io.ReadCloser, error) {
	client := &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
		},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: request %s: %w", uri, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("transport: %s returned status %d", uri, resp.StatusCode)
	}
	return &readTimeoutBody{body: resp.Body, timeout: cfg.ReadTimeout}, nil
}

func openFile(u *url.URL) (io.ReadCloser, error) {
	path := u.Path
	if u.Host != "" && u.Host != "localhost" {
		path = u.Host + path
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", path, err)
	}
	return f, nil
}

// readTimeoutBody enforces a per-Read deadline by racing the
// underlying Read against a timer, since http.Response.Body has no
// native read-deadline knob once the connection is established.
type readTimeoutBody struct {
	body    io.ReadCloser
	timeout time.Duration
}

func (r *readTimeoutBody) Read(p []byte) (int, error) {
	if r.timeout <= 0 {
		return r.body.Read(p)
	}
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := r.body.Read(p)
		done <- result{n, err}
	}()
	select {
	case res := <-done:
		return res.n, res.err
	case <-time.After(r.timeout):
		return 0, fmt.Errorf("transport: read timed out after %s", r.timeout)
	}
}

func (r *readTimeoutBody) Close() error { return r.body.Close() }

// openSFTP opens a byte stream over an SSH exec channel running a
// remote "cat" of the requested path. golang.org/x/crypto/ssh has no
// bundled SFTP subprotocol; hand-rolling the SFTP wire format is the
// kind of patch/parser concern spec.md §1 places out of the core's
// scope, so this satisfies "open a byte stream for a URI" with the
// primitives the dependency actually provides, documented here rather
// than oversold as full SFTP.
func openSFTP(ctx context.Context, u *url.URL, cfg Config) (io.ReadCloser, error) {
	if len(cfg.SSHAuth) == 0 {
		return nil, fmt.Errorf("transport: sftp %s: no SSH auth method configured", u.String())
	}
	hostKeyCB := cfg.SSHHostKeyCallback
	if hostKeyCB == nil {
		return nil, fmt.Errorf("transport: sftp %s: no host key callback configured", u.String())
	}

	port := u.Port()
	if port == "" {
		port = "22"
	}
	addr := net.JoinHostPort(u.Hostname(), port)

	clientCfg := &ssh.ClientConfig{
		User:            u.User.Username(),
		Auth:            cfg.SSHAuth,
		HostKeyCallback: hostKeyCB,
		Timeout:         cfg.ConnectTimeout,
	}

	conn, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("transport: ssh dial %s: %w", addr, err)
	}
	session, err := conn.NewSession()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: ssh session: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		conn.Close()
		return nil, fmt.Errorf("transport: ssh stdout pipe: %w", err)
	}
	remotePath := u.Path
	if err := session.Start("cat " + shellQuote(remotePath)); err != nil {
		session.Close()
		conn.Close()
		return nil, fmt.Errorf("transport: ssh exec cat %s: %w", remotePath, err)
	}

	return &sshStream{session: session, conn: conn, stdout: stdout}, nil
}

func shellQuote(path string) string {
	return "'" + strings.ReplaceAll(path, "'", `'\''`) + "'"
}

type sshStream struct {
	session *ssh.Session
	conn    *ssh.Client
	stdout  io.Reader
}

func (s *sshStream) Read(p []byte) (int, error) { return s.stdout.Read(p) }

func (s *sshStream) Close() error {
	waitErr := s.session.Wait()
	s.session.Close()
	s.conn.Close()
	if waitErr != nil {
		return fmt.Errorf("transport: ssh session wait: %w", waitErr)
	}
	return nil
}

