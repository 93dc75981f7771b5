// Package client opens interactive SSH sessions to network devices and runs CLI commands on them.
package client

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
)

var (
	ansiEscape     = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]`)
	passwordPrompt = regexp.MustCompile(`(?i)password:\s*$`)
)

// Descriptor names the device to connect to and the credentials to use.
type Descriptor struct {
	DeviceKind string // dialect tag, see Kinds
	Host       string // address, optionally with :port
	Username   string
	Password   string
}

func (d Descriptor) address() string {
	if _, _, err := net.SplitHostPort(d.Host); err == nil {
		return d.Host
	}
	return net.JoinHostPort(d.Host, DefaultPort)
}

// State is the lifecycle state of a Session.
type State int

const (
	StateOpen State = iota
	StateClosed
)

func (s State) String() string {
	if s == StateOpen {
		return "open"
	}
	return "closed"
}

// Session is an authenticated interactive CLI channel to one device.
// SendCommand calls must not run concurrently; Close may be called at any time.
type Session struct {
	host     string
	password string
	dialect  Dialect
	opts     *options

	conn    *ssh.Client
	session *ssh.Session
	stdin   io.Writer

	chunks  chan []byte
	readErr error
	done    chan struct{}

	prompt        string
	commandPrompt *regexp.Regexp

	cmdMu sync.Mutex
	mu    sync.Mutex
	state State
}

// Connect dials the device, authenticates, starts a shell and prepares the
// terminal according to the device kind. Any failure is a *ConnectionError and
// leaves nothing open behind.
func Connect(ctx context.Context, d Descriptor, opts ...Option) (*Session, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	fail := func(err error) (*Session, error) {
		return nil, &ConnectionError{Host: d.Host, Kind: d.DeviceKind, Err: err}
	}

	dialect, ok := LookupDialect(d.DeviceKind)
	if !ok {
		return fail(errors.Wrapf(ErrUnsupportedDeviceKind, "%q", d.DeviceKind))
	}
	if d.Host == "" {
		return fail(errors.New("host is required"))
	}
	if d.Username == "" {
		return fail(errors.New("username is required"))
	}

	cfg, release, err := o.clientConfig(d.Username, d.Password)
	if err != nil {
		return fail(err)
	}
	defer release()

	addr := d.address()
	slog.InfoContext(ctx, "Connecting to device", "host", addr, "kind", d.DeviceKind, "user", d.Username)

	dialer := net.Dialer{Timeout: o.connectTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fail(errors.Wrap(err, "dial"))
	}
	_ = raw.SetDeadline(time.Now().Add(o.connectTimeout))
	stop := context.AfterFunc(ctx, func() { _ = raw.Close() })
	c, chans, reqs, err := ssh.NewClientConn(raw, addr, cfg)
	if !stop() && err == nil {
		_ = c.Close()
		return fail(errors.Wrap(ctx.Err(), "handshake"))
	}
	if err != nil {
		_ = raw.Close()
		if ctx.Err() != nil {
			return fail(errors.Wrap(ctx.Err(), "handshake"))
		}
		if strings.Contains(err.Error(), "unable to authenticate") {
			return fail(errors.Wrap(ErrAuthentication, err.Error()))
		}
		return fail(errors.Wrap(err, "handshake"))
	}
	_ = raw.SetDeadline(time.Time{})
	slog.InfoContext(ctx, "SSH connection established", "host", addr)

	s := &Session{
		host:     d.Host,
		password: d.Password,
		dialect:  dialect,
		opts:     o,
		conn:     ssh.NewClient(c, chans, reqs),
		chunks:   make(chan []byte, 16),
		done:     make(chan struct{}),
	}
	if err := s.open(ctx); err != nil {
		_ = s.Close()
		return fail(err)
	}
	return s, nil
}

// open starts the PTY shell, waits for the first prompt and runs the dialect setup.
func (s *Session) open(ctx context.Context) error {
	sess, err := s.conn.NewSession()
	if err != nil {
		return errors.Wrap(err, "SSH session failed")
	}
	s.session = sess

	stdin, err := sess.StdinPipe()
	if err != nil {
		return errors.WithStack(err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		return errors.WithStack(err)
	}
	s.stdin = stdin

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty("xterm", 120, 40, modes); err != nil {
		return errors.Wrap(err, "PTY request failed")
	}
	if err := sess.Shell(); err != nil {
		return errors.Wrap(err, "failed to start shell")
	}
	go s.readLoop(stdout)
	slog.DebugContext(ctx, "Shell started", "host", s.host)

	anyPrompt := s.dialect.promptPattern()
	out, err := s.waitForPrompt(ctx, anyPrompt, s.opts.connectTimeout, false)
	if err != nil {
		return err
	}
	for _, cmd := range s.dialect.Setup {
		slog.DebugContext(ctx, "Preparing terminal", "command", cmd)
		if err := s.write(cmd); err != nil {
			return err
		}
		if out, err = s.waitForPrompt(ctx, anyPrompt, s.opts.commandTimeout, s.dialect.AnswerPassword); err != nil {
			return errors.Wrapf(err, "setup %q", cmd)
		}
	}

	m := anyPrompt.FindStringSubmatch(out)
	s.prompt = m[1]
	s.commandPrompt = s.dialect.basePromptPattern(m[2])
	slog.DebugContext(ctx, "Prompt detected", "prompt", s.prompt)
	return nil
}

// SendCommand writes command to the device and returns its output once the
// prompt reappears, without the echoed command line and the trailing prompt.
func (s *Session) SendCommand(ctx context.Context, command string) (string, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	fail := func(err error) (string, error) {
		return "", &CommandError{Command: command, Err: err}
	}

	if s.State() == StateClosed {
		return fail(errors.WithStack(ErrSessionClosed))
	}

	slog.InfoContext(ctx, "Sending command", "host", s.host, "command", command)
	if err := s.write(command); err != nil {
		return fail(err)
	}
	out, err := s.waitForPrompt(ctx, s.commandPrompt, s.opts.commandTimeout, false)
	if err != nil {
		return fail(err)
	}
	return stripEchoAndPrompt(out, command, s.commandPrompt), nil
}

// Prompt returns the prompt detected after login.
func (s *Session) Prompt() string { return s.prompt }

// State reports whether the session is open or closed.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close terminates the shell and the SSH connection. Calling it again is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosed
	close(s.done)

	if s.session != nil {
		_ = s.session.Close()
	}
	err := s.conn.Close()
	slog.Debug("SSH session closed", "host", s.host)
	if err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.EOF) {
		return errors.WithStack(err)
	}
	return nil
}

func (s *Session) write(line string) error {
	if _, err := io.WriteString(s.stdin, line+s.dialect.LineEnding); err != nil {
		return errors.Wrap(ErrTransportLost, err.Error())
	}
	return nil
}

// readLoop pumps shell output into s.chunks until the channel ends or the session closes.
func (s *Session) readLoop(stdout io.Reader) {
	defer close(s.chunks)
	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case s.chunks <- chunk:
			case <-s.done:
				return
			}
		}
		if err != nil {
			s.readErr = err
			return
		}
	}
}

// waitForPrompt collects output until it ends with a match of prompt and
// returns it cleaned of ANSI escapes and carriage returns. With answerPassword
// set, a trailing "Password:" is answered with the login password; only
// terminal setup does that, never user commands.
func (s *Session) waitForPrompt(ctx context.Context, prompt *regexp.Regexp, timeout time.Duration, answerPassword bool) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var raw bytes.Buffer
	for {
		select {
		case <-ctx.Done():
			return "", errors.WithStack(ctx.Err())
		case <-s.done:
			return "", errors.WithStack(ErrSessionClosed)
		case <-timer.C:
			slog.WarnContext(ctx, "Prompt wait timed out", "host", s.host, "partial", strings.TrimSpace(clean(raw.Bytes())))
			return "", errors.Wrapf(ErrPromptTimeout, "after %s", timeout)
		case chunk, ok := <-s.chunks:
			if !ok {
				if s.readErr != nil && s.readErr != io.EOF {
					return "", errors.Wrap(ErrTransportLost, s.readErr.Error())
				}
				return "", errors.WithStack(ErrTransportLost)
			}
			slog.DebugContext(ctx, "Received raw", "raw", string(chunk))
			raw.Write(chunk)
			cleaned := clean(raw.Bytes())

			if answerPassword && passwordPrompt.MatchString(cleaned) {
				slog.InfoContext(ctx, "Enable password prompt detected, sending password")
				if err := s.write(s.password); err != nil {
					return "", err
				}
				raw.Reset()
				continue
			}
			if prompt.MatchString(cleaned) {
				return cleaned, nil
			}
		}
	}
}

func clean(b []byte) string {
	out := ansiEscape.ReplaceAll(b, nil)
	return strings.ReplaceAll(string(out), "\r", "")
}

// stripEchoAndPrompt removes the echoed command from the first line and the
// prompt from the last line of out.
func stripEchoAndPrompt(out, command string, prompt *regexp.Regexp) string {
	if loc := prompt.FindStringIndex(out); loc != nil {
		out = out[:loc[0]]
	}
	echo := strings.TrimSpace(command)
	if first, rest, found := strings.Cut(out, "\n"); echo != "" && strings.Contains(first, echo) {
		if found {
			out = rest
		} else {
			out = ""
		}
	}
	return strings.Trim(out, "\n")
}
