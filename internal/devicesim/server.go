// Package devicesim runs an in-process SSH server that behaves like the CLI
// of a network device: it authenticates with a password or public key, prints
// a prompt, echoes input and answers commands with canned output. An optional
// enable secret adds user, privileged and configuration modes.
package devicesim

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strings"
	"sync"

	"github.com/samber/lo"
	"golang.org/x/crypto/ssh"
)

// Config describes the simulated device.
type Config struct {
	Hostname     string // default "Router"
	PromptSuffix string // default "#"
	Username     string
	Password     string
	Banner       string
	// Responses maps a command line to its output. Unknown commands produce no output.
	Responses map[string]string
	// Hang lists commands after which the device never shows a prompt again.
	Hang []string
	// Drop lists commands on which the device closes the connection.
	Drop []string
	// EnablePassword, when set, starts sessions in user mode with a ">" prompt.
	// "enable" asks for this password before switching to the "#" prompt.
	EnablePassword string
	// AuthorizedKeys are accepted for public key authentication of Username.
	AuthorizedKeys []ssh.PublicKey
}

func (c Config) hostname() string {
	return lo.Ternary(c.Hostname == "", "Router", c.Hostname)
}

func (c Config) prompt() string {
	return c.hostname() + lo.Ternary(c.PromptSuffix == "", "#", c.PromptSuffix)
}

// Server is a running simulated device.
type Server struct {
	cfg    Config
	ln     net.Listener
	sshCfg *ssh.ServerConfig
	wg     sync.WaitGroup

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	commands []string
	closed   bool
}

// Start listens on addr (use "127.0.0.1:0" for an ephemeral port) and serves until Close.
func Start(addr string, cfg Config) (*Server, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, fmt.Errorf("host key signer: %w", err)
	}

	sshCfg := &ssh.ServerConfig{}
	if cfg.Username == "" && cfg.Password == "" && len(cfg.AuthorizedKeys) == 0 {
		sshCfg.NoClientAuth = true
	}
	if cfg.Password != "" {
		sshCfg.PasswordCallback = func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if meta.User() == cfg.Username && string(password) == cfg.Password {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", meta.User())
		}
	}
	if len(cfg.AuthorizedKeys) > 0 {
		sshCfg.PublicKeyCallback = func(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if meta.User() == cfg.Username && slices.ContainsFunc(cfg.AuthorizedKeys, func(k ssh.PublicKey) bool {
				return bytes.Equal(k.Marshal(), key.Marshal())
			}) {
				return nil, nil
			}
			return nil, fmt.Errorf("public key rejected for %q", meta.User())
		}
	}
	sshCfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	s := &Server{
		cfg:    cfg,
		ln:     ln,
		sshCfg: sshCfg,
		conns:  make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.serve()
	slog.Info("Simulated device listening", "addr", ln.Addr().String(), "prompt", cfg.prompt())
	return s, nil
}

// Addr returns the listening address as host:port.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Commands returns every command line received so far, across all sessions.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.commands)
}

// Close stops accepting connections, drops open ones and waits for all handlers.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	err := s.ln.Close()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		if !s.track(conn) {
			_ = conn.Close()
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handleConn(conn)
		}()
	}
}

func (s *Server) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
	_ = c.Close()
}

func (s *Server) handleConn(raw net.Conn) {
	sc, chans, reqs, err := ssh.NewServerConn(raw, s.sshCfg)
	if err != nil {
		slog.Debug("Simulated device handshake failed", "remote", raw.RemoteAddr().String(), "error", err)
		return
	}
	defer sc.Close()
	go ssh.DiscardRequests(reqs)

	for nc := range chans {
		if nc.ChannelType() != "session" {
			_ = nc.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		ch, in, err := nc.Accept()
		if err != nil {
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleSession(ch, in)
		}()
	}
}

func (s *Server) handleSession(ch ssh.Channel, in <-chan *ssh.Request) {
	defer ch.Close()
	for req := range in {
		switch req.Type {
		case "pty-req", "window-change", "env":
			_ = req.Reply(true, nil)
		case "shell":
			_ = req.Reply(true, nil)
			go ssh.DiscardRequests(in)
			s.emulateCLI(ch)
			return
		default:
			_ = req.Reply(false, nil)
		}
	}
}

// cliState is the per-session mode of the simulated CLI.
type cliState struct {
	cfg      Config
	enabled  bool
	config   bool
	awaiting bool // next line is the enable secret
}

func (c *cliState) prompt() string {
	switch {
	case c.cfg.EnablePassword == "":
		return c.cfg.prompt()
	case !c.enabled:
		return c.cfg.hostname() + ">"
	case c.config:
		return c.cfg.hostname() + "(config)#"
	}
	return c.cfg.hostname() + "#"
}

// emulateCLI runs the line discipline of the simulated device until the
// client leaves or the channel breaks.
func (s *Server) emulateCLI(ch ssh.Channel) {
	st := &cliState{cfg: s.cfg}
	if s.cfg.Banner != "" {
		_, _ = ch.Write([]byte(crlf(s.cfg.Banner) + "\r\n"))
	}
	_, _ = ch.Write([]byte("\r\n" + st.prompt()))

	var line bytes.Buffer
	buf := make([]byte, 1024)
	var lastCR, hung bool
	for {
		n, err := ch.Read(buf)
		if err != nil {
			return
		}
		for _, b := range buf[:n] {
			// Secrets are never echoed.
			echo := !hung && !st.awaiting
			switch {
			case b == '\n' && lastCR:
				lastCR = false
				continue
			case b == '\r' || b == '\n':
				lastCR = b == '\r'
			case b == 0x7f || b == 0x08:
				lastCR = false
				if line.Len() > 0 {
					line.Truncate(line.Len() - 1)
					if echo {
						_, _ = ch.Write([]byte("\b \b"))
					}
				}
				continue
			default:
				lastCR = false
				line.WriteByte(b)
				if echo {
					_, _ = ch.Write([]byte{b})
				}
				continue
			}

			cmd := strings.TrimSpace(line.String())
			line.Reset()
			if hung {
				continue
			}
			_, _ = ch.Write([]byte("\r\n"))

			if st.awaiting {
				st.awaiting = false
				if cmd == s.cfg.EnablePassword {
					st.enabled = true
				} else {
					_, _ = ch.Write([]byte("% Bad secrets\r\n"))
				}
				_, _ = ch.Write([]byte(st.prompt()))
				continue
			}
			if cmd == "" {
				_, _ = ch.Write([]byte(st.prompt()))
				continue
			}
			s.record(cmd)

			switch {
			case st.config && (cmd == "exit" || cmd == "end"):
				st.config = false
				_, _ = ch.Write([]byte(st.prompt()))
				continue
			case cmd == "exit" || cmd == "quit" || cmd == "logout":
				_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{0}))
				return
			case slices.Contains(s.cfg.Drop, cmd):
				return
			case slices.Contains(s.cfg.Hang, cmd):
				hung = true
				continue
			case s.cfg.EnablePassword != "" && cmd == "enable":
				if !st.enabled {
					st.awaiting = true
					_, _ = ch.Write([]byte("Password: "))
					continue
				}
			case st.enabled && (cmd == "config" || cmd == "configure terminal"):
				st.config = true
			}
			if out := s.cfg.Responses[cmd]; out != "" {
				_, _ = ch.Write([]byte(crlf(strings.TrimRight(out, "\n")) + "\r\n"))
			}
			_, _ = ch.Write([]byte(st.prompt()))
		}
	}
}

func (s *Server) record(cmd string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, cmd)
}

func crlf(s string) string {
	return strings.ReplaceAll(s, "\n", "\r\n")
}
