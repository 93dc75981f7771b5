package client

import (
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	DefaultPort           = "22"
	DefaultConnectTimeout = 5 * time.Second
	DefaultCommandTimeout = 10 * time.Second
)

type options struct {
	connectTimeout  time.Duration
	commandTimeout  time.Duration
	keyFile         string
	keyPassphrase   string
	useAgent        bool
	knownHosts      string
	hostKeyCallback ssh.HostKeyCallback
}

// Option customizes Connect.
type Option func(*options)

func defaultOptions() *options {
	return &options{
		connectTimeout: DefaultConnectTimeout,
		commandTimeout: DefaultCommandTimeout,
	}
}

// WithConnectTimeout bounds the TCP dial, SSH handshake and first prompt.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.connectTimeout = d
		}
	}
}

// WithCommandTimeout bounds how long SendCommand waits for the prompt to return.
func WithCommandTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.commandTimeout = d
		}
	}
}

// WithKeyFile adds public key authentication from a private key file.
func WithKeyFile(path, passphrase string) Option {
	return func(o *options) {
		o.keyFile = path
		o.keyPassphrase = passphrase
	}
}

// WithAgent adds the keys of the agent listening on SSH_AUTH_SOCK.
func WithAgent() Option {
	return func(o *options) { o.useAgent = true }
}

// WithKnownHosts enables strict host key checking against a known_hosts file.
func WithKnownHosts(path string) Option {
	return func(o *options) { o.knownHosts = path }
}

// WithHostKeyCallback overrides host key verification entirely.
func WithHostKeyCallback(cb ssh.HostKeyCallback) Option {
	return func(o *options) { o.hostKeyCallback = cb }
}

// clientConfig assembles the SSH client configuration. The returned release
// function must be called once the handshake has finished.
func (o *options) clientConfig(user, password string) (*ssh.ClientConfig, func(), error) {
	release := func() {}
	var auths []ssh.AuthMethod

	if o.keyFile != "" {
		signer, err := loadSigner(o.keyFile, o.keyPassphrase)
		if err != nil {
			return nil, release, errors.Wrap(err, "load key")
		}
		auths = append(auths, ssh.PublicKeys(signer))
	}

	if o.useAgent {
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			if conn, err := net.Dial("unix", sock); err == nil {
				release = func() { _ = conn.Close() }
				auths = append(auths, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
			}
		}
	}

	if password != "" {
		auths = append(auths,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	hostKeyCB, err := o.hostKeys()
	if err != nil {
		release()
		return nil, func() {}, err
	}

	return &ssh.ClientConfig{
		User:            user,
		Auth:            auths,
		HostKeyCallback: hostKeyCB,
		Timeout:         o.connectTimeout,
	}, release, nil
}

func (o *options) hostKeys() (ssh.HostKeyCallback, error) {
	if o.hostKeyCallback != nil {
		return o.hostKeyCallback, nil
	}
	if o.knownHosts == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(o.knownHosts)
	if err != nil {
		return nil, errors.Wrap(err, "known_hosts")
	}
	return cb, nil
}

func loadSigner(path, passphrase string) (ssh.Signer, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(b, []byte(passphrase))
	}
	s, err := ssh.ParsePrivateKey(b)
	if err == nil {
		return s, nil
	}
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) {
		return nil, errors.Errorf("private key %s is encrypted and no passphrase was given", path)
	}
	return nil, errors.WithStack(err)
}
