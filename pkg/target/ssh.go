package target

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig describes how to reach a Proxmox host over SSH.
//
// Host keys are verified against HostKeyFingerprint when set, otherwise
// against KnownHostsPath (default ~/.ssh/known_hosts). InsecureSkipHostKey
// disables verification entirely and must be opted into per node.
type SSHConfig struct {
	Host                string
	Port                int
	User                string
	Password            string
	PrivateKeyPath      string
	PrivateKeyPEM       []byte
	HostKeyFingerprint  string
	KnownHostsPath      string
	InsecureSkipHostKey bool
	DialTimeout         time.Duration
}

// SSH executes scripts on a remote Proxmox host over a persistent SSH
// connection. Each Run opens a fresh session on the shared client, so one
// SSH target can serve a whole pipeline sequentially.
type SSH struct {
	cfg    SSHConfig
	client *ssh.Client
}

// DialSSH connects to the configured host and returns a ready target.
func DialSSH(cfg SSHConfig) (*SSH, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("ssh target requires a host")
	}
	if cfg.User == "" {
		cfg.User = "root"
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 15 * time.Second
	}

	auth, err := cfg.authMethods()
	if err != nil {
		return nil, err
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("ssh target for %s has no usable authentication method", cfg.Host)
	}

	hostKey, err := cfg.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         cfg.DialTimeout,
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	client, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	return &SSH{cfg: cfg, client: client}, nil
}

// hostKeyCallback picks the host key policy: a pinned fingerprint, a
// known_hosts file, or no verification when the node opts out.
func (c SSHConfig) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.InsecureSkipHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	if c.HostKeyFingerprint != "" {
		want := c.HostKeyFingerprint
		if !strings.HasPrefix(want, "SHA256:") {
			want = "SHA256:" + want
		}
		return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			got := ssh.FingerprintSHA256(key)
			if got != want {
				return fmt.Errorf("host key mismatch for %s: got %s, want %s", hostname, got, want)
			}
			return nil
		}, nil
	}

	path := c.KnownHostsPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to locate known_hosts file: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	callback, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts %s: %w", path, err)
	}
	return callback, nil
}

func (c SSHConfig) authMethods() ([]ssh.AuthMethod, error) {
	var auth []ssh.AuthMethod

	keyPEM := c.PrivateKeyPEM
	if len(keyPEM) == 0 && c.PrivateKeyPath != "" {
		data, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key %s: %w", c.PrivateKeyPath, err)
		}
		keyPEM = data
	}

	if len(keyPEM) > 0 {
		signer, err := ssh.ParsePrivateKey(keyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}

	if c.Password != "" {
		auth = append(auth, ssh.Password(c.Password))
	}

	return auth, nil
}

func (t *SSH) Describe() string {
	return fmt.Sprintf("ssh://%s@%s", t.cfg.User, t.cfg.Host)
}

// Run executes the script through /bin/sh -s on the remote host. The script
// body travels on the session's stdin, so no quoting of the script is needed.
func (t *SSH) Run(ctx context.Context, script string) (*Result, error) {
	session, err := t.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open ssh session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdin = strings.NewReader(script)
	session.Stdout = &stdout
	session.Stderr = &stderr

	start := time.Now()

	done := make(chan error, 1)
	go func() {
		done <- session.Run("/bin/sh -s")
	}()

	select {
	case <-ctx.Done():
		// Closing the session tears down the remote process; the goroutine
		// drains into the buffered channel.
		_ = session.Close()
		<-done
		return nil, ctx.Err()
	case err = <-done:
	}

	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return nil, fmt.Errorf("ssh execution on %s failed: %w", t.cfg.Host, err)
	}

	return result, nil
}

// Close tears down the underlying SSH connection.
func (t *SSH) Close() error {
	if t.client == nil {
		return nil
	}
	return t.client.Close()
}
