// Package sshrpc is the reference rpc.Client implementation: each node
// runs a small agent runner reachable over SSH, and one dispatch call
// opens concurrent per-node sessions speaking the fleetplay frame
// protocol over the session's stdio.
package sshrpc

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Config holds the SSH settings shared by every node connection of a
// dispatch client.
type Config struct {
	// User is the SSH username on the managed nodes.
	User string

	// Port is the SSH port (default 22).
	Port int

	// PrivateKeyPath is the path to the controller's private key.
	PrivateKeyPath string

	// PrivateKeyPassphrase unlocks an encrypted private key.
	PrivateKeyPassphrase string

	// KnownHostsPath is the path to the known_hosts file. Required unless
	// StrictHostKeyChecking is disabled.
	KnownHostsPath string

	// StrictHostKeyChecking rejects hosts missing from known_hosts.
	StrictHostKeyChecking bool

	// ConnectTimeout bounds connection establishment per node.
	ConnectTimeout time.Duration

	// RunnerCommand starts the agent runner on the remote side.
	RunnerCommand string

	// StageDir is the remote directory for staged option payloads.
	StageDir string

	// InlineOptionsLimit is the largest options payload sent inline in the
	// invocation frame; larger payloads are staged over SFTP.
	InlineOptionsLimit int

	// MaxInFlight bounds concurrent node sessions within one dispatch.
	MaxInFlight int
}

// DefaultConfig returns a Config with workable defaults for the user.
func DefaultConfig(user string) *Config {
	return &Config{
		User:                  user,
		Port:                  22,
		KnownHostsPath:        filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"),
		StrictHostKeyChecking: true,
		ConnectTimeout:        15 * time.Second,
		RunnerCommand:         "fleetplay-runner",
		StageDir:              "/var/lib/fleetplay/stage",
		InlineOptionsLimit:    256 * 1024,
		MaxInFlight:           32,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.PrivateKeyPath == "" {
		homeDir := os.Getenv("HOME")
		for _, keyPath := range []string{
			filepath.Join(homeDir, ".ssh", "id_ed25519"),
			filepath.Join(homeDir, ".ssh", "id_rsa"),
		} {
			if _, err := os.Stat(keyPath); err == nil {
				c.PrivateKeyPath = keyPath
				break
			}
		}
		if c.PrivateKeyPath == "" {
			return fmt.Errorf("private key path is required and no default key was found")
		}
	}
	if _, err := os.Stat(c.PrivateKeyPath); os.IsNotExist(err) {
		return fmt.Errorf("private key file not found: %s", c.PrivateKeyPath)
	}

	if c.StrictHostKeyChecking && c.KnownHostsPath == "" {
		return fmt.Errorf("known_hosts path is required with strict host key checking")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}
	if c.RunnerCommand == "" {
		return fmt.Errorf("runner command is required")
	}
	if c.MaxInFlight <= 0 {
		return fmt.Errorf("max in-flight sessions must be positive")
	}

	return nil
}

// BuildClientConfig creates the ssh.ClientConfig shared by all node
// connections.
func (c *Config) BuildClientConfig() (*ssh.ClientConfig, error) {
	keyBytes, err := os.ReadFile(c.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	var signer ssh.Signer
	if c.PrivateKeyPassphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(c.PrivateKeyPassphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(keyBytes)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	var hostKeyCallback ssh.HostKeyCallback
	if c.StrictHostKeyChecking {
		hostKeyCallback, err = knownhosts.New(c.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
	} else {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.ConnectTimeout,
	}, nil
}

// Address formats a node's SSH endpoint.
func (c *Config) Address(node string) string {
	return fmt.Sprintf("%s:%d", node, c.Port)
}
