package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"maps"

	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/config"
	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/environment"
)

// Kind tells whether a server runs on this machine.
type Kind string

const (
	KindLocal  Kind = "local"
	KindRemote Kind = "remote"
)

// tokenBytes is the amount of randomness in a server token.
const tokenBytes = 19

// Info describes a server. Port, Token and URL are filled in by Start.
type Info struct {
	Kind             Kind
	Engine           string
	URL              string
	Port             int
	Token            string
	WorkingDirectory string
	Environment      *environment.RuntimeEnvironment

	// ExtraDir is an additional host directory mounted at /data.
	ExtraDir         string
	OverrideDefaults bool
	EnvVars          map[string]string

	// PID is the launcher process id of the current attempt.
	PID int
}

// Origin returns the scheme and host part of the server URL.
func (i Info) Origin() string {
	return fmt.Sprintf("http://%s:%d", loopbackHost, i.Port)
}

func (i Info) clone() Info {
	out := i
	out.EnvVars = maps.Clone(i.EnvVars)
	if i.Environment != nil {
		out.Environment = i.Environment.Clone()
	}
	return out
}

const loopbackHost = "127.0.0.1"

// ServerURL returns the URL a browser opens for a server.
func ServerURL(port int, token string) string {
	return fmt.Sprintf("http://%s:%d/lab?token=%s", loopbackHost, port, token)
}

// NewToken returns a random server token carrying the app token prefix.
func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate server token: %w", err)
	}
	return config.ServerTokenPrefix + hex.EncodeToString(b), nil
}
