// Package emulators starts disposable containers for integration tests.
package emulators

import (
	"context"
	"testing"

	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

type ImageContainer struct {
	EmulatorImage    string
	EmulatorHTTPPort string
	EmulatorGRPCPort string
}

type GCImageContainer struct {
	ImageContainer
	ProjectID       string
	SetEnvVariables bool
}

// EmulatorConnection describes how to reach a started emulator.
type EmulatorConnection struct {
	// Endpoint is host:port for broker-style emulators and a URL for HTTP ones.
	Endpoint      string
	ClientOptions []option.ClientOption
}

// terminator is satisfied by every testcontainers container.
type terminator interface {
	Terminate(ctx context.Context) error
}

func cleanupContainer(t *testing.T, name string, c terminator) {
	t.Helper()
	t.Cleanup(func() {
		if err := c.Terminate(context.Background()); err != nil {
			log.Warn().Err(err).Str("emulator", name).Msg("Failed to terminate emulator container")
		}
	})
}
