package sandbox

import (
	"github.com/fluxforge/agentcore/internal/common/logger"
)

type options struct {
	logger         *logger.Logger
	containerHost  string
	containerAPI   string
	containerImage string
}

func defaultOptions() *options {
	return &options{
		logger:         logger.Default(),
		containerImage: "agentcore/sandbox:latest",
	}
}

// Option configures a Provider constructed via New.
type Option func(*options)

// WithLogger attaches a logger to the provider.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithContainerHost sets the Docker daemon host for the container backend.
func WithContainerHost(host string) Option {
	return func(o *options) { o.containerHost = host }
}

// WithContainerAPIVersion pins the Docker API version negotiated by the
// container backend.
func WithContainerAPIVersion(version string) Option {
	return func(o *options) { o.containerAPI = version }
}

// WithContainerImage selects the image used for new sandbox containers.
func WithContainerImage(image string) Option {
	return func(o *options) { o.containerImage = image }
}
