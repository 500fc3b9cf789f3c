package telemetry

import (
	"net"

	"codeberg.org/mutker/thermobeacon/internal/errors"
)

const defaultNamespace = "thermobeacon"

type Config struct {
	// Listen is the HTTP address for /metrics. Empty disables the endpoint.
	Listen    string
	Namespace string
}

func DefaultConfig() Config {
	return Config{
		Namespace: defaultNamespace,
	}
}

func (c Config) Validate() error {
	if c.Listen == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return errors.New().Wrap(ErrInvalidListen, err)
	}
	return nil
}
