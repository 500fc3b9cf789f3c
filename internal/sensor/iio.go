package sensor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"codeberg.org/mutker/thermobeacon/internal/errors"
)

const defaultIIORoot = "/sys/bus/iio/devices"

// IIO reads single-ended voltage channels of a Linux industrial I/O ADC
// through sysfs. Each read of in_voltageN_raw triggers one conversion.
type IIO struct {
	root       string
	device     string
	channel    int
	auxChannel int
}

type IIOOption func(*IIO)

// WithSysfsRoot overrides the directory holding iio:deviceN entries.
func WithSysfsRoot(root string) IIOOption {
	return func(d *IIO) {
		d.root = root
	}
}

// WithAuxChannel adds a second channel read after the primary one.
// A negative channel disables it.
func WithAuxChannel(channel int) IIOOption {
	return func(d *IIO) {
		d.auxChannel = channel
	}
}

func NewIIO(device string, channel int, opts ...IIOOption) *IIO {
	d := &IIO{
		root:       defaultIIORoot,
		device:     device,
		channel:    channel,
		auxChannel: -1,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *IIO) Name() string {
	return d.device
}

func (d *IIO) Ready() bool {
	info, err := os.Stat(d.dir())
	return err == nil && info.IsDir()
}

func (d *IIO) Setup(context.Context) error {
	errFactory := errors.New()

	channels := []int{d.channel}
	if d.auxChannel >= 0 {
		channels = append(channels, d.auxChannel)
	}
	for _, ch := range channels {
		if _, err := os.Stat(d.rawPath(ch)); err != nil {
			return errFactory.WithData(ErrNotReady, struct {
				Channel int
				Error   string
			}{
				Channel: ch,
				Error:   err.Error(),
			})
		}
	}

	return nil
}

func (d *IIO) Convert(ctx context.Context) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, errors.New().Wrap(ErrReadFailed, err)
	}

	raw, err := d.readRaw(d.channel)
	if err != nil {
		return Sample{}, err
	}
	sample := Sample{Raw: raw}

	if d.auxChannel >= 0 {
		aux, err := d.readRaw(d.auxChannel)
		if err != nil {
			return Sample{}, err
		}
		sample.Aux = aux
		sample.HasAux = true
	}

	return sample, nil
}

func (d *IIO) dir() string {
	return filepath.Join(d.root, d.device)
}

func (d *IIO) rawPath(channel int) string {
	return filepath.Join(d.dir(), fmt.Sprintf("in_voltage%d_raw", channel))
}

func (d *IIO) readRaw(channel int) (int32, error) {
	errFactory := errors.New()

	b, err := os.ReadFile(d.rawPath(channel))
	if err != nil {
		return 0, errFactory.Wrap(ErrReadFailed, err)
	}

	v, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 32)
	if err != nil {
		return 0, errFactory.Wrap(ErrReadFailed, err)
	}

	return int32(v), nil
}
