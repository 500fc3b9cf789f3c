package broadcast

import (
	"context"
	"fmt"
	"sync"

	"codeberg.org/mutker/thermobeacon/internal/errors"
	"codeberg.org/mutker/thermobeacon/internal/logger"
	"tinygo.org/x/bluetooth"
)

// companyIDSize is the length of the company identifier that leads every
// payload. The advertisement carries it in its own field.
const companyIDSize = 2

type BLEConfig struct {
	DeviceName string
}

// advertiser is the part of bluetooth.Advertisement the publisher drives.
type advertiser interface {
	Configure(options bluetooth.AdvertisementOptions) error
	Start() error
	Stop() error
}

// BLEPublisher replaces the manufacturer data of a connectionless
// advertisement with each payload.
type BLEPublisher struct {
	cfg BLEConfig
	adv advertiser
	log logger.Logger

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewBLE enables the default adapter. Advertising starts with the first
// payload.
func NewBLE(cfg BLEConfig, log logger.Logger) (*BLEPublisher, error) {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, errors.New().Wrap(ErrAdapter, err)
	}

	log.Info().Str("name", cfg.DeviceName).Msg("Bluetooth adapter enabled")

	return newBLE(cfg, adapter.DefaultAdvertisement(), log), nil
}

func newBLE(cfg BLEConfig, adv advertiser, log logger.Logger) *BLEPublisher {
	return &BLEPublisher{cfg: cfg, adv: adv, log: log}
}

func (p *BLEPublisher) Publish(_ context.Context, payload []byte) error {
	errFactory := errors.New()

	if len(payload) < companyIDSize {
		return errFactory.WithMessage(errors.ErrInvalidArgument, "payload too short for manufacturer data")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errFactory.New(ErrClosed)
	}

	opts := bluetooth.AdvertisementOptions{
		LocalName: p.cfg.DeviceName,
		ManufacturerData: []bluetooth.ManufacturerDataElement{{
			CompanyID: uint16(payload[0]) | uint16(payload[1])<<8,
			Data:      append([]byte(nil), payload[companyIDSize:]...),
		}},
	}

	if err := p.readvertise(opts); err != nil {
		return errFactory.Wrap(ErrAdvertise, err)
	}

	p.log.Debug().Hex("payload", payload).Msg("Advertisement updated")

	return nil
}

// readvertise stops a running advertisement before configuring the new
// data. Some host stacks panic instead of returning an error when
// reconfigured; that is reported as an error too.
func (p *BLEPublisher) readvertise(opts bluetooth.AdvertisementOptions) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.started = false
			err = fmt.Errorf("advertisement: %v", r)
		}
	}()

	if p.started {
		if err := p.adv.Stop(); err != nil {
			return err
		}
		p.started = false
	}
	if err := p.adv.Configure(opts); err != nil {
		return err
	}
	if err := p.adv.Start(); err != nil {
		return err
	}
	p.started = true

	return nil
}

func (p *BLEPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.started {
		p.started = false
		if err := p.adv.Stop(); err != nil {
			return errors.New().Wrap(ErrAdvertise, err)
		}
	}
	return nil
}
