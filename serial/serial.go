// Copyright (C) 2019 Shield Diagnostics and the Oatmeal Protocol contributors.

// Package serial opens local serial devices as Oatmeal transports.
package serial

import (
	"fmt"
	"time"

	"github.com/oatmeal-protocol/oatmeal"
	"github.com/oatmeal-protocol/oatmeal/transport"
	"github.com/tarm/serial"
)

// DefaultBaudRate is the default symbol rate for the underlying serial
// device.
const DefaultBaudRate = 115200

// readTimeout keeps device reads from blocking the polling loop for more
// than a moment when no bytes are pending.
const readTimeout = 5 * time.Millisecond

// A Port is an open serial device usable as an oatmeal.Transport.
type Port struct {
	oatmeal.Transport
	dev *serial.Port
}

// Open opens the named serial device at the given baud rate. A baud of 0
// or less selects DefaultBaudRate.
func Open(device string, baud int) (*Port, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	dev, err := serial.OpenPort(&serial.Config{
		Name:        device,
		Baud:        baud,
		ReadTimeout: readTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", device, err)
	}
	return &Port{Transport: transport.IO(dev, dev), dev: dev}, nil
}

// Close closes the underlying device.
func (p *Port) Close() error { return p.dev.Close() }

// Flush discards any unread input and unsent output.
func (p *Port) Flush() error { return p.dev.Flush() }
