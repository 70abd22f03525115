//go:build rp2040

package main

import (
	"context"
	"machine"
	"time"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"

	"prectimer/config"
)

// hostPort is the byte stream to the host
type hostPort interface {
	// Recv blocks until at least one byte arrives
	Recv(buf []byte) (int, error)
	Write(p []byte) (int, error)
}

// usbPort is USB CDC-ACM through machine.Serial
type usbPort struct{}

func (usbPort) Recv(buf []byte) (int, error) {
	for machine.Serial.Buffered() == 0 {
		time.Sleep(100 * time.Microsecond)
	}
	n := 0
	for n < len(buf) && machine.Serial.Buffered() > 0 {
		b, err := machine.Serial.ReadByte()
		if err != nil {
			return n, err
		}
		buf[n] = b
		n++
	}
	return n, nil
}

func (usbPort) Write(p []byte) (int, error) {
	return machine.Serial.Write(p)
}

// uartPort is a hardware UART driven by uartx
type uartPort struct {
	u *uartx.UART
}

func (p uartPort) Recv(buf []byte) (int, error) {
	return p.u.RecvSomeContext(context.Background(), buf)
}

func (p uartPort) Write(b []byte) (int, error) {
	return p.u.Write(b)
}

// openHostPort configures the link selected by the board configuration
func openHostPort(cfg *config.BoardConfig) (hostPort, error) {
	var hw *uartx.UART
	switch cfg.Link {
	case config.LinkUART0:
		hw = uartx.UART0
	case config.LinkUART1:
		hw = uartx.UART1
	default:
		if err := machine.Serial.Configure(machine.UARTConfig{}); err != nil {
			return nil, err
		}
		return usbPort{}, nil
	}

	err := hw.Configure(uartx.UARTConfig{
		BaudRate: cfg.Baud,
		TX:       machine.Pin(cfg.TXPin),
		RX:       machine.Pin(cfg.RXPin),
	})
	if err != nil {
		return nil, err
	}
	return uartPort{u: hw}, nil
}
