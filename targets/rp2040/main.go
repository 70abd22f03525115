//go:build rp2040

package main

import (
	_ "embed"
	"machine"
	"time"

	"prectimer/config"
	"prectimer/core"
	"prectimer/protocol"
	"prectimer/targets/board"
)

//go:embed board.json
var boardJSON []byte

var (
	link     *protocol.Link
	port     hostPort
	rxChunks = make(chan []byte, 8)

	// Debug counters
	framesIn  uint32
	msgerrors uint32
)

func main() {
	// Disable watchdog on boot to clear any previous state
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}

	cfg, err := config.LoadConfig(boardJSON)
	if err != nil {
		cfg = config.DefaultRP2040Config()
	}

	port, err = openHostPort(cfg)
	if err != nil {
		return
	}
	if cfg.Link != config.LinkUSB {
		// USB is free for debug output when the host talks over a UART
		machine.Serial.Configure(machine.UARTConfig{})
		core.SetDebugWriter(func(s string) {
			machine.Serial.Write([]byte(s))
			machine.Serial.Write([]byte("\r\n"))
		})
		core.SetDebugEnabled(true)
		core.InitAsyncDebug()
	}

	if _, err := board.Open(cfg); err != nil {
		core.DebugPrintln("[BOOT] bad board config: " + err.Error())
		return
	}

	cmds := core.GetGlobalRegistry()
	core.InitCoreCommands(cmds)
	cmds.AddConstant("MCU", "rp2040")
	svc := core.InitTimerCommands()

	cmds.SetSessionCallback(func() {
		svc.Reset()
		core.ClearEventRing()
		core.DebugAsync("[LINK] host session")
	})
	link = protocol.NewLink(core.DispatchCommand)
	cmds.SetResponseSink(link.Send)

	core.DebugPrintln("[BOOT] prectimer rp2040 ready, link=" + cfg.Link)

	go readerLoop()

	for {
		// Recover from panics in the main loop to prevent a firmware crash
		func() {
			defer func() {
				if r := recover(); r != nil {
					msgerrors++
					link.Reset()
				}
			}()

		drain:
			for {
				select {
				case chunk := <-rxChunks:
					link.Receive(chunk)
					framesIn++
				default:
					break drain
				}
			}

			core.TimerTask()

			if err := link.Drain(port); err != nil {
				msgerrors++
			}
		}()

		// Yield to the reader goroutine
		time.Sleep(10 * time.Microsecond)
	}
}

// readerLoop moves host bytes into the main loop
func readerLoop() {
	defer func() {
		if r := recover(); r != nil {
			msgerrors++
			time.Sleep(100 * time.Millisecond)
			go readerLoop()
		}
	}()

	buf := make([]byte, 64)
	for {
		n, err := port.Recv(buf)
		if err != nil {
			msgerrors++
			time.Sleep(time.Millisecond)
			continue
		}
		if n == 0 {
			continue
		}
		chunk := make([]byte, n)
		copy(chunk, buf[:n])
		rxChunks <- chunk
	}
}
