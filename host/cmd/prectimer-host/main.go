package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"

	"prectimer/host/mcu"
	"prectimer/host/serial"
)

var (
	device  = flag.String("device", "/dev/ttyACM0", "Serial device path")
	baud    = flag.Int("baud", 250000, "Baud rate (ignored for USB CDC)")
	timeout = flag.Duration("timeout", time.Second, "Response timeout")
	verbose = flag.Bool("verbose", false, "Enable verbose output")
)

var errQuit = errors.New("quit")

func main() {
	flag.Parse()

	fmt.Println("prectimer host - timer channel console")
	fmt.Println("=======================================")

	mcuConn := mcu.NewMCU()
	mcuConn.Timeout = *timeout
	if *verbose {
		mcuConn.Logf = func(format string, args ...interface{}) {
			fmt.Printf("  [trace] "+format+"\n", args...)
		}
	}

	cfg := serial.DefaultConfig(*device)
	cfg.Baud = *baud

	fmt.Printf("Connecting to MCU on %s...\n", *device)
	if err := mcuConn.ConnectWithConfig(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer mcuConn.Close()

	if err := mcuConn.RetrieveDictionary(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to retrieve dictionary: %v\n", err)
		os.Exit(1)
	}
	printDictionary(mcuConn.Dictionary())

	mcuConn.SetHandler(func(msg mcu.Message) {
		if msg.Name == "timer_fired" {
			fmt.Printf("\n  timer %d fired (total %d)\n> ", msg.Uint("oid"), msg.Uint("count"))
			return
		}
		fmt.Printf("\n  %s\n> ", mcuConn.Dictionary().Format(msg))
	})

	fmt.Println("Enter commands (type 'help' for available commands, 'quit' to exit):")
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		args, err := shlex.Split(scanner.Text())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		if len(args) == 0 {
			continue
		}

		err = runCommand(mcuConn, args)
		if errors.Is(err, errQuit) {
			fmt.Println("Goodbye!")
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		os.Exit(1)
	}
}

func runCommand(m *mcu.MCU, args []string) error {
	cmd := args[0]
	args = args[1:]

	switch cmd {
	case "quit", "exit", "q":
		return errQuit

	case "help", "?":
		printHelp()
		return nil

	case "dict":
		printDictionary(m.Dictionary())
		return nil

	case "raw":
		raw := m.DictionaryRaw()
		fmt.Printf("Raw dictionary data (%d bytes):\n%s\n", len(raw), raw)
		return nil

	case "info":
		info, err := m.GetConfig()
		if err != nil {
			return err
		}
		fmt.Printf("channels=%d reserved=%#x prescaler=%s base_clock=%dHz\n",
			info.Channels, info.Reserved, info.Policy, info.BaseClock)
		return nil

	case "config":
		if len(args) != 2 {
			return fmt.Errorf("usage: config <oid> <channel|any>")
		}
		oid, err := parseOID(args[0])
		if err != nil {
			return err
		}
		channel := uint8(mcu.AnyChannel)
		if args[1] != "any" {
			n, err := strconv.ParseUint(args[1], 10, 8)
			if err != nil {
				return fmt.Errorf("bad channel %q: %w", args[1], err)
			}
			channel = uint8(n)
		}
		return m.ConfigTimer(oid, channel)

	case "period":
		oid, us, err := parseOIDValue(args, "period <oid> <us>")
		if err != nil {
			return err
		}
		return m.SetPeriod(oid, us)

	case "freq":
		if len(args) != 2 {
			return fmt.Errorf("usage: freq <oid> <hz>")
		}
		oid, err := parseOID(args[0])
		if err != nil {
			return err
		}
		hz, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("bad frequency %q: %w", args[1], err)
		}
		return m.SetFrequency(oid, hz)

	case "start":
		if len(args) == 1 {
			oid, err := parseOID(args[0])
			if err != nil {
				return err
			}
			return m.Start(oid, 0)
		}
		oid, us, err := parseOIDValue(args, "start <oid> [us]")
		if err != nil {
			return err
		}
		return m.Start(oid, us)

	case "stop", "release", "query":
		if len(args) != 1 {
			return fmt.Errorf("usage: %s <oid>", cmd)
		}
		oid, err := parseOID(args[0])
		if err != nil {
			return err
		}
		switch cmd {
		case "stop":
			return m.Stop(oid)
		case "release":
			return m.Release(oid)
		}
		state, err := m.QueryTimer(oid)
		if err != nil {
			return err
		}
		fmt.Printf("oid=%d channel=%d period=%dus freq=%.3fHz running=%v clock=%d rc=%d fires=%d\n",
			state.OID, state.Channel, state.PeriodUS, state.Frequency, state.Running,
			state.Clock, state.Compare, state.Fires)
		return nil

	case "watch":
		seconds := 5.0
		if len(args) == 1 {
			v, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("bad duration %q: %w", args[0], err)
			}
			seconds = v
		}
		fmt.Printf("Watching for %.1fs...\n", seconds)
		time.Sleep(time.Duration(seconds * float64(time.Second)))
		return nil

	default:
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", cmd)
	}
}

func parseOID(s string) (uint8, error) {
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("bad oid %q: %w", s, err)
	}
	return uint8(n), nil
}

func parseOIDValue(args []string, usage string) (uint8, uint32, error) {
	if len(args) != 2 {
		return 0, 0, fmt.Errorf("usage: %s", usage)
	}
	oid, err := parseOID(args[0])
	if err != nil {
		return 0, 0, err
	}
	v, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("bad value %q: %w", args[1], err)
	}
	return oid, uint32(v), nil
}

func printDictionary(d *mcu.Dictionary) {
	if d == nil {
		fmt.Println("No dictionary loaded")
		return
	}

	fmt.Println("\n=== MCU Dictionary ===")
	fmt.Printf("Version: %s\n", d.Version)

	fmt.Println("\nConstants:")
	for k, v := range d.Constants {
		fmt.Printf("  %s = %s\n", k, v)
	}

	fmt.Printf("\nMessages (%d):\n", len(d.Messages()))
	for _, msg := range d.Messages() {
		kind := "cmd "
		if msg.Response {
			kind = "resp"
		}
		params := make([]string, len(msg.Params))
		for i, p := range msg.Params {
			params[i] = p.Name + "=" + p.Type
		}
		fmt.Printf("  %s [%d] %s %s\n", kind, msg.ID, msg.Name, strings.Join(params, " "))
	}
	fmt.Println("======================")
	fmt.Println()
}

func printHelp() {
	fmt.Println("\nAvailable commands:")
	fmt.Println("  help                   - Show this help message")
	fmt.Println("  dict                   - Print dictionary summary")
	fmt.Println("  raw                    - Print raw dictionary text")
	fmt.Println("  info                   - Show the board's channel bank")
	fmt.Println("  config <oid> <ch|any>  - Bind an oid to a channel")
	fmt.Println("  period <oid> <us>      - Set the period in microseconds")
	fmt.Println("  freq <oid> <hz>        - Set the frequency in Hz")
	fmt.Println("  start <oid> [us]       - Start, optionally with a new period")
	fmt.Println("  stop <oid>             - Stop the channel")
	fmt.Println("  release <oid>          - Stop and free the channel")
	fmt.Println("  query <oid>            - Show channel state")
	fmt.Println("  watch [seconds]        - Wait and print timer_fired reports")
	fmt.Println("  quit/exit/q            - Exit the program")
	fmt.Println()
}
