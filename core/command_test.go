package core

import (
	"strings"
	"testing"

	"prectimer/errcode"
	"prectimer/protocol"
)

func TestCommandRegistry(t *testing.T) {
	registry := NewCommandRegistry()

	// Register a command
	var called bool
	handler := func(data *[]byte) error {
		called = true
		return nil
	}

	id := registry.Register("test_command", "arg=%u", handler)

	if id != 0 {
		t.Errorf("Expected first command to have ID 0, got %d", id)
	}

	// Verify command can be retrieved
	cmd, ok := registry.GetCommand(id)
	if !ok {
		t.Fatal("Failed to retrieve registered command")
	}

	if cmd.Name != "test_command" {
		t.Errorf("Expected command name 'test_command', got '%s'", cmd.Name)
	}

	// Test dispatch
	var data []byte
	if err := registry.Dispatch(id, &data); err != nil {
		t.Errorf("Dispatch failed: %v", err)
	}

	if !called {
		t.Error("Command handler was not called")
	}

	// Test unknown command
	if err := registry.Dispatch(999, &data); errcode.Of(err) != errcode.UnknownCommand {
		t.Errorf("Expected unknown_command, got %v", err)
	}
}

func TestCommandRegistryDuplicate(t *testing.T) {
	registry := NewCommandRegistry()

	id1 := registry.Register("command1", "arg1=%u", func(data *[]byte) error { return nil })
	id2 := registry.Register("command2", "arg2=%u", func(data *[]byte) error { return nil })
	again := registry.Register("command1", "other=%c", nil)

	if id1 != 0 || id2 != 1 {
		t.Errorf("Command IDs not sequential: %d, %d", id1, id2)
	}
	if again != id1 || registry.Count() != 2 {
		t.Errorf("Duplicate registration created a new entry (id %d, count %d)", again, registry.Count())
	}
}

func TestResponsesAreNotDispatched(t *testing.T) {
	registry := NewCommandRegistry()
	id := registry.RegisterResponse("status", "value=%u")

	var data []byte
	if err := registry.Dispatch(id, &data); errcode.Of(err) != errcode.UnknownCommand {
		t.Errorf("Dispatching a response should fail, got %v", err)
	}
}

func TestCommandRegistryDictionary(t *testing.T) {
	registry := NewCommandRegistry()

	registry.RegisterResponse("status", "value=%u")
	registry.Register("get_config", "", func(data *[]byte) error { return nil })
	registry.AddConstant("ZETA", "1")
	registry.AddConstant("ALPHA", "2")

	want := "version " + protocol.Version + "\n" +
		"const ALPHA 2\n" +
		"const ZETA 1\n" +
		"resp 0 status value=%u\n" +
		"cmd 1 get_config\n"
	if got := registry.Dictionary(); got != want {
		t.Errorf("Dictionary:\n%s\nwant:\n%s", got, want)
	}

	// Registering invalidates the cached text
	registry.Register("later", "", func(data *[]byte) error { return nil })
	if !strings.HasSuffix(registry.Dictionary(), "cmd 2 later\n") {
		t.Error("Dictionary not rebuilt after Register")
	}
}

func TestCommandWithArguments(t *testing.T) {
	registry := NewCommandRegistry()

	var receivedValue uint32

	handler := func(data *[]byte) error {
		val, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		receivedValue = val
		return nil
	}

	id := registry.Register("test_args", "value=%u", handler)

	data := protocol.NewWriter(16).Uint(12345).Result()

	if err := registry.Dispatch(id, &data); err != nil {
		t.Errorf("Dispatch failed: %v", err)
	}

	if receivedValue != 12345 {
		t.Errorf("Expected value 12345, got %d", receivedValue)
	}
}

func TestRespond(t *testing.T) {
	registry := NewCommandRegistry()
	registry.Register("ping", "", func(data *[]byte) error { return nil })
	id := registry.RegisterResponse("pong", "value=%u")

	// No sink: responses are dropped silently
	if err := registry.Respond("pong", nil); err != nil {
		t.Errorf("Respond without sink failed: %v", err)
	}

	var sent []byte
	registry.SetResponseSink(func(payload []byte) error {
		sent = append([]byte(nil), payload...)
		return nil
	})

	if err := registry.Respond("pong", func(w *protocol.Writer) { w.Uint(1000) }); err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	want := []byte{byte(id), 0x87, 0x68}
	if string(sent) != string(want) {
		t.Errorf("payload = % x, want % x", sent, want)
	}

	if err := registry.Respond("missing", nil); errcode.Of(err) != errcode.UnknownCommand {
		t.Errorf("Respond to unknown name = %v", err)
	}
}

func TestIdentifyChunks(t *testing.T) {
	registry := NewCommandRegistry()
	InitCoreCommands(registry)

	var chunks []string
	var offsets []uint32
	registry.SetResponseSink(func(payload []byte) error {
		id, _ := protocol.DecodeVLQUint(&payload)
		if id != 0 {
			t.Errorf("identify answered with response id %d", id)
		}
		off, _ := protocol.DecodeVLQUint(&payload)
		s, err := protocol.DecodeVLQString(&payload)
		if err != nil {
			t.Fatalf("decode chunk: %v", err)
		}
		offsets = append(offsets, off)
		chunks = append(chunks, s)
		return nil
	})

	dict := registry.Dictionary()
	var offset uint32
	for {
		data := protocol.NewWriter(16).Uint(offset).Uint(200).Result()
		if err := registry.Dispatch(1, &data); err != nil {
			t.Fatalf("identify failed: %v", err)
		}
		last := chunks[len(chunks)-1]
		if len(last) > identifyChunkMax {
			t.Fatalf("chunk of %d bytes exceeds %d", len(last), identifyChunkMax)
		}
		if last == "" {
			break
		}
		offset += uint32(len(last))
	}

	if got := strings.Join(chunks, ""); got != dict {
		t.Errorf("reassembled dictionary:\n%s\nwant:\n%s", got, dict)
	}
	if offsets[1] != identifyChunkMax {
		t.Errorf("second chunk offset = %d", offsets[1])
	}
}

func TestIdentifyStartsSession(t *testing.T) {
	registry := NewCommandRegistry()
	InitCoreCommands(registry)
	registry.SetResponseSink(func([]byte) error { return nil })

	sessions := 0
	registry.SetSessionCallback(func() { sessions++ })

	for _, offset := range []uint32{0, 40, 80, 0} {
		data := protocol.NewWriter(16).Uint(offset).Uint(40).Result()
		if err := registry.Dispatch(1, &data); err != nil {
			t.Fatalf("identify %d: %v", offset, err)
		}
	}
	if sessions != 2 {
		t.Errorf("sessions = %d, want 2", sessions)
	}
}

func TestGlobalRegistry(t *testing.T) {
	// Test the global registry functions
	id := RegisterCommand("global_test", "arg=%u", func(data *[]byte) error {
		return nil
	})
	RegisterConstant("GLOBAL_TEST", "1")

	dict := GetGlobalRegistry().Dictionary()
	if !strings.Contains(dict, "global_test arg=%u") || !strings.Contains(dict, "const GLOBAL_TEST 1") {
		t.Errorf("Global registry dictionary missing entries:\n%s", dict)
	}

	var data []byte
	if err := DispatchCommand(id, &data); err != nil {
		t.Errorf("DispatchCommand failed: %v", err)
	}
}
