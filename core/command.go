package core

import (
	"sort"
	"sync"

	"prectimer/errcode"
	"prectimer/protocol"
)

// CommandHandler is a function that handles a command with raw frame data
// The handler is responsible for decoding its own arguments from the data pointer
type CommandHandler func(data *[]byte) error

// ResponseSink receives encoded response payloads (command id + arguments)
type ResponseSink func(payload []byte) error

// Command is one dictionary entry. Entries without a handler are responses
// (MCU -> host).
type Command struct {
	ID      uint16
	Name    string
	Format  string // Argument format for the dictionary (e.g., "oid=%c period_us=%u")
	Handler CommandHandler
}

// CommandRegistry holds the command and response dictionary
type CommandRegistry struct {
	mu         sync.RWMutex
	commands   []*Command
	byName     map[string]*Command
	constants  map[string]string
	dictionary string
	sink       ResponseSink
	session    func()
	scratch    protocol.Writer
}

var globalRegistry = NewCommandRegistry()

// NewCommandRegistry creates a new command registry
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		byName:    make(map[string]*Command),
		constants: make(map[string]string),
	}
}

// Register adds a command and returns its id. Registering a name twice
// returns the existing id.
func (r *CommandRegistry) Register(name string, format string, handler CommandHandler) uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cmd, exists := r.byName[name]; exists {
		return cmd.ID
	}

	cmd := &Command{
		ID:      uint16(len(r.commands)),
		Name:    name,
		Format:  format,
		Handler: handler,
	}
	r.commands = append(r.commands, cmd)
	r.byName[name] = cmd
	r.dictionary = ""

	return cmd.ID
}

// RegisterResponse adds a response message (MCU -> host)
func (r *CommandRegistry) RegisterResponse(name string, format string) uint16 {
	return r.Register(name, format, nil)
}

// AddConstant publishes a named value in the dictionary
func (r *CommandRegistry) AddConstant(name string, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constants[name] = value
	r.dictionary = ""
}

// GetCommand retrieves a command by id
func (r *CommandRegistry) GetCommand(id uint16) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) >= len(r.commands) {
		return nil, false
	}
	return r.commands[id], true
}

// Lookup retrieves a command by name
func (r *CommandRegistry) Lookup(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.byName[name]
	return cmd, ok
}

// Count returns the number of registered commands and responses
func (r *CommandRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// Dispatch calls the handler registered for cmdID
func (r *CommandRegistry) Dispatch(cmdID uint16, data *[]byte) error {
	cmd, ok := r.GetCommand(cmdID)
	if !ok || cmd.Handler == nil {
		return errcode.Wrap(errcode.UnknownCommand, "dispatch", "id "+itoa(int(cmdID)))
	}
	return cmd.Handler(data)
}

// Dictionary returns the text dictionary sent to the host by identify.
//
// One entry per line:
//
//	version <version>
//	const <name> <value>
//	cmd <id> <name> [format]
//	resp <id> <name> [format]
func (r *CommandRegistry) Dictionary() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dictionary == "" {
		r.rebuildDictionary()
	}
	return r.dictionary
}

// rebuildDictionary must be called with the lock held
func (r *CommandRegistry) rebuildDictionary() {
	dict := "version " + protocol.Version + "\n"

	names := make([]string, 0, len(r.constants))
	for name := range r.constants {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		dict += "const " + name + " " + r.constants[name] + "\n"
	}

	for _, cmd := range r.commands {
		kind := "cmd "
		if cmd.Handler == nil {
			kind = "resp "
		}
		line := kind + itoa(int(cmd.ID)) + " " + cmd.Name
		if cmd.Format != "" {
			line += " " + cmd.Format
		}
		dict += line + "\n"
	}
	r.dictionary = dict
}

// SetResponseSink sets where Respond delivers encoded responses
func (r *CommandRegistry) SetResponseSink(sink ResponseSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = sink
}

// SetSessionCallback sets the function run when a host starts a new session
// by reading the dictionary from offset zero
func (r *CommandRegistry) SetSessionCallback(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session = fn
}

func (r *CommandRegistry) startSession() {
	r.mu.RLock()
	fn := r.session
	r.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// Respond encodes the named response and hands it to the sink. Foreground
// only: the scratch buffer is shared.
func (r *CommandRegistry) Respond(name string, encode func(w *protocol.Writer)) error {
	cmd, ok := r.Lookup(name)
	if !ok {
		return errcode.Wrap(errcode.UnknownCommand, "respond", name)
	}

	r.mu.RLock()
	sink := r.sink
	r.mu.RUnlock()
	if sink == nil {
		return nil
	}

	r.scratch.Reset()
	r.scratch.Uint(uint32(cmd.ID))
	if encode != nil {
		encode(&r.scratch)
	}
	return sink(r.scratch.Result())
}

// RegisterCommand registers a command on the global registry
func RegisterCommand(name string, format string, handler CommandHandler) uint16 {
	return globalRegistry.Register(name, format, handler)
}

// RegisterResponse registers a response on the global registry
func RegisterResponse(name string, format string) uint16 {
	return globalRegistry.RegisterResponse(name, format)
}

// RegisterConstant publishes a constant on the global registry
func RegisterConstant(name string, value string) {
	globalRegistry.AddConstant(name, value)
}

// DispatchCommand dispatches through the global registry. Its signature
// matches protocol.Handler.
func DispatchCommand(cmdID uint16, data *[]byte) error {
	return globalRegistry.Dispatch(cmdID, data)
}

// GetGlobalRegistry returns the global command registry
func GetGlobalRegistry() *CommandRegistry {
	return globalRegistry
}
