// Package errcode defines the stable error identifiers reported by the timer
// channel API and sent to the host in timer_error responses.
package errcode

// Code is a stable, wire-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

const (
	OK             Code = "ok"
	InvalidParams  Code = "invalid_params"
	InvalidConfig  Code = "invalid_config"
	UnknownOID     Code = "unknown_oid"
	OIDInUse       Code = "oid_in_use"
	UnknownChannel Code = "unknown_channel"
	ChannelInUse   Code = "channel_in_use"
	Reserved       Code = "channel_reserved"
	NotConfigured  Code = "not_configured"
	NoCallback     Code = "no_callback"
	UnknownCommand Code = "unknown_command"
	Truncated      Code = "truncated"

	Error Code = "error" // generic fallback
)

// E keeps an operation name and a cause next to a Code.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}

func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Is lets errors.Is match an *E against its bare Code.
func (e *E) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.C
}

// Wrap returns an *E for op carrying code c and message msg.
func Wrap(c Code, op, msg string) error {
	return &E{C: c, Op: op, Msg: msg}
}

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}
