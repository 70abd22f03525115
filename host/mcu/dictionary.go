package mcu

import (
	"bufio"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"prectimer/protocol"
)

// Param is one argument of a message format
type Param struct {
	Name string
	Type string // %c, %u, %i or %*s
}

// MessageFormat is a dictionary entry
type MessageFormat struct {
	ID       uint16
	Name     string
	Params   []Param
	Response bool
}

// Message is a decoded MCU response
type Message struct {
	Name   string
	Fields map[string]interface{}
}

// Uint returns a numeric field, or 0 when missing
func (m Message) Uint(name string) uint32 {
	switch v := m.Fields[name].(type) {
	case uint32:
		return v
	case int32:
		return uint32(v)
	}
	return 0
}

// String returns a string field, or "" when missing
func (m Message) String(name string) string {
	s, _ := m.Fields[name].(string)
	return s
}

// Dictionary is the parsed MCU dictionary text
type Dictionary struct {
	Version   string
	Constants map[string]string
	Commands  map[string]*MessageFormat
	Responses map[string]*MessageFormat
	byID      map[uint16]*MessageFormat
}

// ParseDictionary parses the line-oriented dictionary served by identify
func ParseDictionary(text string) (*Dictionary, error) {
	d := &Dictionary{
		Constants: make(map[string]string),
		Commands:  make(map[string]*MessageFormat),
		Responses: make(map[string]*MessageFormat),
		byID:      make(map[uint16]*MessageFormat),
	}

	scanner := bufio.NewScanner(strings.NewReader(text))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "version":
			if len(fields) != 2 {
				return nil, fmt.Errorf("line %d: malformed version", lineNo)
			}
			d.Version = fields[1]

		case "const":
			if len(fields) != 3 {
				return nil, fmt.Errorf("line %d: malformed constant", lineNo)
			}
			d.Constants[fields[1]] = fields[2]

		case "cmd", "resp":
			msg, err := parseMessage(fields)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			if _, dup := d.byID[msg.ID]; dup {
				return nil, fmt.Errorf("line %d: duplicate id %d", lineNo, msg.ID)
			}
			d.byID[msg.ID] = msg
			if msg.Response {
				d.Responses[msg.Name] = msg
			} else {
				d.Commands[msg.Name] = msg
			}

		default:
			return nil, fmt.Errorf("line %d: unknown entry %q", lineNo, fields[0])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if d.Version == "" {
		return nil, fmt.Errorf("dictionary has no version")
	}
	return d, nil
}

func parseMessage(fields []string) (*MessageFormat, error) {
	if len(fields) < 3 {
		return nil, fmt.Errorf("malformed %s entry", fields[0])
	}
	id, err := strconv.ParseUint(fields[1], 10, 16)
	if err != nil {
		return nil, fmt.Errorf("bad id %q: %w", fields[1], err)
	}

	msg := &MessageFormat{
		ID:       uint16(id),
		Name:     fields[2],
		Response: fields[0] == "resp",
	}
	for _, arg := range fields[3:] {
		name, typ, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("%s: bad argument %q", msg.Name, arg)
		}
		switch typ {
		case "%c", "%u", "%i", "%*s":
		default:
			return nil, fmt.Errorf("%s: unsupported type %q", msg.Name, typ)
		}
		msg.Params = append(msg.Params, Param{Name: name, Type: typ})
	}
	return msg, nil
}

// Constant returns a dictionary constant as an integer
func (d *Dictionary) Constant(name string) (int64, bool) {
	v, ok := d.Constants[name]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	return n, err == nil
}

// Encode builds a command payload from positional arguments
func (d *Dictionary) Encode(name string, args ...interface{}) ([]byte, error) {
	msg, ok := d.Commands[name]
	if !ok {
		return nil, fmt.Errorf("unknown command: %s", name)
	}
	if len(args) != len(msg.Params) {
		return nil, fmt.Errorf("%s: expected %d arguments, got %d", name, len(msg.Params), len(args))
	}

	w := protocol.NewWriter(protocol.MessagePayloadMax)
	w.Uint(uint32(msg.ID))
	for i, p := range msg.Params {
		switch p.Type {
		case "%*s":
			switch v := args[i].(type) {
			case string:
				w.String(v)
			case []byte:
				w.Bytes(v)
			default:
				return nil, fmt.Errorf("%s: %s must be a string", name, p.Name)
			}
		default:
			n, err := toInt(args[i])
			if err != nil {
				return nil, fmt.Errorf("%s: %s: %w", name, p.Name, err)
			}
			w.Int(int32(n))
		}
	}
	if w.Len() > protocol.MessagePayloadMax {
		return nil, fmt.Errorf("%s: %w", name, protocol.ErrPayloadTooLarge)
	}
	return w.Result(), nil
}

func toInt(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint8:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("unsupported argument type %T", v)
	}
}

// Decode decodes one message from the front of data
func (d *Dictionary) Decode(data *[]byte) (Message, error) {
	id, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return Message{}, err
	}
	msg, ok := d.byID[uint16(id)]
	if !ok {
		return Message{}, fmt.Errorf("unknown message id %d", id)
	}

	out := Message{Name: msg.Name, Fields: make(map[string]interface{}, len(msg.Params))}
	for _, p := range msg.Params {
		switch p.Type {
		case "%*s":
			s, err := protocol.DecodeVLQString(data)
			if err != nil {
				return out, fmt.Errorf("%s.%s: %w", msg.Name, p.Name, err)
			}
			out.Fields[p.Name] = s
		case "%i":
			v, err := protocol.DecodeVLQInt(data)
			if err != nil {
				return out, fmt.Errorf("%s.%s: %w", msg.Name, p.Name, err)
			}
			out.Fields[p.Name] = v
		default:
			v, err := protocol.DecodeVLQUint(data)
			if err != nil {
				return out, fmt.Errorf("%s.%s: %w", msg.Name, p.Name, err)
			}
			out.Fields[p.Name] = v
		}
	}
	return out, nil
}

// Format renders a message as "name a=1 b=2" in dictionary order
func (d *Dictionary) Format(m Message) string {
	var b strings.Builder
	b.WriteString(m.Name)

	var params []Param
	if f, ok := d.Responses[m.Name]; ok {
		params = f.Params
	} else {
		names := make([]string, 0, len(m.Fields))
		for name := range m.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			params = append(params, Param{Name: name})
		}
	}
	for _, p := range params {
		fmt.Fprintf(&b, " %s=%v", p.Name, m.Fields[p.Name])
	}
	return b.String()
}

// Messages returns every command and response sorted by id
func (d *Dictionary) Messages() []*MessageFormat {
	out := make([]*MessageFormat, 0, len(d.byID))
	for _, msg := range d.byID {
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
