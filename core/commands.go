package core

import "prectimer/protocol"

// identifyChunkMax bounds one identify_response so it fits a single frame
const identifyChunkMax = 40

// InitCoreCommands registers the bootstrap commands on r.
// identify_response and identify must be ids 0 and 1: the host asks for the
// dictionary before it knows any other id.
func InitCoreCommands(r *CommandRegistry) {
	r.RegisterResponse("identify_response", "offset=%u data=%*s") // ID 0
	r.Register("identify", "offset=%u count=%c", func(data *[]byte) error {
		return handleIdentify(r, data)
	}) // ID 1

	r.AddConstant("MAX_PAYLOAD", itoa(protocol.MessagePayloadMax))
}

// handleIdentify returns a chunk of the dictionary. Offset zero opens a new
// host session.
// Format: identify offset=%u count=%c
func handleIdentify(r *CommandRegistry, data *[]byte) error {
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	if count > identifyChunkMax {
		count = identifyChunkMax
	}
	if offset == 0 {
		r.startSession()
	}

	dict := r.Dictionary()
	var chunk string
	if offset < uint32(len(dict)) {
		end := offset + count
		if end > uint32(len(dict)) {
			end = uint32(len(dict))
		}
		chunk = dict[offset:end]
	}

	return r.Respond("identify_response", func(w *protocol.Writer) {
		w.Uint(offset)
		w.String(chunk)
	})
}
