// internal/protocol/usbtmc.go
package protocol

import (
	"encoding/binary"
	"fmt"
)

// USBTMC bulk message ids
const (
	usbtmcDevDepMsgOut        byte = 1
	usbtmcRequestDevDepMsgIn  byte = 2
	usbtmcDevDepMsgIn         byte = 2
	usbtmcHeaderSize               = 12
	usbtmcEOM                 byte = 0x01
	usbtmcInterfaceSubClass        = 0x03
	usbtmcDefaultTransferSize      = 4096
)

// usbtmcHeader builds the 12 byte bulk header shared by OUT messages
func usbtmcHeader(msgID, tag byte, size uint32, attributes byte) []byte {
	header := make([]byte, usbtmcHeaderSize)
	header[0] = msgID
	header[1] = tag
	header[2] = ^tag
	binary.LittleEndian.PutUint32(header[4:8], size)
	header[8] = attributes
	return header
}

// encodeDevDepMsgOut frames payload as a single message with EOM set,
// padded to a four byte boundary.
func encodeDevDepMsgOut(tag byte, payload []byte) []byte {
	msg := usbtmcHeader(usbtmcDevDepMsgOut, tag, uint32(len(payload)), usbtmcEOM)
	msg = append(msg, payload...)
	for len(msg)%4 != 0 {
		msg = append(msg, 0)
	}
	return msg
}

// encodeRequestDevDepMsgIn asks the device for up to maxBytes of reply.
func encodeRequestDevDepMsgIn(tag byte, maxBytes int) []byte {
	return usbtmcHeader(usbtmcRequestDevDepMsgIn, tag, uint32(maxBytes), 0)
}

// decodeDevDepMsgIn validates a bulk-in transfer and returns its payload.
func decodeDevDepMsgIn(tag byte, transfer []byte) ([]byte, bool, error) {
	if len(transfer) < usbtmcHeaderSize {
		return nil, false, framingError("usbtmc reply shorter than header: %d bytes", len(transfer))
	}
	if transfer[0] != usbtmcDevDepMsgIn {
		return nil, false, framingError("usbtmc reply has message id %d", transfer[0])
	}
	if transfer[1] != tag || transfer[2] != ^tag {
		return nil, false, framingError("usbtmc reply tag %d does not match request %d", transfer[1], tag)
	}

	size := int(binary.LittleEndian.Uint32(transfer[4:8]))
	if usbtmcHeaderSize+size > len(transfer) {
		return nil, false, framingError("usbtmc reply announces %d bytes, carries %d", size, len(transfer)-usbtmcHeaderSize)
	}

	eom := transfer[8]&usbtmcEOM != 0
	return transfer[usbtmcHeaderSize : usbtmcHeaderSize+size], eom, nil
}

// nextTag advances a bTag, skipping zero.
func nextTag(tag byte) byte {
	tag++
	if tag == 0 {
		tag = 1
	}
	return tag
}

func usbtmcTransferSize(maxBytes int) int {
	size := usbtmcHeaderSize + maxBytes
	if rem := size % 4; rem != 0 {
		size += 4 - rem
	}
	return size
}

func formatUSBID(id uint16) string {
	return fmt.Sprintf("0x%04X", id)
}
