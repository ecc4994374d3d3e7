package wire

// Packet is a Header plus its opaque payload. The protocol never interprets
// Payload; aggregation semantics live entirely in Header.Bitmap.
type Packet struct {
	Header  Header
	Payload []byte
}

// Encode serializes the packet as Header followed by Payload.
func (p Packet) Encode() ([]byte, error) {
	buf := make([]byte, HeaderSize+len(p.Payload))
	if _, err := p.Header.Encode(buf); err != nil {
		return nil, err
	}
	copy(buf[HeaderSize:], p.Payload)
	return buf, nil
}

// DecodePacket decodes a Header followed by payload bytes from buf.
func DecodePacket(buf []byte) (Packet, error) {
	h, n, err := Decode(buf)
	if err != nil {
		return Packet{}, err
	}
	payload := make([]byte, len(buf)-n)
	copy(payload, buf[n:])
	return Packet{Header: h, Payload: payload}, nil
}
