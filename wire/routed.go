package wire

// EncodeRouted seals h and appends extension (ciphertext/plaintext
// payload riding after the header — game payload for
// CLIENT_TO_SERVER/SERVER_TO_CLIENT, an encrypted token chain for
// ROUTE_REQUEST/CONTINUE_REQUEST, or nothing at all for MIGRATE,
// MIGRATE_RESPONSE, DESTROY, NEXT_SERVER_PING/PONG and the ROUTE/CONTINUE
// response token).
func EncodeRouted(h Header, key *[KeySize]byte, extension []byte) ([]byte, error) {
	header, err := Encode(h, key)
	if err != nil {
		return nil, err
	}
	if len(extension) == 0 {
		return header, nil
	}
	out := make([]byte, len(header)+len(extension))
	copy(out, header)
	copy(out[len(header):], extension)
	return out, nil
}

// DecodeRouted verifies the leading HeaderSize bytes of packet and returns
// the decoded Header plus whatever extension bytes follow it.
func DecodeRouted(packet []byte, wantType uint8, key *[KeySize]byte) (Header, []byte, error) {
	h, err := Decode(packet, wantType, key)
	if err != nil {
		return Header{}, nil, err
	}
	return h, packet[HeaderSize:], nil
}
