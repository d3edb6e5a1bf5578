package usb

// DescHeader is the two-byte prefix every descriptor starts with.
type DescHeader struct {
	Length uint8
	Type   uint8
}

// WalkDescriptors iterates a tightly packed descriptor blob header by
// header, calling fn with each header and the descriptor body (including
// the header bytes). The walk stops at a zero-length header, at the end
// of the blob, at a header whose declared length overruns the blob, or
// when fn returns false. It never reads past a header's declared length
// before inspecting the next header.
func WalkDescriptors(blob []byte, fn func(hdr DescHeader, body []byte) bool) {
	for len(blob) >= 2 {
		hdr := DescHeader{Length: blob[0], Type: blob[1]}
		if hdr.Length == 0 || int(hdr.Length) > len(blob) {
			return
		}
		if !fn(hdr, blob[:hdr.Length]) {
			return
		}
		blob = blob[hdr.Length:]
	}
}
