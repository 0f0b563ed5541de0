package image

import "encoding/binary"

// Orientation is the EXIF orientation tag value, 1 through 8.
type Orientation int

const (
	OrientationNormal Orientation = 1
	maxIFDEntries                 = 1000
	tagOrientation                = 0x0112
)

// OrientationOf clamps v into the valid range, mapping anything else to normal.
func OrientationOf(v int) Orientation {
	if v < 1 || v > 8 {
		return OrientationNormal
	}
	return Orientation(v)
}

// SwapsAxes reports whether the orientation implies a quarter turn.
func (o Orientation) SwapsAxes() bool {
	return o >= 5 && o <= 8
}

// ReadOrientation extracts the EXIF orientation from raw JPEG bytes. It
// never fails: malformed, truncated or EXIF-less input yields
// OrientationNormal.
func ReadOrientation(b []byte) Orientation {
	if len(b) < 4 || b[0] != 0xFF || b[1] != 0xD8 {
		return OrientationNormal
	}

	offset := 2
	for offset+4 <= len(b) {
		if b[offset] != 0xFF {
			return OrientationNormal
		}
		marker := b[offset+1]
		// Start of scan and end of image: no metadata follows.
		if marker == 0xDA || marker == 0xD9 {
			return OrientationNormal
		}

		segLen := int(binary.BigEndian.Uint16(b[offset+2 : offset+4]))
		if segLen == 0 {
			return OrientationNormal
		}
		if segLen < 2 || offset+2+segLen > len(b) {
			return OrientationNormal
		}

		if marker == 0xE1 {
			payload := b[offset+4 : offset+2+segLen]
			if len(payload) >= 6 && string(payload[:4]) == "Exif" {
				return parseTIFFOrientation(payload[6:])
			}
		}
		offset += 2 + segLen
	}
	return OrientationNormal
}

func parseTIFFOrientation(tiff []byte) Orientation {
	if len(tiff) < 8 {
		return OrientationNormal
	}

	var order binary.ByteOrder
	switch {
	case tiff[0] == 'I' && tiff[1] == 'I':
		order = binary.LittleEndian
	case tiff[0] == 'M' && tiff[1] == 'M':
		order = binary.BigEndian
	default:
		return OrientationNormal
	}

	ifd := int64(order.Uint32(tiff[4:8]))
	if ifd < 8 || ifd+2 > int64(len(tiff)) {
		return OrientationNormal
	}
	start := int(ifd)

	count := int(order.Uint16(tiff[start : start+2]))
	if count > maxIFDEntries {
		return OrientationNormal
	}

	for i := 0; i < count; i++ {
		entry := start + 2 + i*12
		if entry+12 > len(tiff) {
			return OrientationNormal
		}
		if order.Uint16(tiff[entry:entry+2]) != tagOrientation {
			continue
		}
		return OrientationOf(int(order.Uint16(tiff[entry+8 : entry+10])))
	}
	return OrientationNormal
}
