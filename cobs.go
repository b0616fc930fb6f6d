package isles

import "errors"

// ErrNotNullTerminated is returned by cobsEncode/cobsDecode when the input
// does not end in a zero byte.
var ErrNotNullTerminated = errors.New("isles: not null terminated")

// cobsEncode implements Consistent Overhead Byte Stuffing: it removes every
// zero byte but the trailing delimiter, replacing runs between zeros with a
// length-prefix byte, so a stream of framed packets can share a single
// null-byte delimiter without ambiguity.
// https://en.wikipedia.org/wiki/Consistent_Overhead_Byte_Stuffing
func cobsEncode(raw []byte) ([]byte, error) {
	if len(raw) == 0 || raw[len(raw)-1] != 0 {
		return nil, ErrNotNullTerminated
	}

	var out []byte
	index := 0
	offset := 0

	for index < len(raw) {
		switch {
		case raw[index] == 0:
			out = append(out, byte((index-offset)+1))
			out = append(out, raw[offset:index]...)
			index++
			offset = index
		case index-offset == 254:
			out = append(out, 255)
			out = append(out, raw[offset:index]...)
			offset = index
		default:
			index++
		}
	}

	out = append(out, 0)
	return out, nil
}

// cobsDecode reverses cobsEncode.
func cobsDecode(raw []byte) ([]byte, error) {
	if len(raw) == 0 || raw[len(raw)-1] != 0 {
		return nil, ErrNotNullTerminated
	}

	pointer := int(raw[0])
	index := 1
	offset := 1
	var out []byte

	for index < len(raw) {
		if index == pointer {
			if pointer < 255 || pointer == len(raw)-1 {
				out = append(out, raw[offset:index]...)
				out = append(out, 0)
			} else {
				out = append(out, raw[offset:index]...)
			}
			pointer += int(raw[index])
			offset = index + 1
		}
		index++
	}

	return out, nil
}
