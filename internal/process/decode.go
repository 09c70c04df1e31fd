package process

import (
	"strings"
	"unicode/utf8"
)

// decoder turns raw reads into UTF-8 text. A rune split across two reads is
// held back and prefixed to the next read.
type decoder struct {
	carry []byte
}

func (d *decoder) decode(p []byte) string {
	buf := make([]byte, 0, len(d.carry)+len(p))
	buf = append(buf, d.carry...)
	buf = append(buf, p...)

	n := completePrefix(buf)
	d.carry = append(d.carry[:0], buf[n:]...)
	return strings.ToValidUTF8(string(buf[:n]), "�")
}

// flush returns whatever is still carried, replacing the broken rune.
func (d *decoder) flush() string {
	if len(d.carry) == 0 {
		return ""
	}
	s := strings.ToValidUTF8(string(d.carry), "�")
	d.carry = nil
	return s
}

// completePrefix returns the length of buf without a trailing partial rune.
func completePrefix(buf []byte) int {
	for i := len(buf) - 1; i >= 0 && i >= len(buf)-utf8.UTFMax; i-- {
		c := buf[i]
		if c < utf8.RuneSelf {
			return len(buf)
		}
		if utf8.RuneStart(c) {
			if utf8.FullRune(buf[i:]) {
				return len(buf)
			}
			return i
		}
	}
	return len(buf)
}
