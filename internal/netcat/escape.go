package netcat

// Decode expands backslash escapes in command-line text into the bytes to
// put on the wire. Recognized escapes: \n \r \b \t, \0NN for a two-digit
// octal byte and \uNNNN for a four-digit hex value truncated to one byte.
// Any other escaped character is emitted literally; a trailing backslash
// is dropped.
func Decode(text string) []byte {
	out := make([]byte, 0, len(text))
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if ch != '\\' || i+1 >= len(text) {
			if ch != '\\' {
				out = append(out, ch)
			}
			continue
		}
		i++
		switch text[i] {
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case 'b':
			out = append(out, '\b')
		case 't':
			out = append(out, '\t')
		case '0':
			if v, n := digits(text[i+1:], 2, 8); n == 2 {
				out = append(out, byte(v))
				i += 2
			}
		case 'u':
			if v, n := digits(text[i+1:], 4, 16); n == 4 {
				out = append(out, byte(v))
				i += 4
			}
		default:
			out = append(out, text[i])
		}
	}
	return out
}

// digits parses up to max digits of the given base, returning the value
// and how many digits matched.
func digits(s string, max, base int) (int, int) {
	v := 0
	n := 0
	for n < max && n < len(s) {
		d := digitVal(s[n])
		if d < 0 || d >= base {
			break
		}
		v = v*base + d
		n++
	}
	return v, n
}

func digitVal(ch byte) int {
	switch {
	case ch >= '0' && ch <= '9':
		return int(ch - '0')
	case ch >= 'a' && ch <= 'f':
		return int(ch-'a') + 10
	case ch >= 'A' && ch <= 'F':
		return int(ch-'A') + 10
	}
	return -1
}
