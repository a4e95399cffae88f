package match

import "strings"

// Soundex returns the classic four-character Soundex code (letter plus
// three digits). Empty input yields an empty code.
func Soundex(s string) string {
	letters := lettersOnly(s)
	if len(letters) == 0 {
		return ""
	}

	out := []byte{byte(letters[0])}
	prev := soundexCode(letters[0])
	for _, r := range letters[1:] {
		c := soundexCode(r)
		switch {
		case c == 0:
			// H and W are transparent; vowels reset the run so the
			// same consonant class codes again.
			if r != 'H' && r != 'W' {
				prev = 0
			}
		case c != prev:
			out = append(out, c)
			prev = c
			if len(out) == 4 {
				return string(out)
			}
		}
	}
	for len(out) < 4 {
		out = append(out, '0')
	}
	return string(out)
}

func soundexCode(r rune) byte {
	switch r {
	case 'B', 'F', 'P', 'V':
		return '1'
	case 'C', 'G', 'J', 'K', 'Q', 'S', 'X', 'Z':
		return '2'
	case 'D', 'T':
		return '3'
	case 'L':
		return '4'
	case 'M', 'N':
		return '5'
	case 'R':
		return '6'
	default:
		return 0
	}
}

// Metaphone returns the Metaphone phonetic key of s. Input is reduced
// to letters first; accents must already be folded by the caller.
func Metaphone(s string) string {
	in := lettersOnly(s)
	if len(in) == 0 {
		return ""
	}

	var out strings.Builder
	i := 0

	// Initial-letter exceptions.
	if len(in) >= 2 {
		switch string(in[0:2]) {
		case "AE", "GN", "KN", "PN", "WR":
			i = 1
		case "WH":
			out.WriteByte('W')
			i = 2
		}
	}
	if i == 0 && in[0] == 'X' {
		out.WriteByte('S')
		i = 1
	}
	first := i

	at := func(idx int) rune {
		if idx < 0 || idx >= len(in) {
			return 0
		}
		return in[idx]
	}
	vowelAt := func(idx int) bool {
		switch at(idx) {
		case 'A', 'E', 'I', 'O', 'U':
			return true
		}
		return false
	}

	for ; i < len(in); i++ {
		c := in[i]
		if c != 'C' && i > first && at(i-1) == c {
			continue
		}
		switch c {
		case 'A', 'E', 'I', 'O', 'U':
			if i == first {
				out.WriteRune(c)
			}
		case 'B':
			// Silent in terminal -MB.
			if !(i == len(in)-1 && at(i-1) == 'M') {
				out.WriteByte('B')
			}
		case 'C':
			switch {
			case at(i+1) == 'I' && at(i+2) == 'A':
				out.WriteByte('X')
			case at(i+1) == 'H':
				if at(i-1) == 'S' {
					out.WriteByte('K')
				} else {
					out.WriteByte('X')
				}
			case at(i+1) == 'I' || at(i+1) == 'E' || at(i+1) == 'Y':
				if at(i-1) != 'S' {
					out.WriteByte('S')
				}
			default:
				out.WriteByte('K')
			}
		case 'D':
			if at(i+1) == 'G' && (at(i+2) == 'E' || at(i+2) == 'I' || at(i+2) == 'Y') {
				out.WriteByte('J')
				i++ // the G is part of the DG sound
			} else {
				out.WriteByte('T')
			}
		case 'F', 'J', 'L', 'M', 'N', 'R':
			out.WriteRune(c)
		case 'G':
			switch {
			case at(i+1) == 'H':
				if i+2 < len(in) && !vowelAt(i+2) {
					// -GH- with a consonant after stays silent.
				} else if i+1 == len(in)-1 {
					// Terminal -GH is silent after a vowel.
				} else {
					out.WriteByte('K')
				}
			case at(i+1) == 'N':
				// GN and GNED keep the N only.
			case at(i+1) == 'I' || at(i+1) == 'E' || at(i+1) == 'Y':
				out.WriteByte('J')
			default:
				out.WriteByte('K')
			}
		case 'H':
			// Consumed by the compound handled one letter back, or
			// silent between a vowel and a non-vowel.
			switch at(i - 1) {
			case 'C', 'S', 'P', 'T', 'G':
			default:
				if vowelAt(i-1) && !vowelAt(i+1) {
					break
				}
				out.WriteByte('H')
			}
		case 'K':
			if at(i-1) != 'C' {
				out.WriteByte('K')
			}
		case 'P':
			if at(i+1) == 'H' {
				out.WriteByte('F')
			} else {
				out.WriteByte('P')
			}
		case 'Q':
			out.WriteByte('K')
		case 'S':
			if at(i+1) == 'H' || (at(i+1) == 'I' && (at(i+2) == 'O' || at(i+2) == 'A')) {
				out.WriteByte('X')
			} else {
				out.WriteByte('S')
			}
		case 'T':
			switch {
			case at(i+1) == 'I' && (at(i+2) == 'O' || at(i+2) == 'A'):
				out.WriteByte('X')
			case at(i+1) == 'H':
				out.WriteByte('0')
			case at(i+1) == 'C' && at(i+2) == 'H':
				// -TCH- collapses into the CH sound.
			default:
				out.WriteByte('T')
			}
		case 'V':
			out.WriteByte('F')
		case 'W', 'Y':
			if vowelAt(i + 1) {
				out.WriteRune(c)
			}
		case 'X':
			out.WriteString("KS")
		case 'Z':
			out.WriteByte('S')
		}
	}
	return out.String()
}

// PhoneticallyEqual reports whether two name parts agree under both
// Soundex and Metaphone. Requiring both keeps the comparison strict
// enough that it never outranks honest string similarity.
func PhoneticallyEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return Soundex(a) == Soundex(b) && Metaphone(a) == Metaphone(b)
}

func lettersOnly(s string) []rune {
	var out []rune
	for _, r := range strings.ToUpper(s) {
		if r >= 'A' && r <= 'Z' {
			out = append(out, r)
		}
	}
	return out
}
