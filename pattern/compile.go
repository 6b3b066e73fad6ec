package pattern

// Compile parses a pattern in bit notation. Bits are read most significant
// first. A run of bit characters between separators (whitespace or brackets)
// must hold a whole number of bytes, so "0100100010001011" is two bytes while
// "010010001" is an error.
func Compile(text string) (*Pattern, error) {
	b := &builder{source: text}
	tokenStart := 0
	tokenBits := 0

	endToken := func() error {
		if tokenBits%8 != 0 {
			return b.errorf(tokenStart, "%d bits do not form whole bytes", tokenBits)
		}
		tokenBits = 0
		return nil
	}

	for pos, r := range text {
		switch {
		case isSpace(r):
			if err := endToken(); err != nil {
				return nil, err
			}
		case r == '[':
			if err := endToken(); err != nil {
				return nil, err
			}
			if err := b.openGroup(pos); err != nil {
				return nil, err
			}
		case r == ']':
			if err := endToken(); err != nil {
				return nil, err
			}
			if err := b.closeGroup(pos); err != nil {
				return nil, err
			}
		case r == '0' || r == '1' || r == '.':
			if tokenBits == 0 {
				tokenStart = pos
			}
			tokenBits++
			b.bit(r != '.', r == '1')
		default:
			return nil, b.errorf(pos, "unexpected character %q", r)
		}
	}
	if err := endToken(); err != nil {
		return nil, err
	}

	return b.finish()
}

// CompileAOB parses a pattern in hex notation
func CompileAOB(text string) (*Pattern, error) {
	b := &builder{source: text}
	var token []rune
	tokenStart := 0

	endToken := func() error {
		if len(token) == 0 {
			return nil
		}
		defer func() { token = token[:0] }()

		if len(token) == 1 && token[0] == '?' {
			token = append(token, '?')
		}
		if len(token) != 2 {
			return b.errorf(tokenStart, "byte %q is not two hex digits", string(token))
		}
		for _, r := range token {
			if r == '?' {
				for i := 0; i < 4; i++ {
					b.bit(false, false)
				}
				continue
			}
			v, ok := hexValue(r)
			if !ok {
				return b.errorf(tokenStart, "byte %q is not two hex digits", string(token))
			}
			for bit := 3; bit >= 0; bit-- {
				b.bit(true, v&(1<<bit) != 0)
			}
		}
		return nil
	}

	for pos, r := range text {
		switch {
		case isSpace(r):
			if err := endToken(); err != nil {
				return nil, err
			}
		case r == '[':
			if err := endToken(); err != nil {
				return nil, err
			}
			if err := b.openGroup(pos); err != nil {
				return nil, err
			}
		case r == ']':
			if err := endToken(); err != nil {
				return nil, err
			}
			if err := b.closeGroup(pos); err != nil {
				return nil, err
			}
		case r == '?':
			if len(token) == 0 {
				tokenStart = pos
			}
			token = append(token, r)
		default:
			if _, ok := hexValue(r); !ok {
				return nil, b.errorf(pos, "unexpected character %q", r)
			}
			if len(token) == 0 {
				tokenStart = pos
			}
			token = append(token, r)
		}
	}
	if err := endToken(); err != nil {
		return nil, err
	}

	return b.finish()
}

// MustCompile is like Compile but panics on error. For pattern constants.
func MustCompile(text string) *Pattern {
	p, err := Compile(text)
	if err != nil {
		panic(err)
	}
	return p
}

// MustCompileAOB is like CompileAOB but panics on error
func MustCompileAOB(text string) *Pattern {
	p, err := CompileAOB(text)
	if err != nil {
		panic(err)
	}
	return p
}

// CompileAny compiles hex notation when hex is set, bit notation otherwise
func CompileAny(text string, hex bool) (*Pattern, error) {
	if hex {
		return CompileAOB(text)
	}
	return Compile(text)
}

func hexValue(r rune) (byte, bool) {
	switch {
	case r >= '0' && r <= '9':
		return byte(r - '0'), true
	case r >= 'a' && r <= 'f':
		return byte(r-'a') + 10, true
	case r >= 'A' && r <= 'F':
		return byte(r-'A') + 10, true
	}
	return 0, false
}
