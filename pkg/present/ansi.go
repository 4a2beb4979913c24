package present

import (
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
)

// ErrMalformedEscape is returned for escape sequences that cannot be parsed.
var ErrMalformedEscape = errors.New("malformed ANSI escape sequence")

var (
	normalColors = [8]string{"#000", "#a00", "#0a0", "#a60", "#00a", "#a0a", "#0aa", "#aaa"}
	brightColors = [8]string{"#555", "#f55", "#5f5", "#ff5", "#55f", "#f5f", "#5ff", "#fff"}
	cubeLevels   = [6]int{0, 95, 135, 175, 215, 255}
)

type style struct {
	bold      bool
	faint     bool
	italic    bool
	underline bool
	fg        string
	bg        string
}

// ANSIToMarkup converts text carrying ANSI SGR sequences into HTML. Text is
// escaped, newlines become <br/>, and styles map to <b>, <i>, <u> and inline
// color spans. Non-SGR CSI sequences are dropped.
func ANSIToMarkup(s string) (string, error) {
	c := &converter{}
	for i := 0; i < len(s); {
		switch s[i] {
		case '\x1b':
			n, err := c.escape(s[i:])
			if err != nil {
				return "", err
			}
			i += n
		case '\n':
			c.flush()
			c.out.WriteString(lineBreak)
			i++
		case '\r':
			i++
		default:
			j := i
			for j < len(s) && s[j] != '\x1b' && s[j] != '\n' && s[j] != '\r' {
				j++
			}
			c.text(s[i:j])
			i = j
		}
	}
	c.closeAll()
	return c.out.String(), nil
}

type converter struct {
	out     strings.Builder
	want    style
	current style
	open    []string
}

func (c *converter) text(s string) {
	c.flush()
	c.out.WriteString(html.EscapeString(s))
}

// flush brings the open tags in line with the requested style.
func (c *converter) flush() {
	if c.want == c.current {
		return
	}
	c.closeAll()

	var css []string
	if c.want.fg != "" {
		css = append(css, "color:"+c.want.fg)
	}
	if c.want.bg != "" {
		css = append(css, "background:"+c.want.bg)
	}
	if c.want.faint {
		css = append(css, "opacity:0.67")
	}
	if len(css) > 0 {
		c.push("<span style='"+strings.Join(css, ";")+"'>", "</span>")
	}
	if c.want.bold {
		c.push("<b>", "</b>")
	}
	if c.want.italic {
		c.push("<i>", "</i>")
	}
	if c.want.underline {
		c.push("<u>", "</u>")
	}
	c.current = c.want
}

func (c *converter) push(open, close string) {
	c.out.WriteString(open)
	c.open = append(c.open, close)
}

func (c *converter) closeAll() {
	for i := len(c.open) - 1; i >= 0; i-- {
		c.out.WriteString(c.open[i])
	}
	c.open = c.open[:0]
	c.current = style{}
}

// escape consumes one escape sequence and returns its length.
func (c *converter) escape(s string) (int, error) {
	if len(s) < 2 || s[1] != '[' {
		return 0, fmt.Errorf("%w: expected CSI", ErrMalformedEscape)
	}
	end := 2
	for end < len(s) && (s[end] < 0x40 || s[end] > 0x7e) {
		end++
	}
	if end == len(s) {
		return 0, fmt.Errorf("%w: unterminated sequence", ErrMalformedEscape)
	}
	if s[end] == 'm' {
		if err := c.sgr(s[2:end]); err != nil {
			return 0, err
		}
	}
	return end + 1, nil
}

func (c *converter) sgr(params string) error {
	codes := []int{0}
	if params != "" {
		fields := strings.Split(params, ";")
		codes = make([]int, len(fields))
		for i, f := range fields {
			if f == "" {
				continue
			}
			n, err := strconv.Atoi(f)
			if err != nil || n < 0 {
				return fmt.Errorf("%w: bad parameter %q", ErrMalformedEscape, f)
			}
			codes[i] = n
		}
	}

	for i := 0; i < len(codes); i++ {
		switch code := codes[i]; {
		case code == 0:
			c.want = style{}
		case code == 1:
			c.want.bold = true
		case code == 2:
			c.want.faint = true
		case code == 3:
			c.want.italic = true
		case code == 4:
			c.want.underline = true
		case code == 22:
			c.want.bold, c.want.faint = false, false
		case code == 23:
			c.want.italic = false
		case code == 24:
			c.want.underline = false
		case code >= 30 && code <= 37:
			c.want.fg = normalColors[code-30]
		case code == 39:
			c.want.fg = ""
		case code >= 40 && code <= 47:
			c.want.bg = normalColors[code-40]
		case code == 49:
			c.want.bg = ""
		case code >= 90 && code <= 97:
			c.want.fg = brightColors[code-90]
		case code >= 100 && code <= 107:
			c.want.bg = brightColors[code-100]
		case code == 38 || code == 48:
			color, n, err := extendedColor(codes[i+1:])
			if err != nil {
				return err
			}
			if code == 38 {
				c.want.fg = color
			} else {
				c.want.bg = color
			}
			i += n
		}
	}
	return nil
}

// extendedColor parses the arguments following 38 or 48 and returns the color
// and how many codes were consumed.
func extendedColor(args []int) (string, int, error) {
	if len(args) == 0 {
		return "", 0, fmt.Errorf("%w: missing color mode", ErrMalformedEscape)
	}
	switch args[0] {
	case 5:
		if len(args) < 2 || args[1] > 255 {
			return "", 0, fmt.Errorf("%w: bad 256-color index", ErrMalformedEscape)
		}
		return paletteColor(args[1]), 2, nil
	case 2:
		if len(args) < 4 || args[1] > 255 || args[2] > 255 || args[3] > 255 {
			return "", 0, fmt.Errorf("%w: bad truecolor value", ErrMalformedEscape)
		}
		return fmt.Sprintf("#%02x%02x%02x", args[1], args[2], args[3]), 4, nil
	default:
		return "", 0, fmt.Errorf("%w: unknown color mode %d", ErrMalformedEscape, args[0])
	}
}

func paletteColor(n int) string {
	switch {
	case n < 8:
		return normalColors[n]
	case n < 16:
		return brightColors[n-8]
	case n < 232:
		n -= 16
		return fmt.Sprintf("#%02x%02x%02x", cubeLevels[n/36], cubeLevels[n/6%6], cubeLevels[n%6])
	default:
		v := 8 + 10*(n-232)
		return fmt.Sprintf("#%02x%02x%02x", v, v, v)
	}
}
