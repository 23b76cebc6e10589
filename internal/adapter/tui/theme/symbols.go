package theme

import (
	"os"
	"strings"
)

// GlyphSet names every glyph the host draws.
type GlyphSet struct {
	Done      string
	Failed    string
	Cancelled string
	Running   string
	Info      string
	Selected  string
	Bullet    string
	More      string
	Divider   string
	Question  string
}

var (
	unicodeGlyphs = GlyphSet{
		Done:      "✓",
		Failed:    "✗",
		Cancelled: "⚠",
		Running:   "⏳",
		Info:      "●",
		Selected:  "→",
		Bullet:    "•",
		More:      "…",
		Divider:   "─",
		Question:  "?",
	}
	asciiGlyphs = GlyphSet{
		Done:      "[ok]",
		Failed:    "[x]",
		Cancelled: "[!]",
		Running:   "[..]",
		Info:      "[i]",
		Selected:  ">",
		Bullet:    "*",
		More:      "...",
		Divider:   "-",
		Question:  "?",
	}
)

// Glyphs is the active set. UseGlyphs picks it from the terminal.
var Glyphs = unicodeGlyphs

// Speaker labels in the transcript.
const (
	UserLabel      = "You"
	AssistantLabel = "Assistant"
)

// UnicodeTerminal reports whether glyphs outside ASCII are likely to render.
// ANVIL_ASCII_SYMBOLS forces ASCII; a C or POSIX locale implies it.
func UnicodeTerminal() bool {
	if v := os.Getenv("ANVIL_ASCII_SYMBOLS"); v == "1" || strings.EqualFold(v, "true") {
		return false
	}
	for _, key := range []string{"LC_ALL", "LC_CTYPE", "LANG"} {
		switch val := strings.ToLower(os.Getenv(key)); {
		case val == "":
			continue
		case strings.Contains(val, "utf-8"), strings.Contains(val, "utf8"):
			return true
		case val == "c", val == "posix":
			return false
		}
	}
	return true
}

// UseGlyphs selects the glyph set for the current environment.
func UseGlyphs() {
	if UnicodeTerminal() {
		Glyphs = unicodeGlyphs
	} else {
		Glyphs = asciiGlyphs
	}
}

func init() { UseGlyphs() }
