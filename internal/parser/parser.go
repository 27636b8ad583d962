// Package parser reconstructs a structured conversation from the raw,
// ANSI-laden byte stream of an AI CLI running inside a PTY.
//
// The stream has no protocol: user echo, assistant prose, tool announcements
// and terminal chrome are interleaved with escape sequences and arrive in
// chunks that do not align with logical message boundaries. The parser
// sanitizes each chunk, buffers incomplete trailing lines across chunks,
// filters UI noise, and classifies every surviving line through an ordered
// rule list. Lines classified raw accumulate into a growing assistant
// message; user, tool and exit boundaries flush the accumulation.
package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/agent-console/backend/internal/model"
)

// maxPendingSize bounds the carry buffer for an incomplete trailing line.
const maxPendingSize = 4096

// minLineLength is the threshold below which lines with no alphabetic
// character are discarded as escape-code debris.
const minLineLength = 3

// ansiPattern matches ANSI/VT escape sequences: CSI sequences, OSC sequences
// terminated by BEL or ST, DCS/SOS/PM/APC strings, DEC private-mode
// sequences, and charset selection.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(\x07|\x1b\\)?|\x1b[PX^_][^\x1b]*(\x1b\\)?|\x1b[()][A-Za-z0-9]|\x1b[=>]`)

// controlPattern matches remaining non-printable control characters after
// escape stripping (tab is kept).
var controlPattern = regexp.MustCompile(`[\x00-\x08\x0b-\x1f\x7f]`)

// lineRole is the outcome of classifying one sanitized line.
type lineRole int

const (
	roleNoise lineRole = iota
	roleTool
	roleUser
	roleSystem
	roleRaw
)

var (
	// toolCallPattern matches a known tool verb immediately followed by a
	// colon or opening paren, e.g. "Bash: ls -la" or "Write(main.go)".
	toolCallPattern = regexp.MustCompile(`^(Bash|Read|Write|Edit|Delete|Search|Grep|Glob|Task|Fetch|WebFetch|WebSearch)\s*[(:]`)

	// toolPrefixPattern matches explicit tool announcements.
	toolPrefixPattern = regexp.MustCompile(`^(?:Using tool|Tool):\s*(.+)$`)

	// userPromptPattern matches the echoed input prompt marker.
	userPromptPattern = regexp.MustCompile(`^(?:>|❯)\s`)

	// systemPattern matches lifecycle and informational lines.
	systemPattern = regexp.MustCompile(`^(?:Error:|Warning:|Session (?:started|resumed|ended)|Process exited|Connected|Disconnected|Reconnecting)`)

	// separatorPattern matches lines made only of box-drawing and rule
	// characters.
	separatorPattern = regexp.MustCompile(`^[\s─━│┃┌┐└┘├┤╭╮╰╯╔╗╚╝═║⎯-]+$`)

	// spinnerPattern matches progress/thinking indicator lines. The glyph
	// set is kept narrow so ordinary bullet lists survive.
	spinnerPattern = regexp.MustCompile(`^[·✢✳✶✻✽]\s|…\s*\(`)
)

// bannerFragments are substrings of permission banners, keybinding hints and
// status chrome. Kept narrow: dropping real content is the worse failure
// mode, chrome leaking through is tolerated.
var bannerFragments = []string{
	"? for shortcuts",
	"esc to interrupt",
	"Esc to cancel",
	"ctrl+c to",
	"ctrl+r to",
	"shift+tab to",
	"auto-accept edits",
	"plan mode on",
	"bypass permissions",
	"dangerously-skip-permissions",
	"Press Enter to continue",
	"mcp server",
	"MCP server",
	"✗ Auto-update",
	"Bypassing Permissions",
}

// rule is one entry of the ordered classification policy. Rules are
// evaluated top to bottom; the first match wins, so tool beats user beats
// system beats raw.
type rule struct {
	name  string
	match func(line string) bool
	role  lineRole
}

var classifyRules = []rule{
	{"tool-call", func(l string) bool { return toolCallPattern.MatchString(l) }, roleTool},
	{"tool-prefix", func(l string) bool { return toolPrefixPattern.MatchString(l) }, roleTool},
	{"user-prompt", func(l string) bool { return userPromptPattern.MatchString(l) }, roleUser},
	{"system", func(l string) bool { return systemPattern.MatchString(l) }, roleSystem},
}

// classify maps a sanitized, noise-filtered line to its role. It is a pure
// function so the classification policy stays testable in isolation.
func classify(line string) lineRole {
	for _, r := range classifyRules {
		if r.match(line) {
			return r.role
		}
	}
	return roleRaw
}

// isNoise reports whether a sanitized line is UI chrome or debris that must
// not reach classification.
func isNoise(line string) bool {
	if line == "" {
		return true
	}
	if utf8.RuneCountInString(line) < minLineLength && !hasAlpha(line) {
		return true
	}
	if separatorPattern.MatchString(line) {
		return true
	}
	if spinnerPattern.MatchString(line) {
		return true
	}
	// Terminal private-mode remnants that survive stripping, e.g. "[?2004h".
	if strings.HasPrefix(line, "[?") && !hasAlphaRun(line) {
		return true
	}
	for _, frag := range bannerFragments {
		if strings.Contains(line, frag) {
			return true
		}
	}
	return false
}

func hasAlpha(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// hasAlphaRun reports whether s contains two adjacent letters, which private
// mode remnants like "[?2004h" never do.
func hasAlphaRun(s string) bool {
	prev := false
	for _, r := range s {
		letter := unicode.IsLetter(r)
		if letter && prev {
			return true
		}
		prev = letter
	}
	return false
}

// sanitize strips escape sequences and control characters from a line,
// dropping invalid UTF-8 rather than surfacing it.
func sanitize(line string) string {
	line = strings.ToValidUTF8(line, "")
	line = ansiPattern.ReplaceAllString(line, "")
	line = controlPattern.ReplaceAllString(line, "")
	return strings.TrimSpace(line)
}

// Parser is the per-session streaming state machine. Methods are not safe
// for concurrent use; the caller serializes them on the session's data path.
type Parser struct {
	pending   string
	role      model.MessageRole
	buf       strings.Builder
	messageID string
	openedAt  time.Time
}

// New creates a parser with empty state.
func New() *Parser {
	return &Parser{}
}

// Reset clears all in-flight state. Called when a new session context
// begins; any open accumulation is discarded, not flushed.
func (p *Parser) Reset() {
	p.pending = ""
	p.role = ""
	p.buf.Reset()
	p.messageID = ""
}

// Feed processes one raw output chunk and returns the messages it produced.
// An open assistant accumulation is re-emitted (same ID, IsStreaming true)
// each time it grows; flushed messages carry IsStreaming false.
func (p *Parser) Feed(chunk []byte) []model.Message {
	p.pending += string(chunk)

	var complete []string
	if idx := strings.LastIndexByte(p.pending, '\n'); idx >= 0 {
		complete = strings.Split(p.pending[:idx], "\n")
		p.pending = p.pending[idx+1:]
	}
	if len(p.pending) > maxPendingSize {
		p.pending = p.pending[len(p.pending)-maxPendingSize:]
	}

	var out []model.Message
	for _, raw := range complete {
		out = append(out, p.processLine(raw)...)
	}
	return out
}

// processLine runs the sanitize/filter/classify pipeline on one line.
func (p *Parser) processLine(raw string) []model.Message {
	line := sanitize(raw)
	if isNoise(line) {
		return nil
	}

	switch classify(line) {
	case roleUser:
		// Boundary signal only: the input-sending path already synthesized
		// the user message optimistically, so the echoed line just closes
		// any open accumulation.
		if msg := p.flush(); msg != nil {
			return []model.Message{*msg}
		}
		return nil

	case roleTool:
		var out []model.Message
		if msg := p.flush(); msg != nil {
			out = append(out, *msg)
		}
		out = append(out, toolMessage(line))
		return out

	case roleSystem:
		return []model.Message{{
			ID:        uuid.New().String(),
			Role:      model.RoleSystem,
			Content:   line,
			Timestamp: time.Now(),
		}}

	default:
		return []model.Message{p.accumulate(line)}
	}
}

// accumulate opens or grows the assistant accumulation and returns the
// current snapshot with IsStreaming still true.
func (p *Parser) accumulate(line string) model.Message {
	if p.role != model.RoleAssistant {
		p.role = model.RoleAssistant
		p.messageID = uuid.New().String()
		p.openedAt = time.Now()
		p.buf.Reset()
		p.buf.WriteString(line)
	} else {
		p.buf.WriteByte('\n')
		p.buf.WriteString(line)
	}

	return model.Message{
		ID:          p.messageID,
		Role:        model.RoleAssistant,
		Content:     p.buf.String(),
		IsStreaming: true,
		Timestamp:   p.openedAt,
	}
}

// flush closes the open accumulation, if any, and returns the finalized
// message. Empty accumulations flush to nothing.
func (p *Parser) flush() *model.Message {
	if p.role != model.RoleAssistant {
		return nil
	}
	content := p.buf.String()
	id := p.messageID
	openedAt := p.openedAt

	p.role = ""
	p.messageID = ""
	p.buf.Reset()

	if content == "" {
		return nil
	}
	return &model.Message{
		ID:        id,
		Role:      model.RoleAssistant,
		Content:   content,
		Timestamp: openedAt,
	}
}

// FlushInput closes any open assistant accumulation because the caller is
// about to dispatch new input: a new turn cannot begin while one is still
// streaming. Returns the finalized message, or nil.
func (p *Parser) FlushInput() *model.Message {
	return p.flush()
}

// FlushExit drains the pending partial line, closes any open accumulation,
// and appends a trailing system message describing the exit code.
func (p *Parser) FlushExit(exitCode int) []model.Message {
	var out []model.Message
	if p.pending != "" {
		line := p.pending
		p.pending = ""
		// Intermediate streaming snapshots are pointless here: the flush
		// below finalizes the accumulation immediately.
		for _, m := range p.processLine(line) {
			if !m.IsStreaming {
				out = append(out, m)
			}
		}
	}
	if msg := p.flush(); msg != nil {
		out = append(out, *msg)
	}
	out = append(out, model.Message{
		ID:        uuid.New().String(),
		Role:      model.RoleSystem,
		Content:   exitContent(exitCode),
		Timestamp: time.Now(),
	})
	return out
}

// toolMessage builds a complete tool message from a matched line. Tool
// messages are never accumulated; each matched line is one message, and
// consecutive duplicates are deliberately kept (retries are meaningful).
func toolMessage(line string) model.Message {
	call := line
	if m := toolPrefixPattern.FindStringSubmatch(line); m != nil {
		call = strings.TrimSpace(m[1])
	}
	name, input := splitToolCall(call)

	return model.Message{
		ID:        uuid.New().String(),
		Role:      model.RoleTool,
		Content:   line,
		ToolName:  name,
		ToolInput: input,
		Timestamp: time.Now(),
	}
}

// splitToolCall separates "Bash: ls -la" or "Write(main.go)" into tool name
// and raw input.
func splitToolCall(s string) (name, input string) {
	if idx := strings.IndexAny(s, ":("); idx >= 0 {
		name = strings.TrimSpace(s[:idx])
		input = strings.TrimSpace(strings.TrimSuffix(s[idx+1:], ")"))
		return name, input
	}
	return strings.TrimSpace(s), ""
}

func exitContent(exitCode int) string {
	return "Process exited with code " + strconv.Itoa(exitCode)
}
