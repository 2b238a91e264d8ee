// Package render implements the room.Renderer collaborator: the ANSI
// terminal layout for the main screen, the input line, the
// command-output overlay, and the bilingual help overlay. It type-asserts
// room.Session back to *session.Session to reach the accessors the
// narrow room.Session interface doesn't expose (Mode, scroll positions,
// buffers, terminal size).
package render

import (
	"fmt"
	"strings"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/ehrlich-b/tnt/internal/room"
	"github.com/ehrlich-b/tnt/internal/session"
	"github.com/ehrlich-b/tnt/internal/utf8scan"
)

// Raw ANSI escape sequences, kept as the same literal strings as the
// ANSI_CLEAR/ANSI_HOME/ANSI_REVERSE/ANSI_RESET/ANSI_CLEAR_LINE macros
// they're grounded on, rather than built through a sequence-builder
// library: the wire protocol here is fixed byte-for-byte by the
// original renderer, and a builder abstraction would only add a layer
// of translation between our semantics and its.
const (
	ansiClear     = "\x1b[2J"
	ansiHome      = "\x1b[H"
	ansiReverse   = "\x1b[7m"
	ansiReset     = "\x1b[0m"
	ansiClearLine = "\x1b[K"
	boxDrawing    = "─"
)

func cursorTo(row int) string {
	return fmt.Sprintf("\x1b[%d;1H", row)
}

// Renderer implements room.Renderer, writing ANSI terminal updates
// directly to each session's transport.
type Renderer struct{}

// New returns a Renderer. It holds no state: every call re-derives its
// output from the room and session it's given.
func New() *Renderer { return &Renderer{} }

func asSession(s room.Session) *session.Session {
	sess, ok := s.(*session.Session)
	if !ok {
		return nil
	}
	return sess
}

// RenderMain redraws the full screen: title bar, the visible message
// window, a separator rule, and the mode-dependent status/input line.
// It takes its own read-only snapshot of the room, matching the
// original's single-lock-then-render-unlocked discipline.
func (rr *Renderer) RenderMain(rm *room.Room, s room.Session) {
	sess := asSession(s)
	if sess == nil || !sess.IsConnected() {
		return
	}

	width, height := sess.Width, sess.Height
	mode := sess.Mode()

	online := rm.ClientCount()
	msgCount := rm.MessageCount()

	msgHeight := height - 3
	if msgHeight < 1 {
		msgHeight = 1
	}

	start := 0
	if mode == session.ModeNormal {
		start = sess.MainScrollPos()
		if start > msgCount-msgHeight {
			start = msgCount - msgHeight
		}
		if start < 0 {
			start = 0
		}
	} else if msgCount > msgHeight {
		start = msgCount - msgHeight
	}
	end := start + msgHeight
	if end > msgCount {
		end = msgCount
	}

	snapshot := rm.Snapshot()
	if end > len(snapshot) {
		end = len(snapshot)
	}
	if start > end {
		start = end
	}

	var b strings.Builder
	b.WriteString(ansiHome)

	title := fmt.Sprintf(" 聊天室 | 在线: %d | 模式: %s | Ctrl+C 退出 | ? 帮助 ", online, mode.String())
	writeTitleBar(&b, title, width)

	for i := start; i < end; i++ {
		b.WriteString(formatMessage(snapshot[i], width))
		b.WriteString(ansiClearLine)
		b.WriteString("\r\n")
	}
	for i := end - start; i < msgHeight; i++ {
		b.WriteString(ansiClearLine)
		b.WriteString("\r\n")
	}

	b.WriteString(strings.Repeat(boxDrawing, width))
	b.WriteString(ansiClearLine)
	b.WriteString("\r\n")

	switch mode {
	case session.ModeInsert:
		b.WriteString("> ")
		b.WriteString(ansiClearLine)
	case session.ModeNormal:
		pos := sess.MainScrollPos() + 1
		if msgCount == 0 {
			pos = 0
		}
		fmt.Fprintf(&b, "-- NORMAL -- (%d/%d)%s", pos, msgCount, ansiClearLine)
	case session.ModeCommand:
		fmt.Fprintf(&b, ":%s%s", sess.CommandInputBuffer(), ansiClearLine)
	}

	_, _ = sess.Channel.Write([]byte(b.String()))
}

// RenderInput rewrites just the bottom input line, used while typing in
// INSERT mode so the rest of the screen doesn't flicker on every
// keystroke.
func (rr *Renderer) RenderInput(s room.Session, input []byte) {
	sess := asSession(s)
	if sess == nil || !sess.IsConnected() {
		return
	}
	width, height := sess.Width, sess.Height
	display := string(input)
	inputWidth := utf8scan.StringWidth(display)

	if budget := width - 3; inputWidth > budget && budget > 0 {
		excess := inputWidth - budget
		skipped := 0
		i := 0
		raw := []byte(display)
		for i < len(raw) && skipped < excess {
			cp, n := utf8scan.Decode(raw[i:])
			if n == 0 {
				break
			}
			skipped += utf8scan.CharWidth(cp)
			i += n
		}
		display = display[i:]
	}

	out := cursorTo(height) + ansiClearLine + "> " + display
	_, _ = sess.Channel.Write([]byte(out))
}

// RenderCommandOutput redraws the full screen as the command-output
// overlay: a title bar and the output text, each line truncated to the
// terminal width and the line count capped to the visible height.
func (rr *Renderer) RenderCommandOutput(s room.Session) {
	sess := asSession(s)
	if sess == nil || !sess.IsConnected() {
		return
	}
	width, height := sess.Width, sess.Height

	var b strings.Builder
	b.WriteString(ansiClear)
	b.WriteString(ansiHome)
	writeTitleBarPlain(&b, " COMMAND OUTPUT ", width)
	b.WriteString("\r\n")

	maxLines := height - 2
	lines := strings.Split(sess.CommandOutput(), "\n")
	for i, line := range lines {
		if i >= maxLines {
			break
		}
		if utf8scan.StringWidth(line) > width {
			line = utf8scan.TruncateToWidth(line, width)
		}
		b.WriteString(line)
		b.WriteString("\r\n")
	}

	_, _ = sess.Channel.Write([]byte(b.String()))
}

// RenderHelp redraws the full screen as the scrollable, bilingual help
// overlay.
func (rr *Renderer) RenderHelp(s room.Session) {
	sess := asSession(s)
	if sess == nil || !sess.IsConnected() {
		return
	}
	width, height := sess.Width, sess.Height

	var b strings.Builder
	b.WriteString(ansiClear)
	b.WriteString(ansiHome)
	writeTitleBarPlain(&b, " HELP ", width)
	b.WriteString("\r\n")

	text := helpText(sess.HelpLang())
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")

	contentHeight := height - 2
	if contentHeight < 1 {
		contentHeight = 1
	}
	scroll := sess.HelpScrollPos()
	maxScroll := len(lines) - contentHeight + 1
	if maxScroll < 0 {
		maxScroll = 0
	}
	if scroll > maxScroll {
		scroll = maxScroll
	}
	start := scroll
	end := start + contentHeight - 1
	if end > len(lines) {
		end = len(lines)
	}

	for i := start; i < end; i++ {
		b.WriteString(lines[i])
		b.WriteString("\r\n")
	}
	for i := end - start; i < contentHeight-1; i++ {
		b.WriteString("\r\n")
	}

	fmt.Fprintf(&b, "-- HELP -- (%d/%d) j/k:scroll g/G:top/bottom e/z:lang q:close",
		scroll+1, maxScroll+1)

	_, _ = sess.Channel.Write([]byte(b.String()))
}

// ClearScreen wipes the terminal and homes the cursor, used after
// Ctrl+C resets transient state.
func (rr *Renderer) ClearScreen(s room.Session) {
	sess := asSession(s)
	if sess == nil || !sess.IsConnected() {
		return
	}
	_, _ = sess.Channel.Write([]byte(ansiClear + ansiHome))
}

func writeTitleBar(b *strings.Builder, title string, width int) {
	padding := width - utf8scan.StringWidth(title)
	if padding < 0 {
		padding = 0
	}
	b.WriteString(ansiReverse)
	b.WriteString(title)
	b.WriteString(strings.Repeat(" ", padding))
	b.WriteString(ansiReset)
	b.WriteString(ansiClearLine)
	b.WriteString("\r\n")
}

func writeTitleBarPlain(b *strings.Builder, title string, width int) {
	padding := width - len(title)
	if padding < 0 {
		padding = 0
	}
	b.WriteString(ansiReverse)
	b.WriteString(title)
	b.WriteString(strings.Repeat(" ", padding))
	b.WriteString(ansiReset)
	b.WriteString("\r\n")
}

// formatMessage renders one history entry as "[time] username: content",
// truncated to width, with a deterministic per-username color.
func formatMessage(msg room.Message, width int) string {
	line := fmt.Sprintf("[%s] %s: %s",
		msg.Timestamp.Format("2006-01-02 15:04 MST"), msg.Username, msg.Content)
	if utf8scan.StringWidth(line) > width {
		line = utf8scan.TruncateToWidth(line, width)
	}
	return colorizeUsername(line, msg.Username)
}

// colorizeUsername wraps the first occurrence of "username:" in line
// with a truecolor SGR sequence deterministically derived from the
// username, so each participant keeps a stable color across messages.
func colorizeUsername(line, username string) string {
	needle := username + ":"
	idx := strings.Index(line, needle)
	if idx < 0 {
		return line
	}
	r, g, b := usernameColor(username)
	color := fmt.Sprintf("\x1b[38;2;%d;%d;%dm", r, g, b)
	return line[:idx] + color + needle + ansiReset + line[idx+len(needle):]
}

// usernameColor derives a stable, well-saturated color from a username
// by hashing it into a hue angle and fixing saturation/value so every
// name stays legible against a dark terminal background.
func usernameColor(username string) (r, g, b uint8) {
	var hash uint32
	for i := 0; i < len(username); i++ {
		hash = hash*31 + uint32(username[i])
	}
	hue := float64(hash%360)
	c := colorful.Hsv(hue, 0.55, 0.85)
	return c.RGB255()
}

func helpText(lang session.HelpLang) string {
	if lang == session.HelpEnglish {
		return helpTextEnglish
	}
	return helpTextChinese
}

const helpTextEnglish = `TERMINAL CHAT ROOM - HELP

OPERATING MODES:
  INSERT  - Type and send messages (default)
  NORMAL  - Browse message history
  COMMAND - Execute commands

INSERT MODE KEYS:
  ESC        - Enter NORMAL mode
  Enter      - Send message
  Backspace  - Delete character
  Ctrl+W     - Delete last word
  Ctrl+U     - Delete line
  Ctrl+C     - Enter NORMAL mode

NORMAL MODE KEYS:
  i          - Return to INSERT mode
  :          - Enter COMMAND mode
  j          - Scroll down (older messages)
  k          - Scroll up (newer messages)
  g          - Jump to top (oldest)
  G          - Jump to bottom (newest)
  ?          - Show this help
  Ctrl+C     - Exit chat

COMMAND MODE KEYS:
  Enter      - Execute command
  ESC        - Cancel, return to NORMAL
  Backspace  - Delete character
  Ctrl+W     - Delete last word
  Ctrl+U     - Delete line

AVAILABLE COMMANDS:
  list, users, who  - Show online users
  help, commands    - Show available commands
  clear, cls        - Clear command output

HELP SCREEN KEYS:
  q, ESC     - Close help
  j          - Scroll down
  k          - Scroll up
  g          - Jump to top
  G          - Jump to bottom
  e, E       - Switch to English
  z, Z       - Switch to Chinese
`

const helpTextChinese = `终端聊天室 - 帮助

操作模式:
  INSERT  - 输入和发送消息(默认)
  NORMAL  - 浏览消息历史
  COMMAND - 执行命令

INSERT 模式按键:
  ESC        - 进入 NORMAL 模式
  Enter      - 发送消息
  Backspace  - 删除字符
  Ctrl+W     - 删除上个单词
  Ctrl+U     - 删除整行
  Ctrl+C     - 进入 NORMAL 模式

NORMAL 模式按键:
  i          - 返回 INSERT 模式
  :          - 进入 COMMAND 模式
  j          - 向下滚动(更早的消息)
  k          - 向上滚动(更新的消息)
  g          - 跳到顶部(最早)
  G          - 跳到底部(最新)
  ?          - 显示此帮助
  Ctrl+C     - 退出聊天

COMMAND 模式按键:
  Enter      - 执行命令
  ESC        - 取消,返回 NORMAL 模式
  Backspace  - 删除字符
  Ctrl+W     - 删除上个单词
  Ctrl+U     - 删除整行

可用命令:
  list, users, who  - 显示在线用户
  help, commands    - 显示可用命令
  clear, cls        - 清空命令输出

帮助界面按键:
  q, ESC     - 关闭帮助
  j          - 向下滚动
  k          - 向上滚动
  g          - 跳到顶部
  G          - 跳到底部
  e, E       - 切换到英文
  z, Z       - 切换到中文
`
