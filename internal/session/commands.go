package session

import "fmt"

// dispatchCommand executes a trimmed COMMAND-mode command and returns
// the overlay text to show. roster is the current room membership in
// join order; selfIndex is the invoking session's own position in
// that slice (by identity, not name), used to mark its row in the
// listing, or -1 if the session has already left the roster.
func dispatchCommand(cmd string, roster []string, selfIndex int) string {
	var body string
	switch cmd {
	case "list", "users", "who":
		body = formatRoster(roster, selfIndex)
	case "help", "commands":
		body = commandReference
	case "clear", "cls":
		body = "Command output cleared\n"
	default:
		body = fmt.Sprintf("Unknown command: %s\nType 'help' for available commands\n", cmd)
	}
	return body + "\nPress any key to continue..."
}

func formatRoster(roster []string, selfIndex int) string {
	out := "========================================\n"
	out += "     Online Users / 在线用户\n"
	out += "========================================\n"
	out += fmt.Sprintf("Total / 总数: %d\n", len(roster))
	out += "----------------------------------------\n"
	for i, name := range roster {
		marker := byte(' ')
		if i == selfIndex {
			marker = '*'
		}
		out += fmt.Sprintf("%c %d. %s\n", marker, i+1, name)
	}
	out += "========================================\n"
	out += "* = you / 你\n"
	return out
}

const commandReference = "" +
	"========================================\n" +
	"        Available Commands\n" +
	"========================================\n" +
	"list, users, who - Show online users\n" +
	"help, commands   - Show this help\n" +
	"clear, cls       - Clear command output\n" +
	"========================================\n"
