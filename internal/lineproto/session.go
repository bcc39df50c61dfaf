package lineproto

import "strings"

// Action is what the server does in response to one line.
type Action struct {
	// Reply is written back, including CRLF.
	Reply string

	// Upgrade asks the server to start the TLS handshake after writing
	// Reply.
	Upgrade bool

	// Quit asks the server to end the connection after writing Reply.
	Quit bool
}

// Session is the server side of one connection.
type Session struct {
	secure bool
}

// Greeting returns the line the server sends on connect.
func Greeting() string {
	return Reply(CodeReady, GreetingText)
}

// Secure reports whether the session runs over TLS.
func (s *Session) Secure() bool { return s.secure }

// SetSecure records that the upgrade completed.
func (s *Session) SetSecure() { s.secure = true }

// Handle interprets one line.
func (s *Session) Handle(line string) Action {
	switch strings.ToUpper(strings.TrimSpace(line)) {
	case CmdStartTLS:
		if s.secure {
			return Action{Reply: Reply(CodeUnavailable, TLSActiveText)}
		}
		return Action{Reply: Reply(CodeReady, ReadyTLSText), Upgrade: true}
	case CmdPing:
		return Action{Reply: Reply(CodeOK, PongText)}
	case CmdStatus:
		status := StatusPlainText
		if s.secure {
			status = StatusSecureText
		}
		return Action{Reply: Reply(CodeOK, status)}
	case CmdQuit:
		return Action{Reply: Reply(CodeBye, ByeText), Quit: true}
	default:
		return Action{Reply: Reply(CodeOK, line)}
	}
}
