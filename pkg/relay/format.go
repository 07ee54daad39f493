package relay

import "strings"

// Default format strings, overridable through configuration.
const (
	DefaultChatFormat    = "[{server}] <{player}> {message}"
	DefaultEventFormat   = "[{server}] {message}"
	DefaultGatewayFormat = "[Gateway] <{player}> {message}"

	// UnknownPlayer substitutes a missing actor in display output.
	UnknownPlayer = "unknown"
)

func formatChat(format, server, player, message string) string {
	if format == "" {
		format = DefaultChatFormat
	}
	if player == "" {
		player = UnknownPlayer
	}
	return strings.NewReplacer(
		"{server}", server,
		"{player}", player,
		"{message}", message,
	).Replace(format)
}

func formatEvent(format, server, message string) string {
	if format == "" {
		format = DefaultEventFormat
	}
	return strings.NewReplacer(
		"{server}", server,
		"{message}", message,
	).Replace(format)
}

func formatGateway(format, player, message string) string {
	if format == "" {
		format = DefaultGatewayFormat
	}
	if player == "" {
		player = UnknownPlayer
	}
	return strings.NewReplacer(
		"{player}", player,
		"{message}", message,
	).Replace(format)
}

// Filtered reports whether a locally produced line should be withheld from
// synchronization: command-prefixed input and over-length messages stay
// local.
func (o Options) Filtered(message string) bool {
	for _, prefix := range o.FilterPrefixes {
		if prefix != "" && strings.HasPrefix(message, prefix) {
			return true
		}
	}
	if o.MaxMessageLength > 0 && len(message) > o.MaxMessageLength {
		return true
	}
	return false
}
