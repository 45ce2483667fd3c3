package telegram

import "strings"

// markdownV2SpecialChars lists all characters that must be escaped in Telegram MarkdownV2.
var markdownV2SpecialChars = strings.NewReplacer(
	`_`, `\_`,
	`*`, `\*`,
	`[`, `\[`,
	`]`, `\]`,
	`(`, `\(`,
	`)`, `\)`,
	`~`, `\~`,
	"`", "\\`",
	`>`, `\>`,
	`#`, `\#`,
	`+`, `\+`,
	`-`, `\-`,
	`=`, `\=`,
	`|`, `\|`,
	`{`, `\{`,
	`}`, `\}`,
	`.`, `\.`,
	`!`, `\!`,
	`\`, `\\`,
)

// EscapeMarkdownV2 escapes all special characters for Telegram MarkdownV2
// format. Every user-supplied substring that ends up in an outbound
// message (agent names, tool names, tool input, queued messages) must
// pass through here, including the body of code blocks.
func EscapeMarkdownV2(text string) string {
	return markdownV2SpecialChars.Replace(text)
}
