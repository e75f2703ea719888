package app

import "strings"

// Command は volunteerhub バイナリのサブコマンド。
type Command string

const (
	CommandServe       Command = "serve"
	CommandMigrate     Command = "migrate"
	CommandHealthcheck Command = "healthcheck"
	// CommandVersion はビルド時に埋め込んだVersionを表示する。
	CommandVersion Command = "version"
)

// commands はサブコマンド名（前後の空白と先頭の "-" を除き小文字化したもの）の対応表。
var commands = map[string]Command{
	"serve":       CommandServe,
	"migrate":     CommandMigrate,
	"healthcheck": CommandHealthcheck,
	"version":     CommandVersion,
}

// ParseCommand は先頭の引数からサブコマンドを決める。
// "--version" のようなフラグ風の指定も受け付ける。
// 引数が空、または知らない名前のときはAPIサーバー（serve）として起動する。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	name := strings.ToLower(strings.TrimLeft(strings.TrimSpace(args[0]), "-"))
	if cmd, ok := commands[name]; ok {
		return cmd
	}
	return CommandServe
}
