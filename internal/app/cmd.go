package app

import (
	"fmt"
	"strings"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバー（OAuth・投稿・ログイン画面）として起動する。
	CommandServe Command = "serve"
	// CommandWorker はプライマリと全テナントの定期クリーンアップを行う。
	CommandWorker Command = "worker"
	// CommandMigrate はプライマリDBとinstanceに登録された全テナントDBをマイグレーションする。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行する。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandHelp はサブコマンドの一覧を表示する。
	CommandHelp Command = "help"
)

var commands = []struct {
	cmd  Command
	desc string
}{
	{CommandServe, "run the API server (default)"},
	{CommandWorker, "run the session and token cleanup worker"},
	{CommandMigrate, "migrate the primary database and every tenant database"},
	{CommandHealthcheck, "check /health_check on SERVER_PORT"},
	{CommandHelp, "show this help"},
}

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch name := args[0]; name {
	case "-h", "--help":
		return CommandHelp
	default:
		for _, c := range commands {
			if string(c.cmd) == name {
				return c.cmd
			}
		}
		return CommandServe
	}
}

// Usage はサブコマンドの一覧を返す。
func Usage() string {
	var b strings.Builder
	b.WriteString("usage: rhodos [command]\n\ncommands:\n")
	for _, c := range commands {
		fmt.Fprintf(&b, "  %-12s %s\n", c.cmd, c.desc)
	}
	return b.String()
}
