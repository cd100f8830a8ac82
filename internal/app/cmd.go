package app

import (
	"fmt"
	"strings"
)

// Command はsubshareの起動モード。
type Command string

const (
	// CommandServe はWebサーバー（ページ、JSON API、ロゴプロキシ）を起動する。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションの定期削除を行うワーカーを起動する。
	CommandWorker Command = "worker"
	// CommandMigrate は埋め込みSQLでマイグレーションを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はローカルの/healthを叩いて終了する。
	// distrolessイメージにはcurlがないため、DockerのHEALTHCHECKから使う。
	CommandHealthcheck Command = "healthcheck"
)

var knownCommands = []Command{CommandServe, CommandWorker, CommandMigrate, CommandHealthcheck}

// ParseCommand は先頭の引数からサブコマンドを決める。
// 引数がなければserveとし、未知のサブコマンドはエラーにする。
// 2つ目以降の引数は無視する。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 || args[0] == "" {
		return CommandServe, nil
	}
	for _, c := range knownCommands {
		if string(c) == args[0] {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown command %q (want one of: %s)", args[0], commandList())
}

func commandList() string {
	names := make([]string, len(knownCommands))
	for i, c := range knownCommands {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
