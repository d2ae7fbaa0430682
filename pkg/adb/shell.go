package adb

import (
	"regexp"
	"strings"
)

// 无需引用的安全token
var reShellSafe = regexp.MustCompile(`^[a-zA-Z0-9_+,./:=@%^-]+$`)

// ShQuote 转义参数为shell安全的单个token
func ShQuote(arg string) string {
	if arg == "" {
		return "''"
	}
	if reShellSafe.MatchString(arg) {
		return arg
	}
	// 单引号包裹并转义内部的单引号
	return "'" + strings.ReplaceAll(arg, "'", `'"'"'`) + "'"
}

// ShQuoteCompat 兼容性转义（用于只认双引号的设备shell）
func ShQuoteCompat(arg string) string {
	if arg == "" {
		return `""`
	}
	if reShellSafe.MatchString(arg) {
		return arg
	}
	escaped := strings.NewReplacer(
		`\`, `\\`,
		"$", `\$`,
		"`", "\\`",
		"!", `\!`,
		`"`, `\"`,
	).Replace(arg)
	return `"` + escaped + `"`
}

// ShJoin 转义并拼接argv
func ShJoin(argv []string) string {
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		quoted[i] = ShQuote(arg)
	}
	return strings.Join(quoted, " ")
}
