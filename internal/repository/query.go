package repository

import (
	"fmt"
	"strings"
)

// conditions はWHERE句の条件とプレースホルダ引数を組み立てる。
// formatには%dを1つ含め、引数の位置番号に置き換える。
type conditions struct {
	clauses []string
	args    []interface{}
}

func (c *conditions) add(format string, arg interface{}) {
	c.args = append(c.args, arg)
	c.clauses = append(c.clauses, fmt.Sprintf(format, len(c.args)))
}

// where は" WHERE a AND b"形式の句を返す。条件がない場合は空文字。
func (c *conditions) where() string {
	if len(c.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.clauses, " AND ")
}
