package repository

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"rxverify-service/internal/domain"
)

// applyOrdering は指定された並び順を列名に変換して適用し、最後に既定の並び順を足す。
// columns にない項目は無視する（呼び出し元の domain.ParseOrdering で検証済み）。
func applyOrdering(q *gorm.DB, ordering []domain.OrderField, columns map[string]string, defaults ...clause.OrderByColumn) *gorm.DB {
	for _, o := range ordering {
		col, ok := columns[o.Field]
		if !ok {
			continue
		}
		q = q.Order(clause.OrderByColumn{Column: clause.Column{Name: col}, Desc: o.Desc})
	}
	for _, d := range defaults {
		q = q.Order(d)
	}
	return q
}

func orderBy(col string, desc bool) clause.OrderByColumn {
	return clause.OrderByColumn{Column: clause.Column{Name: col}, Desc: desc}
}

// likeContains は部分一致条件。エスケープ文字は "!"。
const likeContains = "LOWER(%s) LIKE ? ESCAPE '!'"

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// containsPattern は大文字小文字を区別しない部分一致用のLIKEパターンを返す。
func containsPattern(s string) string {
	return "%" + strings.ToLower(likeEscaper.Replace(strings.TrimSpace(s))) + "%"
}

// whereContains は cols のいずれかに s を含む行に絞り込む。
func whereContains(q *gorm.DB, s string, cols ...string) *gorm.DB {
	pattern := containsPattern(s)
	conds := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		conds[i] = fmt.Sprintf(likeContains, col)
		args[i] = pattern
	}
	return q.Where("("+strings.Join(conds, " OR ")+")", args...)
}
