package domain

import (
	"fmt"
	"strings"
)

// OrderField は一覧の並び順の1項目。
type OrderField struct {
	Field string
	Desc  bool
}

// ParseOrdering は "?ordering=-trust_score,batch_number" 形式の並び順を解析する。
// 先頭の "-" は降順。allowed にない項目は ErrInvalidInput になる。空文字は nil を返す。
func ParseOrdering(s string, allowed ...string) ([]OrderField, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	var out []OrderField
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		desc := strings.HasPrefix(part, "-")
		field := strings.TrimPrefix(part, "-")
		if !contains(allowed, field) {
			return nil, fmt.Errorf("%w: cannot order by %q (allowed: %s)", ErrInvalidInput, part, strings.Join(allowed, ", "))
		}
		out = append(out, OrderField{Field: field, Desc: desc})
	}
	return out, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
