package postgres

import (
	"database/sql/driver"
	"strings"

	"github.com/pgvector/pgvector-go"

	"legal-snippets/domain"
)

// textArray binds a []string as a single text[] parameter. gorm would
// otherwise expand a plain slice into a list of placeholders.
type textArray []string

func (a textArray) Value() (driver.Value, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, s := range a {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s))
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String(), nil
}

// vectorArg binds an embedding, or NULL when there is none.
func vectorArg(e domain.Embedding) any {
	if e == nil {
		return nil
	}
	return pgvector.NewVector(e)
}

// escapeLike escapes the ILIKE wildcards and the default escape character.
func escapeLike(q string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(q)
}
