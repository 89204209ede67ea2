package extract

import "github.com/spherical/table-extractor/internal/domain"

// Aggregate concatenates per-page rows in page order. Pages that yielded
// nothing contribute nothing. The result is never nil.
func Aggregate(pages [][]domain.Row) []domain.Row {
	total := 0
	for _, rows := range pages {
		total += len(rows)
	}

	out := make([]domain.Row, 0, total)
	for _, rows := range pages {
		out = append(out, rows...)
	}
	return out
}
