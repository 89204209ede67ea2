package pdf

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/spherical/table-extractor/internal/domain"
)

// trailingNumber matches the page sequence at the end of a file stem,
// e.g. "page-10" or "page_007".
var trailingNumber = regexp.MustCompile(`(\d+)$`)

// ListPageImages returns the images in dir with the given extension, in page
// order. Names are ordered by their trailing number so that page-2 comes
// before page-10 whether or not the rasterizer zero padded them; names
// without a number sort lexically after numbered ones.
func ListPageImages(dir, format string) ([]domain.PageImage, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, domain.IOError("Failed to list page images", err)
	}

	ext := "." + strings.ToLower(format)
	type candidate struct {
		name   string
		num    int
		hasNum bool
	}

	var candidates []candidate
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.ToLower(filepath.Ext(name)) != ext {
			continue
		}

		c := candidate{name: name}
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		if m := trailingNumber.FindString(stem); m != "" {
			if n, err := strconv.Atoi(m); err == nil {
				c.num, c.hasNum = n, true
			}
		}
		candidates = append(candidates, c)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		switch {
		case a.hasNum && b.hasNum:
			if a.num != b.num {
				return a.num < b.num
			}
			return a.name < b.name
		case a.hasNum != b.hasNum:
			return a.hasNum
		default:
			return a.name < b.name
		}
	})

	images := make([]domain.PageImage, len(candidates))
	for i, c := range candidates {
		pageNumber := i + 1
		if c.hasNum {
			pageNumber = c.num
		}
		images[i] = domain.PageImage{
			PageNumber: pageNumber,
			ImagePath:  filepath.Join(dir, c.name),
		}
	}
	return images, nil
}
