package ingest

import (
	"strings"

	"github.com/mozillazg/go-unidecode"
	"golang.org/x/text/unicode/norm"

	"geekcatalog/models"
)

// foldTitle is the comparison key for titles: transliterated to ASCII,
// lower-cased, whitespace collapsed.
func foldTitle(s string) string {
	s = unidecode.Unidecode(norm.NFKC.String(s))
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// NormalizeTitles cleans provider alternative titles for a record named
// name: values are trimmed and NFC-normalized, and entries that fold to the
// display name or to an earlier entry are dropped.
func NormalizeTitles(name string, titles []string) []models.AlternativeTitle {
	if len(titles) == 0 {
		return nil
	}
	seen := map[string]struct{}{foldTitle(name): {}}
	out := make([]models.AlternativeTitle, 0, len(titles))
	for _, t := range titles {
		t = norm.NFC.String(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		key := foldTitle(t)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, models.AlternativeTitle{Title: t})
	}
	return out
}
