package services

import (
	"fmt"
	"strings"

	"github.com/vhalulu/academic-portfolio/models"
)

// FormatCitation renders the reference string for an article from its
// current field values: "Authors (Year). \"Title\". Journal". The journal
// segment is omitted when empty. Derived on every read, never persisted.
func FormatCitation(a *models.Article) string {
	names := make([]string, 0, len(a.Authors))
	for _, au := range a.Authors {
		if au.Name != "" {
			names = append(names, au.Name)
		}
	}
	authors := strings.Join(names, ", ")
	if authors == "" {
		authors = "Unknown Authors"
	}

	citation := fmt.Sprintf("%s (%d). %q", authors, a.Publication.Year, a.Title)
	if a.Publication.Journal != "" {
		citation += ". " + a.Publication.Journal
	}
	return citation
}
