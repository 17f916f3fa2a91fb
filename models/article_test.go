package models

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveSlug(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  string
	}{
		{"question mark stripped", "Do Anti-Texting Laws Work?", "do-anti-texting-laws-work"},
		{"punctuation and ampersand", "The Impact of X & Y!!", "the-impact-of-x-y"},
		{"plain title", "Household Food Security", "household-food-security"},
		{"existing hyphens collapse", "forage -- condition  report", "forage-condition-report"},
		{"unicode stripped", "Économie et développement", "conomie-et-dveloppement"},
		{"truncated to 100", strings.Repeat("a", 150), strings.Repeat("a", 100)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveSlug(tt.title))
		})
	}
}

func TestDeriveSlugIdempotent(t *testing.T) {
	titles := []string{
		"Do Anti-Texting Laws Work?",
		"The Impact of X & Y!!",
		"a  b   c",
	}
	for _, title := range titles {
		once := DeriveSlug(title)
		assert.Equal(t, once, DeriveSlug(once), "reapplying to %q changed the slug", title)
	}
}

func validArticle() *Article {
	return &Article{
		Title:    "Forage condition and food security",
		Abstract: "A study of forage conditions in drylands.",
		Authors: AuthorList{
			{Name: "Vincent H. Alulu", IsMainAuthor: true},
		},
		Publication: Publication{Journal: "Food Security", Year: 2024},
		Type:        TypeJournalArticle,
		Status:      StatusPublished,
		Tags:        StringList{"forage"},
		Links: LinkList{
			{URL: "https://doi.org/10.1007/x", Description: "Journal version", Type: "journal"},
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(a *Article)
		wantErr string // empty means valid
	}{
		{"valid", func(a *Article) {}, ""},
		{"missing title", func(a *Article) { a.Title = "" }, "title"},
		{"missing abstract", func(a *Article) { a.Abstract = "" }, "abstract"},
		{"title too long", func(a *Article) { a.Title = strings.Repeat("x", 201) }, "title"},
		{"abstract too long", func(a *Article) { a.Abstract = strings.Repeat("x", 2001) }, "abstract"},
		{"content too long", func(a *Article) { a.Content = strings.Repeat("x", 50001) }, "content"},
		{"author without name", func(a *Article) { a.Authors = AuthorList{{Affiliation: "ILRI"}} }, "authors"},
		{"missing year", func(a *Article) { a.Publication.Year = 0 }, "publication.year"},
		{"year before 2000", func(a *Article) { a.Publication.Year = 1999 }, "publication.year"},
		{"year too far out", func(a *Article) { a.Publication.Year = time.Now().Year() + 6 }, "publication.year"},
		{"invalid type", func(a *Article) { a.Type = "thesis" }, "type"},
		{"invalid status", func(a *Article) { a.Status = "archived" }, "status"},
		{"invalid research field", func(a *Article) { a.ResearchFields = StringList{"astrology"} }, "researchFields"},
		{"invalid file type", func(a *Article) { a.Files = FileList{{Filename: "x.exe", FileType: "exe"}} }, "files"},
		{"link without url", func(a *Article) { a.Links = LinkList{{Description: "d", Type: "other"}} }, "links"},
		{"link without description", func(a *Article) { a.Links = LinkList{{URL: "https://x", Type: "other"}} }, "links"},
		{"invalid link type", func(a *Article) { a.Links = LinkList{{URL: "https://x", Description: "d", Type: "mirror"}} }, "links"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := validArticle()
			tt.mutate(a)
			err := a.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.wantErr, ve.Field)
		})
	}
}

func TestNormalize(t *testing.T) {
	a := validArticle()
	a.Tags = StringList{" Forage ", "KENYA", "forage", ""}
	a.Categories = StringList{"Food Security"}
	a.Links = LinkList{{URL: "https://x", Description: "d"}}
	a.Status = ""
	a.PublishedAt = time.Time{}

	a.Normalize()

	assert.Equal(t, StringList{"forage", "kenya"}, a.Tags)
	assert.Equal(t, StringList{"food security"}, a.Categories)
	assert.Equal(t, "other", a.Links[0].Type)
	assert.Equal(t, StatusDraft, a.Status)
	assert.False(t, a.PublishedAt.IsZero())
}

func TestArticleInputDefaults(t *testing.T) {
	in := ArticleInput{
		Title:       "Some New Paper",
		Abstract:    "Abstract.",
		Publication: Publication{Year: 2024},
		Type:        TypeWorkingPaper,
	}

	a := in.Article()
	assert.True(t, a.Published, "published defaults to true when absent")
	assert.Equal(t, StatusDraft, a.Status)
	assert.Equal(t, "some-new-paper", a.Slug)
	assert.False(t, a.PublishedAt.IsZero())

	unpublished := false
	in.Published = &unpublished
	a = in.Article()
	assert.False(t, a.Published, "explicit false must be kept")
}

func TestApplyToRegeneratesSlugOnlyOnTitleChange(t *testing.T) {
	a := validArticle()
	a.Slug = DeriveSlug(a.Title)

	newAbstract := "Revised abstract."
	changed := ArticleUpdate{Abstract: &newAbstract}.ApplyTo(a)
	assert.False(t, changed, "unrelated edit must not report a title change")

	newTitle := "A Completely Different Title"
	changed = ArticleUpdate{Title: &newTitle}.ApplyTo(a)
	assert.True(t, changed)

	sameTitle := a.Title
	changed = ArticleUpdate{Title: &sameTitle}.ApplyTo(a)
	assert.False(t, changed, "setting the identical title is not a change")
}
