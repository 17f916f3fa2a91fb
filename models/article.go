package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ArticleType classifies a publication record.
type ArticleType string

const (
	TypeJournalArticle  ArticleType = "journal_article"
	TypeConferencePaper ArticleType = "conference_paper"
	TypeWorkingPaper    ArticleType = "working_paper"
	TypeBlogPost        ArticleType = "blog_post"
	TypeResearchNote    ArticleType = "research_note"
	TypeAcademicWork    ArticleType = "academic_work"
)

var validArticleTypes = map[ArticleType]bool{
	TypeJournalArticle:  true,
	TypeConferencePaper: true,
	TypeWorkingPaper:    true,
	TypeBlogPost:        true,
	TypeResearchNote:    true,
	TypeAcademicWork:    true,
}

// Valid reports whether t is one of the fixed article types.
func (t ArticleType) Valid() bool { return validArticleTypes[t] }

// ArticleStatus tracks the editorial state of an article.
type ArticleStatus string

const (
	StatusPublished    ArticleStatus = "published"
	StatusUnderReview  ArticleStatus = "under_review"
	StatusWorkingPaper ArticleStatus = "working_paper"
	StatusDraft        ArticleStatus = "draft"
)

var validStatuses = map[ArticleStatus]bool{
	StatusPublished:    true,
	StatusUnderReview:  true,
	StatusWorkingPaper: true,
	StatusDraft:        true,
}

// Valid reports whether s is one of the fixed statuses.
func (s ArticleStatus) Valid() bool { return validStatuses[s] }

var validResearchFields = map[string]bool{
	"economics":       true,
	"statistics":      true,
	"data_science":    true,
	"econometrics":    true,
	"policy_analysis": true,
	"development":     true,
	"other":           true,
}

var validFileTypes = map[string]bool{
	"pdf":  true,
	"doc":  true,
	"docx": true,
	"csv":  true,
	"xlsx": true,
}

// ValidFileType reports whether t is an accepted attachment type.
func ValidFileType(t string) bool { return validFileTypes[t] }

var validLinkTypes = map[string]bool{
	"journal":  true,
	"preprint": true,
	"data":     true,
	"code":     true,
	"slides":   true,
	"other":    true,
}

// Field length limits enforced at the write boundary.
const (
	MaxTitleLength    = 200
	MaxAbstractLength = 2000
	MaxContentLength  = 50000
	MaxSlugLength     = 100
	MinPublicationYear = 2000
)

// Author is one entry in an article's ordered author list.
type Author struct {
	Name         string `json:"name"`
	Affiliation  string `json:"affiliation,omitempty"`
	Email        string `json:"email,omitempty"`
	IsMainAuthor bool   `json:"isMainAuthor"`
}

// Publication holds the bibliographic details of where an article appeared.
type Publication struct {
	Journal string `json:"journal,omitempty"`
	Year    int    `json:"year"`
	Volume  string `json:"volume,omitempty"`
	Pages   string `json:"pages,omitempty"`
	DOI     string `json:"doi,omitempty"`
	URL     string `json:"url,omitempty"`
}

// ArticleFile describes an attachment stored in object storage.
type ArticleFile struct {
	Filename     string    `json:"filename"`
	OriginalName string    `json:"originalName"`
	FileType     string    `json:"fileType"`
	Size         int64     `json:"size"`
	UploadDate   time.Time `json:"uploadDate"`
	Description  string    `json:"description,omitempty"`
}

// ArticleLink is an external resource associated with an article.
type ArticleLink struct {
	URL         string `json:"url"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

// AuthorList is stored as a jsonb column.
type AuthorList []Author

func (l AuthorList) Value() (driver.Value, error) {
	if l == nil {
		l = AuthorList{}
	}
	return json.Marshal(l)
}

func (l *AuthorList) Scan(value interface{}) error { return scanJSON(value, l) }

// FileList is stored as a jsonb column.
type FileList []ArticleFile

func (l FileList) Value() (driver.Value, error) {
	if l == nil {
		l = FileList{}
	}
	return json.Marshal(l)
}

func (l *FileList) Scan(value interface{}) error { return scanJSON(value, l) }

// LinkList is stored as a jsonb column.
type LinkList []ArticleLink

func (l LinkList) Value() (driver.Value, error) {
	if l == nil {
		l = LinkList{}
	}
	return json.Marshal(l)
}

func (l *LinkList) Scan(value interface{}) error { return scanJSON(value, l) }

// StringList is a jsonb-backed list of lower-cased trimmed strings.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		l = StringList{}
	}
	return json.Marshal(l)
}

func (l *StringList) Scan(value interface{}) error { return scanJSON(value, l) }

func (p Publication) Value() (driver.Value, error) { return json.Marshal(p) }

func (p *Publication) Scan(value interface{}) error { return scanJSON(value, p) }

func scanJSON(value, dest interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("cannot scan %T into jsonb field", value)
	}
}

// Article is the sole persisted entity: a publication record on the portfolio.
type Article struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Title    string `json:"title" gorm:"not null"`
	Abstract string `json:"abstract" gorm:"type:text;not null"`
	Content  string `json:"content,omitempty" gorm:"type:text"`

	Authors     AuthorList  `json:"authors" gorm:"type:jsonb;default:'[]'"`
	Publication Publication `json:"publication" gorm:"type:jsonb"`

	Type   ArticleType   `json:"type" gorm:"index;not null"`
	Status ArticleStatus `json:"status" gorm:"index;default:'draft'"`

	Categories     StringList `json:"categories" gorm:"type:jsonb;default:'[]'"`
	Tags           StringList `json:"tags" gorm:"type:jsonb;default:'[]'"`
	ResearchFields StringList `json:"researchFields" gorm:"column:research_fields;type:jsonb;default:'[]'"`

	Files FileList `json:"files" gorm:"type:jsonb;default:'[]'"`
	Links LinkList `json:"links" gorm:"type:jsonb;default:'[]'"`

	Views     int `json:"views" gorm:"default:0"`
	Downloads int `json:"downloads" gorm:"default:0"`

	Featured bool `json:"featured" gorm:"index;default:false"`
	// Published gates public visibility entirely; unpublished articles are
	// invisible to every read path.
	Published bool `json:"published" gorm:"index"`

	PublishedAt time.Time `json:"published_at" gorm:"index"`

	MetaDescription string `json:"meta_description,omitempty"`

	Slug string `json:"slug" gorm:"uniqueIndex;size:100;not null"`
}

// TableName sets the explicit table name.
func (Article) TableName() string {
	return "articles"
}

var (
	slugDisallowed = regexp.MustCompile(`[^a-z0-9\s-]`)
	slugWhitespace = regexp.MustCompile(`\s+`)
	slugHyphenRuns = regexp.MustCompile(`-+`)
)

// DeriveSlug produces the URL-safe identifier for a title: lower-case, strip
// everything outside letters/digits/spaces/hyphens, collapse whitespace runs
// to single hyphens, collapse repeated hyphens, truncate to 100 characters.
// Deterministic and idempotent on its own output; permalinks depend on every
// write path using exactly this transformation.
func DeriveSlug(title string) string {
	s := strings.ToLower(title)
	s = slugDisallowed.ReplaceAllString(s, "")
	s = slugWhitespace.ReplaceAllString(s, "-")
	s = slugHyphenRuns.ReplaceAllString(s, "-")
	if len(s) > MaxSlugLength {
		s = s[:MaxSlugLength]
	}
	return s
}

// Sentinel errors mapped to HTTP status codes at the route layer.
var (
	ErrNotFound      = errors.New("article not found")
	ErrDuplicateSlug = errors.New("article with this title already exists")
)

// ValidationError reports the first field that failed write-boundary
// validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Normalize trims and lower-cases the tag-like sets and applies defaults.
// Called before Validate on every write.
func (a *Article) Normalize() {
	a.Title = strings.TrimSpace(a.Title)
	a.Categories = normalizeSet(a.Categories)
	a.Tags = normalizeSet(a.Tags)
	a.ResearchFields = normalizeSet(a.ResearchFields)
	for i := range a.Authors {
		a.Authors[i].Name = strings.TrimSpace(a.Authors[i].Name)
		a.Authors[i].Email = strings.ToLower(strings.TrimSpace(a.Authors[i].Email))
	}
	for i := range a.Links {
		if a.Links[i].Type == "" {
			a.Links[i].Type = "other"
		}
	}
	if a.Status == "" {
		a.Status = StatusDraft
	}
	if a.PublishedAt.IsZero() {
		a.PublishedAt = time.Now().UTC()
	}
}

func normalizeSet(in StringList) StringList {
	out := make(StringList, 0, len(in))
	seen := map[string]bool{}
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// Validate enforces the write-boundary invariants: required fields, fixed
// enumerations, bounded lengths and year range. Reads are never validated.
func (a *Article) Validate() error {
	if a.Title == "" {
		return invalid("title", "article title is required")
	}
	if len(a.Title) > MaxTitleLength {
		return invalid("title", "title cannot be more than %d characters", MaxTitleLength)
	}
	if a.Abstract == "" {
		return invalid("abstract", "abstract is required")
	}
	if len(a.Abstract) > MaxAbstractLength {
		return invalid("abstract", "abstract cannot be more than %d characters", MaxAbstractLength)
	}
	if len(a.Content) > MaxContentLength {
		return invalid("content", "content cannot be more than %d characters", MaxContentLength)
	}
	for i, au := range a.Authors {
		if au.Name == "" {
			return invalid("authors", "author %d is missing a name", i+1)
		}
	}
	if a.Publication.Year == 0 {
		return invalid("publication.year", "publication year is required")
	}
	maxYear := time.Now().Year() + 5
	if a.Publication.Year < MinPublicationYear || a.Publication.Year > maxYear {
		return invalid("publication.year", "year must be between %d and %d", MinPublicationYear, maxYear)
	}
	if !a.Type.Valid() {
		return invalid("type", "invalid article type %q", a.Type)
	}
	if !a.Status.Valid() {
		return invalid("status", "invalid status %q", a.Status)
	}
	for _, f := range a.ResearchFields {
		if !validResearchFields[f] {
			return invalid("researchFields", "invalid research field %q", f)
		}
	}
	for _, f := range a.Files {
		if f.FileType != "" && !validFileTypes[f.FileType] {
			return invalid("files", "invalid file type %q", f.FileType)
		}
	}
	for i, l := range a.Links {
		if l.URL == "" {
			return invalid("links", "link %d is missing a url", i+1)
		}
		if l.Description == "" {
			return invalid("links", "link %d is missing a description", i+1)
		}
		if !validLinkTypes[l.Type] {
			return invalid("links", "invalid link type %q", l.Type)
		}
	}
	return nil
}

// ArticleInput is the create payload. Published defaults to true when absent,
// which a plain bool cannot express.
type ArticleInput struct {
	Title           string        `json:"title"`
	Abstract        string        `json:"abstract"`
	Content         string        `json:"content"`
	Authors         AuthorList    `json:"authors"`
	Publication     Publication   `json:"publication"`
	Type            ArticleType   `json:"type"`
	Status          ArticleStatus `json:"status"`
	Categories      StringList    `json:"categories"`
	Tags            StringList    `json:"tags"`
	ResearchFields  StringList    `json:"researchFields"`
	Links           LinkList      `json:"links"`
	Featured        bool          `json:"featured"`
	Published       *bool         `json:"published"`
	PublishedAt     *time.Time    `json:"published_at"`
	MetaDescription string        `json:"meta_description"`
}

// Article builds the entity with defaults applied and the slug derived from
// the title.
func (in ArticleInput) Article() *Article {
	a := &Article{
		Title:           in.Title,
		Abstract:        in.Abstract,
		Content:         in.Content,
		Authors:         in.Authors,
		Publication:     in.Publication,
		Type:            in.Type,
		Status:          in.Status,
		Categories:      in.Categories,
		Tags:            in.Tags,
		ResearchFields:  in.ResearchFields,
		Links:           in.Links,
		Featured:        in.Featured,
		Published:       true,
		MetaDescription: in.MetaDescription,
	}
	if in.Published != nil {
		a.Published = *in.Published
	}
	if in.PublishedAt != nil {
		a.PublishedAt = *in.PublishedAt
	}
	a.Normalize()
	a.Slug = DeriveSlug(a.Title)
	return a
}

// ArticleUpdate is the partial-update payload; nil fields are left untouched.
type ArticleUpdate struct {
	Title           *string        `json:"title"`
	Abstract        *string        `json:"abstract"`
	Content         *string        `json:"content"`
	Authors         *AuthorList    `json:"authors"`
	Publication     *Publication   `json:"publication"`
	Type            *ArticleType   `json:"type"`
	Status          *ArticleStatus `json:"status"`
	Categories      *StringList    `json:"categories"`
	Tags            *StringList    `json:"tags"`
	ResearchFields  *StringList    `json:"researchFields"`
	Links           *LinkList      `json:"links"`
	Featured        *bool          `json:"featured"`
	Published       *bool          `json:"published"`
	PublishedAt     *time.Time     `json:"published_at"`
	MetaDescription *string        `json:"meta_description"`
}

// ApplyTo copies the set fields onto a and reports whether the title changed.
// The slug is regenerated only on a title change, never on unrelated edits.
func (u ArticleUpdate) ApplyTo(a *Article) (titleChanged bool) {
	if u.Title != nil && strings.TrimSpace(*u.Title) != a.Title {
		a.Title = *u.Title
		titleChanged = true
	}
	if u.Abstract != nil {
		a.Abstract = *u.Abstract
	}
	if u.Content != nil {
		a.Content = *u.Content
	}
	if u.Authors != nil {
		a.Authors = *u.Authors
	}
	if u.Publication != nil {
		a.Publication = *u.Publication
	}
	if u.Type != nil {
		a.Type = *u.Type
	}
	if u.Status != nil {
		a.Status = *u.Status
	}
	if u.Categories != nil {
		a.Categories = *u.Categories
	}
	if u.Tags != nil {
		a.Tags = *u.Tags
	}
	if u.ResearchFields != nil {
		a.ResearchFields = *u.ResearchFields
	}
	if u.Links != nil {
		a.Links = *u.Links
	}
	if u.Featured != nil {
		a.Featured = *u.Featured
	}
	if u.Published != nil {
		a.Published = *u.Published
	}
	if u.PublishedAt != nil {
		a.PublishedAt = *u.PublishedAt
	}
	if u.MetaDescription != nil {
		a.MetaDescription = *u.MetaDescription
	}
	return titleChanged
}
