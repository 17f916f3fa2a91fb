package services

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vhalulu/academic-portfolio/models"
)

// MemoryStore is the in-memory adapter of ArticleStore. It applies the same
// models.ArticleQuery plan as the postgres service, over a list it already
// holds, and backs the handler tests.
type MemoryStore struct {
	mu       sync.RWMutex
	nextID   uint
	articles []models.Article
}

// NewMemoryStore creates an empty in-memory article store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

// Load replaces the store contents with the given articles, assigning ids
// where missing.
func (m *MemoryStore) Load(articles []models.Article) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.articles = nil
	for _, a := range articles {
		if a.ID == 0 {
			a.ID = m.nextID
		}
		if a.ID >= m.nextID {
			m.nextID = a.ID + 1
		}
		m.articles = append(m.articles, a)
	}
}

// MatchArticle applies the full listing predicate of the query plan to one
// article. The base published=true condition is unconditional; search covers
// title/abstract substrings, exact tag membership, and, when
// includeAuthors is set, author-name substrings.
func MatchArticle(a *models.Article, q models.ArticleQuery, includeAuthors bool) bool {
	if !a.Published {
		return false
	}
	if q.Search != "" {
		term := strings.ToLower(q.Search)
		matched := strings.Contains(strings.ToLower(a.Title), term) ||
			strings.Contains(strings.ToLower(a.Abstract), term)
		if !matched {
			for _, tag := range a.Tags {
				if strings.ToLower(tag) == term {
					matched = true
					break
				}
			}
		}
		if !matched && includeAuthors {
			for _, au := range a.Authors {
				if strings.Contains(strings.ToLower(au.Name), term) {
					matched = true
					break
				}
			}
		}
		if !matched {
			return false
		}
	}
	if q.Category != "" {
		found := false
		for _, c := range a.Categories {
			if c == q.Category {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.Type != "" && string(a.Type) != q.Type {
		return false
	}
	if q.Year != 0 && a.Publication.Year != q.Year {
		return false
	}
	if q.Featured && !a.Featured {
		return false
	}
	return true
}

// sortListing orders by publishedAt descending, ties broken by createdAt
// descending.
func sortListing(articles []models.Article) {
	sort.SliceStable(articles, func(i, j int) bool {
		if !articles[i].PublishedAt.Equal(articles[j].PublishedAt) {
			return articles[i].PublishedAt.After(articles[j].PublishedAt)
		}
		return articles[i].CreatedAt.After(articles[j].CreatedAt)
	})
}

// FilterArticles is the reduced client-side filter applied to an
// already-fetched list: case-insensitive substring search over title,
// abstract and tags, plus independent type and year filters. No category
// filter, no author search, no pagination. Missing fields never match, and
// never panic.
func FilterArticles(articles []models.Article, search, articleType string, year int) []models.Article {
	term := strings.ToLower(strings.TrimSpace(search))
	out := make([]models.Article, 0, len(articles))
	for _, a := range articles {
		if term != "" {
			matched := strings.Contains(strings.ToLower(a.Title), term) ||
				strings.Contains(strings.ToLower(a.Abstract), term)
			if !matched {
				for _, tag := range a.Tags {
					if strings.Contains(strings.ToLower(tag), term) {
						matched = true
						break
					}
				}
			}
			if !matched {
				continue
			}
		}
		if articleType != "" && articleType != "all" && string(a.Type) != articleType {
			continue
		}
		if year != 0 && a.Publication.Year != year {
			continue
		}
		out = append(out, a)
	}
	return out
}

// List applies the query plan over the held articles.
func (m *MemoryStore) List(ctx context.Context, q models.ArticleQuery) ([]models.Article, error) {
	m.mu.RLock()
	matched := make([]models.Article, 0)
	for i := range m.articles {
		if MatchArticle(&m.articles[i], q, true) {
			matched = append(matched, m.articles[i])
		}
	}
	m.mu.RUnlock()

	sortListing(matched)

	offset := q.Offset()
	if offset >= len(matched) {
		return []models.Article{}, nil
	}
	end := offset + q.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

// Featured returns the most recent featured, published articles.
func (m *MemoryStore) Featured(ctx context.Context, limit int) ([]models.Article, error) {
	m.mu.RLock()
	matched := make([]models.Article, 0)
	for _, a := range m.articles {
		if a.Published && a.Featured {
			matched = append(matched, a)
		}
	}
	m.mu.RUnlock()

	sortListing(matched)
	if limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

// GetByIdentifier resolves by slug first, then by numeric id, and increments
// the view counter on success. The increment is synchronous here but keeps
// the same never-fails contract as the database adapter.
func (m *MemoryStore) GetByIdentifier(ctx context.Context, identifier string) (*models.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := -1
	for i := range m.articles {
		if m.articles[i].Published && m.articles[i].Slug == identifier {
			idx = i
			break
		}
	}
	if idx < 0 {
		if id, err := strconv.ParseUint(identifier, 10, 64); err == nil {
			for i := range m.articles {
				if m.articles[i].Published && m.articles[i].ID == uint(id) {
					idx = i
					break
				}
			}
		}
	}
	if idx < 0 {
		return nil, models.ErrNotFound
	}

	m.articles[idx].Views++
	a := m.articles[idx]
	return &a, nil
}

// Create persists a new article, enforcing slug uniqueness.
func (m *MemoryStore) Create(ctx context.Context, a *models.Article) error {
	a.Normalize()
	if err := a.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.articles {
		if m.articles[i].Slug == a.Slug {
			return models.ErrDuplicateSlug
		}
	}
	a.ID = m.nextID
	m.nextID++
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	m.articles = append(m.articles, *a)
	return nil
}

// Update applies a partial update by id, regenerating the slug on title
// changes.
func (m *MemoryStore) Update(ctx context.Context, id uint, changes models.ArticleUpdate) (*models.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.articles {
		if m.articles[i].ID != id {
			continue
		}
		a := m.articles[i]
		titleChanged := changes.ApplyTo(&a)
		a.Normalize()
		if err := a.Validate(); err != nil {
			return nil, err
		}
		if titleChanged {
			a.Slug = models.DeriveSlug(a.Title)
			for j := range m.articles {
				if j != i && m.articles[j].Slug == a.Slug {
					return nil, models.ErrDuplicateSlug
				}
			}
		}
		a.UpdatedAt = time.Now().UTC()
		m.articles[i] = a
		out := a
		return &out, nil
	}
	return nil, models.ErrNotFound
}

// Delete removes an article permanently.
func (m *MemoryStore) Delete(ctx context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.articles {
		if m.articles[i].ID == id {
			m.articles = append(m.articles[:i], m.articles[i+1:]...)
			return nil
		}
	}
	return models.ErrNotFound
}

// Stats rolls up collection totals.
func (m *MemoryStore) Stats(ctx context.Context) (ArticleStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stats ArticleStats
	for _, a := range m.articles {
		stats.TotalArticles++
		if a.Published {
			stats.PublishedArticles++
		} else {
			stats.DraftArticles++
		}
		if a.Featured {
			stats.FeaturedArticles++
		}
		stats.TotalViews += int64(a.Views)
		stats.TotalDownloads += int64(a.Downloads)
	}
	return stats, nil
}

// AttachFile appends an attachment descriptor.
func (m *MemoryStore) AttachFile(ctx context.Context, id uint, f models.ArticleFile) (*models.Article, error) {
	if !models.ValidFileType(f.FileType) {
		return nil, &models.ValidationError{Field: "files", Message: "invalid file type"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.articles {
		if m.articles[i].ID == id {
			m.articles[i].Files = append(m.articles[i].Files, f)
			a := m.articles[i]
			return &a, nil
		}
	}
	return nil, models.ErrNotFound
}

// RemoveFile drops an attachment descriptor and returns it.
func (m *MemoryStore) RemoveFile(ctx context.Context, id uint, filename string) (*models.ArticleFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.articles {
		if m.articles[i].ID != id {
			continue
		}
		for j, f := range m.articles[i].Files {
			if f.Filename == filename {
				removed := f
				m.articles[i].Files = append(m.articles[i].Files[:j], m.articles[i].Files[j+1:]...)
				return &removed, nil
			}
		}
		return nil, models.ErrNotFound
	}
	return nil, models.ErrNotFound
}

// FindFile resolves a published article and one of its attachments without
// incrementing views.
func (m *MemoryStore) FindFile(ctx context.Context, identifier, filename string) (*models.Article, *models.ArticleFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx := -1
	for i := range m.articles {
		if m.articles[i].Published && m.articles[i].Slug == identifier {
			idx = i
			break
		}
	}
	if idx < 0 {
		if id, err := strconv.ParseUint(identifier, 10, 64); err == nil {
			for i := range m.articles {
				if m.articles[i].Published && m.articles[i].ID == uint(id) {
					idx = i
					break
				}
			}
		}
	}
	if idx < 0 {
		return nil, nil, models.ErrNotFound
	}
	for _, f := range m.articles[idx].Files {
		if f.Filename == filename {
			a := m.articles[idx]
			found := f
			return &a, &found, nil
		}
	}
	return nil, nil, models.ErrNotFound
}

// IncrementDownloads bumps the download counter; failure is impossible here
// but the contract stays best-effort.
func (m *MemoryStore) IncrementDownloads(id uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.articles {
		if m.articles[i].ID == id {
			m.articles[i].Downloads++
			return
		}
	}
}

// ExportAll returns every article, drafts included.
func (m *MemoryStore) ExportAll(ctx context.Context) ([]models.Article, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Article, len(m.articles))
	copy(out, m.articles)
	return out, nil
}
