package services

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/vhalulu/academic-portfolio/models"
)

var (
	articleViewsCounter     prometheus.Counter
	articleDownloadsCounter prometheus.Counter
	articlesCreatedCounter  prometheus.Counter
)

func init() {
	articleViewsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "article_views_total",
		Help: "Total number of article view-count increments.",
	})
	articleDownloadsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "article_downloads_total",
		Help: "Total number of article download-count increments.",
	})
	articlesCreatedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "articles_created_total",
		Help: "Total number of articles created.",
	})
	prometheus.MustRegister(articleViewsCounter, articleDownloadsCounter, articlesCreatedCounter)
}

// ArticleStats is the roll-up returned by the admin stats route.
type ArticleStats struct {
	TotalArticles     int64 `json:"totalArticles"`
	PublishedArticles int64 `json:"publishedArticles"`
	DraftArticles     int64 `json:"draftArticles"`
	FeaturedArticles  int64 `json:"featuredArticles"`
	TotalViews        int64 `json:"totalViews"`
	TotalDownloads    int64 `json:"totalDownloads"`
}

// ArticleStore is the data-access contract the HTTP layer depends on. The
// postgres-backed ArticleService and the in-memory MemoryStore both apply the
// same models.ArticleQuery plan.
type ArticleStore interface {
	List(ctx context.Context, q models.ArticleQuery) ([]models.Article, error)
	Featured(ctx context.Context, limit int) ([]models.Article, error)
	// GetByIdentifier resolves by slug first, then by numeric id, and fires
	// the best-effort view increment on success.
	GetByIdentifier(ctx context.Context, identifier string) (*models.Article, error)
	Create(ctx context.Context, a *models.Article) error
	Update(ctx context.Context, id uint, changes models.ArticleUpdate) (*models.Article, error)
	Delete(ctx context.Context, id uint) error
	Stats(ctx context.Context) (ArticleStats, error)

	AttachFile(ctx context.Context, id uint, f models.ArticleFile) (*models.Article, error)
	RemoveFile(ctx context.Context, id uint, filename string) (*models.ArticleFile, error)
	// FindFile resolves an attachment descriptor without touching the view
	// counter; the download route increments downloads instead.
	FindFile(ctx context.Context, identifier, filename string) (*models.Article, *models.ArticleFile, error)
	IncrementDownloads(id uint)

	// ExportAll returns every article regardless of published state, for
	// backups.
	ExportAll(ctx context.Context) ([]models.Article, error)
}

// ArticleService is the postgres adapter of ArticleStore.
type ArticleService struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewArticleService creates the postgres-backed article store.
func NewArticleService(db *gorm.DB, logger *zap.Logger) *ArticleService {
	return &ArticleService{DB: db, Logger: logger}
}

// applyQuery translates the plan into gorm conditions. The author-name search
// only participates on the listing route.
func applyQuery(db *gorm.DB, q models.ArticleQuery, includeAuthors bool) *gorm.DB {
	db = db.Where("published = ?", true)
	if q.Search != "" {
		term := "%" + q.Search + "%"
		tagMatch, _ := json.Marshal([]string{strings.ToLower(q.Search)})
		cond := "(title ILIKE ? OR abstract ILIKE ? OR tags @> ?"
		args := []interface{}{term, term, string(tagMatch)}
		if includeAuthors {
			cond += " OR EXISTS (SELECT 1 FROM jsonb_array_elements(articles.authors) AS author WHERE author->>'name' ILIKE ?)"
			args = append(args, term)
		}
		cond += ")"
		db = db.Where(cond, args...)
	}
	if q.Category != "" {
		catMatch, _ := json.Marshal([]string{q.Category})
		db = db.Where("categories @> ?", string(catMatch))
	}
	if q.Type != "" {
		db = db.Where("type = ?", q.Type)
	}
	if q.Year != 0 {
		db = db.Where("publication->>'year' = ?", strconv.Itoa(q.Year))
	}
	if q.Featured {
		db = db.Where("featured = ?", true)
	}
	return db
}

// List returns a filtered, sorted, paginated page of published articles.
func (s *ArticleService) List(ctx context.Context, q models.ArticleQuery) ([]models.Article, error) {
	articles := make([]models.Article, 0, q.Limit)
	err := applyQuery(s.DB.WithContext(ctx).Model(&models.Article{}), q, true).
		Order("published_at DESC, created_at DESC").
		Offset(q.Offset()).
		Limit(q.Limit).
		Find(&articles).Error
	if err != nil {
		return nil, err
	}
	return articles, nil
}

// Featured returns the most recent featured, published articles.
func (s *ArticleService) Featured(ctx context.Context, limit int) ([]models.Article, error) {
	articles := make([]models.Article, 0, limit)
	err := s.DB.WithContext(ctx).
		Where("featured = ? AND published = ?", true, true).
		Order("published_at DESC").
		Limit(limit).
		Find(&articles).Error
	if err != nil {
		return nil, err
	}
	return articles, nil
}

// GetByIdentifier resolves a published article by slug, falling back to the
// primary key when the identifier is numeric. The same route parameter
// doubles as the public identifier, so the fallback order must stay fixed.
func (s *ArticleService) GetByIdentifier(ctx context.Context, identifier string) (*models.Article, error) {
	var a models.Article
	err := s.DB.WithContext(ctx).
		Where("slug = ? AND published = ?", identifier, true).
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if id, convErr := strconv.ParseUint(identifier, 10, 64); convErr == nil {
			err = s.DB.WithContext(ctx).
				Where("id = ? AND published = ?", id, true).
				First(&a).Error
		}
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}

	// Fire-and-forget: the response never waits on, or fails because of,
	// the counter.
	go s.incrementCounter(a.ID, "views")

	return &a, nil
}

// incrementCounter bumps views or downloads by one. Failures are logged and
// swallowed; concurrent increments may race and that is accepted.
func (s *ArticleService) incrementCounter(id uint, column string) {
	err := s.DB.Model(&models.Article{}).
		Where("id = ?", id).
		UpdateColumn(column, gorm.Expr(column+" + 1")).Error
	if err != nil {
		s.Logger.Warn("could not increment counter",
			zap.String("column", column),
			zap.Uint("article_id", id),
			zap.Error(err))
		return
	}
	switch column {
	case "views":
		articleViewsCounter.Inc()
	case "downloads":
		articleDownloadsCounter.Inc()
	}
}

// IncrementDownloads bumps the download counter without blocking the caller.
func (s *ArticleService) IncrementDownloads(id uint) {
	go s.incrementCounter(id, "downloads")
}

// Create validates and persists a new article. The slug has already been
// derived from the title; a collision surfaces as ErrDuplicateSlug.
func (s *ArticleService) Create(ctx context.Context, a *models.Article) error {
	a.Normalize()
	if err := a.Validate(); err != nil {
		return err
	}
	if err := s.DB.WithContext(ctx).Create(a).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return models.ErrDuplicateSlug
		}
		return err
	}
	articlesCreatedCounter.Inc()
	return nil
}

// Update applies a partial update by primary key. A title change regenerates
// the slug; unrelated edits never touch it.
func (s *ArticleService) Update(ctx context.Context, id uint, changes models.ArticleUpdate) (*models.Article, error) {
	var a models.Article
	if err := s.DB.WithContext(ctx).First(&a, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}

	titleChanged := changes.ApplyTo(&a)
	a.Normalize()
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if titleChanged {
		a.Slug = models.DeriveSlug(a.Title)
	}

	if err := s.DB.WithContext(ctx).Save(&a).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, models.ErrDuplicateSlug
		}
		return nil, err
	}
	return &a, nil
}

// Delete removes an article permanently. Soft deletion is not supported.
func (s *ArticleService) Delete(ctx context.Context, id uint) error {
	res := s.DB.WithContext(ctx).Delete(&models.Article{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Stats rolls up collection totals for the admin route.
func (s *ArticleService) Stats(ctx context.Context) (ArticleStats, error) {
	var stats ArticleStats
	err := s.DB.WithContext(ctx).Raw(`
		SELECT
			COUNT(*)                                    AS total_articles,
			COUNT(*) FILTER (WHERE published)           AS published_articles,
			COUNT(*) FILTER (WHERE NOT published)       AS draft_articles,
			COUNT(*) FILTER (WHERE featured)            AS featured_articles,
			COALESCE(SUM(views), 0)                     AS total_views,
			COALESCE(SUM(downloads), 0)                 AS total_downloads
		FROM articles`).Scan(&stats).Error
	return stats, err
}

// AttachFile appends an attachment descriptor to an article.
func (s *ArticleService) AttachFile(ctx context.Context, id uint, f models.ArticleFile) (*models.Article, error) {
	var a models.Article
	if err := s.DB.WithContext(ctx).First(&a, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	if !models.ValidFileType(f.FileType) {
		return nil, &models.ValidationError{Field: "files", Message: "invalid file type " + strconv.Quote(f.FileType)}
	}
	a.Files = append(a.Files, f)
	if err := s.DB.WithContext(ctx).Model(&a).UpdateColumn("files", a.Files).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// RemoveFile drops an attachment descriptor and returns it so the caller can
// delete the underlying object.
func (s *ArticleService) RemoveFile(ctx context.Context, id uint, filename string) (*models.ArticleFile, error) {
	var a models.Article
	if err := s.DB.WithContext(ctx).First(&a, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	for i, f := range a.Files {
		if f.Filename == filename {
			removed := f
			a.Files = append(a.Files[:i], a.Files[i+1:]...)
			if err := s.DB.WithContext(ctx).Model(&a).UpdateColumn("files", a.Files).Error; err != nil {
				return nil, err
			}
			return &removed, nil
		}
	}
	return nil, models.ErrNotFound
}

// FindFile resolves a published article by identifier and one of its
// attachment descriptors by stored filename.
func (s *ArticleService) FindFile(ctx context.Context, identifier, filename string) (*models.Article, *models.ArticleFile, error) {
	var a models.Article
	err := s.DB.WithContext(ctx).
		Where("slug = ? AND published = ?", identifier, true).
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if id, convErr := strconv.ParseUint(identifier, 10, 64); convErr == nil {
			err = s.DB.WithContext(ctx).
				Where("id = ? AND published = ?", id, true).
				First(&a).Error
		}
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, models.ErrNotFound
		}
		return nil, nil, err
	}
	for _, f := range a.Files {
		if f.Filename == filename {
			found := f
			return &a, &found, nil
		}
	}
	return nil, nil, models.ErrNotFound
}

// ExportAll loads the full table, drafts included, for the backup job.
func (s *ArticleService) ExportAll(ctx context.Context) ([]models.Article, error) {
	articles := make([]models.Article, 0)
	err := s.DB.WithContext(ctx).Order("id").Find(&articles).Error
	if err != nil {
		return nil, err
	}
	return articles, nil
}
