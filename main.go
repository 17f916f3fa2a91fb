package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vhalulu/academic-portfolio/config"
	"github.com/vhalulu/academic-portfolio/models"
	"github.com/vhalulu/academic-portfolio/services"
	"github.com/vhalulu/academic-portfolio/storage"
)

// apiKeyAuthMiddleware guards mutating endpoints with a shared key. With no
// key configured every request passes, which matches the current admin
// setup; proper per-user auth is a future addition.
func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" || c.Request.Method == http.MethodGet {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to articles database.")

	logging.Info("Running database auto-migration...")
	if err := db.AutoMigrate(&models.Article{}); err != nil {
		logging.Fatal("Auto-migration failed", zap.Error(err))
	}

	seedSampleArticles(db, logging)

	store := services.NewArticleService(db, logging)

	objects, err := storage.NewS3Store(cfg)
	if err != nil {
		logging.Fatal("S3 client creation failed", zap.Error(err))
	}

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(apiKeyAuthMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	setupHealthRoutes(router, cfg)
	setupArticleRoutes(router, store, logging)
	setupFileRoutes(router, store, objects, logging)

	cronScheduler := cron.New()
	cronScheduler.AddFunc(cfg.BackupSchedule, func() {
		logging.Info("Running scheduled backup job...")
		if err := runBackup(context.Background(), store, objects, cfg); err != nil {
			logging.Error("Backup job failed", zap.Error(err))
		} else {
			logging.Info("Backup job completed")
		}
	})
	cronScheduler.Start()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

func setupHealthRoutes(router *gin.Engine, cfg *config.Config) {
	router.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"success":     true,
			"status":      "OK",
			"message":     "Backend is working!",
			"environment": cfg.Environment,
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
		})
	})
}

// articleResponse is the single-article payload: the record plus its derived
// citation, recomputed on every read.
type articleResponse struct {
	*models.Article
	Citation string `json:"citation"`
}

func setupArticleRoutes(router *gin.Engine, store services.ArticleStore, log *zap.Logger) {
	rg := router.Group("/api/articles")

	// GET all articles (public). Returns a bare array, not an envelope.
	rg.GET("", func(c *gin.Context) {
		q := models.ParseArticleQuery(c.Request.URL.Query())
		articles, err := store.List(c.Request.Context(), q)
		if err != nil {
			log.Error("Database query for articles failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error":   "Failed to fetch articles",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, articles)
	})

	// GET featured articles (public). Must be registered before /:identifier.
	rg.GET("/featured/list", func(c *gin.Context) {
		limit := models.ParseLimit(c.Query("limit"), models.DefaultFeaturedLimit)
		articles, err := store.Featured(c.Request.Context(), limit)
		if err != nil {
			log.Error("Database query for featured articles failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error":   "Failed to fetch featured articles",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, articles)
	})

	// GET article statistics (admin).
	rg.GET("/admin/stats", func(c *gin.Context) {
		stats, err := store.Stats(c.Request.Context())
		if err != nil {
			log.Error("Database query for article stats failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error":   "Failed to fetch statistics",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
	})

	// GET single article by slug or id (public). Increments views.
	rg.GET("/:identifier", func(c *gin.Context) {
		identifier := c.Param("identifier")
		article, err := store.GetByIdentifier(c.Request.Context(), identifier)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{
					"success": false,
					"error":   "Article not found",
				})
				return
			}
			log.Error("Database error while fetching article", zap.String("identifier", identifier), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error":   "Failed to fetch article",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, articleResponse{Article: article, Citation: services.FormatCitation(article)})
	})

	// POST new article (admin).
	rg.POST("", func(c *gin.Context) {
		var input models.ArticleInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body"})
			return
		}
		if input.Title == "" || input.Abstract == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "Title and abstract are required",
			})
			return
		}

		article := input.Article()
		if err := store.Create(c.Request.Context(), article); err != nil {
			var ve *models.ValidationError
			switch {
			case errors.Is(err, models.ErrDuplicateSlug):
				c.JSON(http.StatusBadRequest, gin.H{
					"success": false,
					"error":   "Article with this title already exists",
				})
			case errors.As(err, &ve):
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": ve.Error()})
			default:
				log.Error("Failed to create article", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{
					"success": false,
					"error":   "Failed to create article",
					"message": err.Error(),
				})
			}
			return
		}

		log.Info("Article created", zap.Uint("id", article.ID), zap.String("slug", article.Slug))
		c.JSON(http.StatusCreated, gin.H{
			"success": true,
			"message": "Article created successfully",
			"article": article,
		})
	})

	// PUT update article by id (admin). Partial update; a title change
	// regenerates the slug.
	rg.PUT("/:identifier", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("identifier"), 10, 64)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Article not found"})
			return
		}
		var changes models.ArticleUpdate
		if err := c.ShouldBindJSON(&changes); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body"})
			return
		}

		article, err := store.Update(c.Request.Context(), uint(id), changes)
		if err != nil {
			var ve *models.ValidationError
			switch {
			case errors.Is(err, models.ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Article not found"})
			case errors.Is(err, models.ErrDuplicateSlug):
				c.JSON(http.StatusBadRequest, gin.H{
					"success": false,
					"error":   "Article with this title already exists",
				})
			case errors.As(err, &ve):
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": ve.Error()})
			default:
				log.Error("Failed to update article", zap.Uint64("id", id), zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{
					"success": false,
					"error":   "Failed to update article",
					"message": err.Error(),
				})
			}
			return
		}

		log.Info("Article updated", zap.Uint("id", article.ID), zap.String("slug", article.Slug))
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Article updated successfully",
			"article": article,
		})
	})

	// DELETE article by id (admin). Hard removal.
	rg.DELETE("/:identifier", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("identifier"), 10, 64)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Article not found"})
			return
		}
		if err := store.Delete(c.Request.Context(), uint(id)); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Article not found"})
				return
			}
			log.Error("Failed to delete article", zap.Uint64("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error":   "Failed to delete article",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Article deleted successfully",
		})
	})
}

// objectKey places attachments under a per-article prefix. Descriptors store
// only the generated filename so it can double as a route parameter.
func objectKey(articleID uint, filename string) string {
	return fmt.Sprintf("articles/%d/%s", articleID, filename)
}

var attachmentContentTypes = map[string]string{
	"pdf":  "application/pdf",
	"doc":  "application/msword",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"csv":  "text/csv",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

func setupFileRoutes(router *gin.Engine, store services.ArticleStore, objects storage.ObjectStore, log *zap.Logger) {
	rg := router.Group("/api/articles")

	// POST file attachment (admin).
	rg.POST("/:identifier/files", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("identifier"), 10, 64)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Article not found"})
			return
		}

		header, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "'file' form field is required"})
			return
		}
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(header.Filename)), ".")
		if !models.ValidFileType(ext) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Unsupported file type"})
			return
		}

		src, err := header.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Could not read uploaded file"})
			return
		}
		defer src.Close()
		data, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Could not read uploaded file"})
			return
		}

		file := models.ArticleFile{
			Filename:     fmt.Sprintf("%s.%s", uuid.NewString(), ext),
			OriginalName: header.Filename,
			FileType:     ext,
			Size:         header.Size,
			UploadDate:   time.Now().UTC(),
			Description:  c.PostForm("description"),
		}

		if err := objects.Upload(c.Request.Context(), objectKey(uint(id), file.Filename), data); err != nil {
			log.Error("Failed to upload attachment", zap.Uint64("article_id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error":   "Failed to store file",
				"message": err.Error(),
			})
			return
		}

		article, err := store.AttachFile(c.Request.Context(), uint(id), file)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Article not found"})
				return
			}
			log.Error("Failed to attach file", zap.Uint64("article_id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error":   "Failed to attach file",
				"message": err.Error(),
			})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"success": true,
			"message": "File uploaded successfully",
			"article": article,
		})
	})

	// GET file attachment (public). Increments downloads best-effort.
	rg.GET("/:identifier/files/:filename", func(c *gin.Context) {
		identifier := c.Param("identifier")
		filename := c.Param("filename")

		article, file, err := store.FindFile(c.Request.Context(), identifier, filename)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "File not found"})
				return
			}
			log.Error("Database error while resolving attachment", zap.String("identifier", identifier), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error":   "Failed to fetch file",
				"message": err.Error(),
			})
			return
		}

		data, err := objects.Download(c.Request.Context(), objectKey(article.ID, file.Filename))
		if err != nil {
			log.Error("Failed to download attachment", zap.String("key", file.Filename), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error":   "Failed to fetch file",
				"message": err.Error(),
			})
			return
		}

		store.IncrementDownloads(article.ID)

		contentType := attachmentContentTypes[file.FileType]
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.OriginalName))
		c.Data(http.StatusOK, contentType, data)
	})

	// DELETE file attachment (admin).
	rg.DELETE("/:identifier/files/:filename", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("identifier"), 10, 64)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Article not found"})
			return
		}
		filename := c.Param("filename")

		file, err := store.RemoveFile(c.Request.Context(), uint(id), filename)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "File not found"})
				return
			}
			log.Error("Failed to remove file", zap.Uint64("article_id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error":   "Failed to delete file",
				"message": err.Error(),
			})
			return
		}

		if err := objects.Delete(c.Request.Context(), objectKey(uint(id), file.Filename)); err != nil {
			log.Warn("Could not delete attachment object", zap.String("key", file.Filename), zap.Error(err))
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "File deleted successfully",
		})
	})
}

// runBackup exports the full articles table as gzipped JSON into the backup
// prefix and rotates old dumps.
func runBackup(ctx context.Context, store services.ArticleStore, objects *storage.S3Store, cfg *config.Config) error {
	articles, err := store.ExportAll(ctx)
	if err != nil {
		return fmt.Errorf("export articles: %w", err)
	}
	data, err := json.Marshal(articles)
	if err != nil {
		return fmt.Errorf("marshal articles: %w", err)
	}
	compressed, err := storage.Gzip(data)
	if err != nil {
		return fmt.Errorf("compress dump: %w", err)
	}

	key := fmt.Sprintf("backups/articles-%s.json.gz", time.Now().UTC().Format("2006-01-02T15-04-05Z"))
	if err := objects.Upload(ctx, key, compressed); err != nil {
		return fmt.Errorf("upload dump: %w", err)
	}
	return objects.RotateBackups(ctx, "backups/", cfg.KeepBackups)
}

func seedSampleArticles(db *gorm.DB, logger *zap.Logger) {
	var count int64
	db.Model(&models.Article{}).Count(&count)
	if count > 0 {
		return
	}

	inputs := []models.ArticleInput{
		{
			Title:    "The impact of forage condition on household food security in northern Kenya and southern Ethiopia",
			Abstract: "This study examines the relationship between forage conditions and household food security in the arid and semi-arid lands of northern Kenya and southern Ethiopia, using comprehensive household survey data from pastoralist communities.",
			Authors: models.AuthorList{
				{Name: "Vincent H. Alulu", Affiliation: "University of California, San Diego", Email: "valulu@ucsd.edu", IsMainAuthor: true},
				{Name: "Kelvin M. Shikuku", Affiliation: "International Livestock Research Institute"},
				{Name: "Watson Lepariyo", Affiliation: "International Livestock Research Institute"},
			},
			Publication: models.Publication{
				Journal: "Food Security",
				Year:    2024,
				DOI:     "10.1007/s12571-024-01473-w",
				URL:     "https://doi.org/10.1007/s12571-024-01473-w",
			},
			Type:           models.TypeJournalArticle,
			Status:         models.StatusPublished,
			Categories:     models.StringList{"food security", "pastoralism"},
			Tags:           models.StringList{"forage", "kenya", "ethiopia", "household surveys"},
			ResearchFields: models.StringList{"development", "economics"},
			Featured:       true,
		},
		{
			Title:    "Data-driven index insurance design for drought-prone rangelands",
			Abstract: "A working paper on the design of satellite-based index insurance products for livestock keepers in drought-prone rangelands, combining remote-sensing forage indices with household panel data.",
			Authors: models.AuthorList{
				{Name: "Vincent H. Alulu", Affiliation: "University of California, San Diego", Email: "valulu@ucsd.edu", IsMainAuthor: true},
			},
			Publication: models.Publication{
				Year: 2023,
			},
			Type:           models.TypeWorkingPaper,
			Status:         models.StatusWorkingPaper,
			Categories:     models.StringList{"insurance"},
			Tags:           models.StringList{"index insurance", "remote sensing"},
			ResearchFields: models.StringList{"economics", "data_science"},
		},
	}

	for _, in := range inputs {
		article := in.Article()
		if err := db.Create(article).Error; err != nil {
			logger.Warn("Failed to seed sample article", zap.String("slug", article.Slug), zap.Error(err))
			return
		}
	}
	logger.Info("Sample articles seeded.")
}
