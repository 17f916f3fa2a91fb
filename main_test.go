package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vhalulu/academic-portfolio/config"
	"github.com/vhalulu/academic-portfolio/models"
	"github.com/vhalulu/academic-portfolio/services"
)

// memoryObjects is an in-process stand-in for the S3 store.
type memoryObjects struct {
	objects map[string][]byte
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{objects: map[string][]byte{}}
}

func (m *memoryObjects) Upload(ctx context.Context, key string, data []byte) error {
	m.objects[key] = data
	return nil
}

func (m *memoryObjects) Download(ctx context.Context, key string) ([]byte, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("no such object: %s", key)
	}
	return data, nil
}

func (m *memoryObjects) Delete(ctx context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func newTestRouter(store services.ArticleStore, objects *memoryObjects) *gin.Engine {
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()
	cfg := &config.Config{Environment: "test"}

	router := gin.New()
	router.Use(apiKeyAuthMiddleware(cfg))
	setupHealthRoutes(router, cfg)
	setupArticleRoutes(router, store, log)
	setupFileRoutes(router, store, objects, log)
	return router
}

func perform(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func seededStore(t *testing.T) *services.MemoryStore {
	t.Helper()
	store := services.NewMemoryStore()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store.Load([]models.Article{
		{
			ID:          1,
			Title:       "Forage condition and food security",
			Slug:        "forage-condition-and-food-security",
			Abstract:    "Forage and food security in drylands.",
			Authors:     models.AuthorList{{Name: "Vincent H. Alulu", IsMainAuthor: true}},
			Publication: models.Publication{Journal: "Food Security", Year: 2024},
			Type:        models.TypeJournalArticle,
			Status:      models.StatusPublished,
			Published:   true,
			Featured:    true,
			PublishedAt: now,
			CreatedAt:   now,
		},
		{
			ID:          2,
			Title:       "Index insurance design",
			Slug:        "index-insurance-design",
			Abstract:    "Designing index insurance.",
			Publication: models.Publication{Year: 2023},
			Type:        models.TypeWorkingPaper,
			Status:      models.StatusWorkingPaper,
			Published:   true,
			PublishedAt: now.Add(-24 * time.Hour),
			CreatedAt:   now.Add(-24 * time.Hour),
		},
		{
			ID:          3,
			Title:       "Unfinished Draft",
			Slug:        "unfinished-draft",
			Abstract:    "Not public yet.",
			Publication: models.Publication{Year: 2024},
			Type:        models.TypeResearchNote,
			Status:      models.StatusDraft,
			Published:   false,
			PublishedAt: now,
			CreatedAt:   now,
		},
	})
	return store
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(seededStore(t), newMemoryObjects())

	w := perform(router, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "OK", body["status"])
	assert.Equal(t, "test", body["environment"])
}

func TestListReturnsBareArray(t *testing.T) {
	router := newTestRouter(seededStore(t), newMemoryObjects())

	w := perform(router, http.MethodGet, "/api/articles", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(w.Body.String()), "["), "listing must be a bare array, not an envelope")

	var articles []models.Article
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &articles))
	require.Len(t, articles, 2, "the draft must be excluded")
	assert.Equal(t, "forage-condition-and-food-security", articles[0].Slug)
}

func TestListMalformedParamsIgnored(t *testing.T) {
	router := newTestRouter(seededStore(t), newMemoryObjects())

	w := perform(router, http.MethodGet, "/api/articles?year=banana&limit=lots&page=zero", nil)
	require.Equal(t, http.StatusOK, w.Code, "malformed query params never 4xx")

	var articles []models.Article
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &articles))
	assert.Len(t, articles, 2)
}

func TestGetArticleNotFound(t *testing.T) {
	router := newTestRouter(seededStore(t), newMemoryObjects())

	w := perform(router, http.MethodGet, "/api/articles/no-such-slug", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"Article not found"}`, w.Body.String())

	// A draft behaves exactly like a missing article.
	w = perform(router, http.MethodGet, "/api/articles/unfinished-draft", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"Article not found"}`, w.Body.String())
}

func TestGetArticleIncludesCitationAndCountsView(t *testing.T) {
	store := seededStore(t)
	router := newTestRouter(store, newMemoryObjects())

	w := perform(router, http.MethodGet, "/api/articles/forage-condition-and-food-security", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		models.Article
		Citation string `json:"citation"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, uint(1), body.ID)
	assert.Equal(t, 1, body.Views)
	assert.Equal(t, `Vincent H. Alulu (2024). "Forage condition and food security". Food Security`, body.Citation)

	// A second fetch, this time by numeric id, counts again.
	w = perform(router, http.MethodGet, "/api/articles/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Views)
}

func TestCreateArticleMissingFields(t *testing.T) {
	store := seededStore(t)
	router := newTestRouter(store, newMemoryObjects())

	w := perform(router, http.MethodPost, "/api/articles", gin.H{"title": "Only a title"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"Title and abstract are required"}`, w.Body.String())

	all, err := store.ExportAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 3, "nothing may be persisted on a rejected create")
}

func TestCreateArticle(t *testing.T) {
	router := newTestRouter(seededStore(t), newMemoryObjects())

	w := perform(router, http.MethodPost, "/api/articles", gin.H{
		"title":       "A Brand New Study?",
		"abstract":    "Fresh results.",
		"type":        "journal_article",
		"publication": gin.H{"year": 2025},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var body struct {
		Success bool           `json:"success"`
		Message string         `json:"message"`
		Article models.Article `json:"article"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "Article created successfully", body.Message)
	assert.Equal(t, "a-brand-new-study", body.Article.Slug)
	assert.True(t, body.Article.Published, "published defaults to true")
}

func TestCreateArticleDuplicateTitle(t *testing.T) {
	router := newTestRouter(seededStore(t), newMemoryObjects())

	// Same derived slug as the seeded article.
	w := perform(router, http.MethodPost, "/api/articles", gin.H{
		"title":       "Forage Condition and Food Security!",
		"abstract":    "A different abstract.",
		"type":        "journal_article",
		"publication": gin.H{"year": 2024},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"Article with this title already exists"}`, w.Body.String())
}

func TestCreateArticleValidation(t *testing.T) {
	router := newTestRouter(seededStore(t), newMemoryObjects())

	w := perform(router, http.MethodPost, "/api/articles", gin.H{
		"title":       "Year Out of Range",
		"abstract":    "Abstract.",
		"type":        "journal_article",
		"publication": gin.H{"year": 1990},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["error"], "publication.year")
}

func TestUpdateArticle(t *testing.T) {
	router := newTestRouter(seededStore(t), newMemoryObjects())

	w := perform(router, http.MethodPut, "/api/articles/2", gin.H{"title": "Revised Insurance Design"})
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Success bool           `json:"success"`
		Article models.Article `json:"article"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "revised-insurance-design", body.Article.Slug)

	// Non-numeric and missing ids both map to the standard 404 envelope.
	w = perform(router, http.MethodPut, "/api/articles/not-a-number", gin.H{"title": "x"})
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"Article not found"}`, w.Body.String())

	w = perform(router, http.MethodPut, "/api/articles/99", gin.H{"title": "x"})
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteArticle(t *testing.T) {
	router := newTestRouter(seededStore(t), newMemoryObjects())

	w := perform(router, http.MethodDelete, "/api/articles/2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"message":"Article deleted successfully"}`, w.Body.String())

	w = perform(router, http.MethodDelete, "/api/articles/2", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"Article not found"}`, w.Body.String())
}

func TestFeaturedList(t *testing.T) {
	router := newTestRouter(seededStore(t), newMemoryObjects())

	w := perform(router, http.MethodGet, "/api/articles/featured/list?limit=bogus", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var articles []models.Article
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &articles))
	require.Len(t, articles, 1)
	assert.Equal(t, "forage-condition-and-food-security", articles[0].Slug)
}

func TestAdminStats(t *testing.T) {
	router := newTestRouter(seededStore(t), newMemoryObjects())

	w := perform(router, http.MethodGet, "/api/articles/admin/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Success bool                  `json:"success"`
		Stats   services.ArticleStats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, int64(3), body.Stats.TotalArticles)
	assert.Equal(t, int64(2), body.Stats.PublishedArticles)
	assert.Equal(t, int64(1), body.Stats.DraftArticles)
}

func TestAPIKeyMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := seededStore(t)
	log := zap.NewNop()
	cfg := &config.Config{Environment: "test", APISecretKey: "sekrit"}

	router := gin.New()
	router.Use(apiKeyAuthMiddleware(cfg))
	setupArticleRoutes(router, store, log)

	// Reads pass without a key.
	w := perform(router, http.MethodGet, "/api/articles", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Writes are rejected without the key.
	w = perform(router, http.MethodDelete, "/api/articles/2", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodDelete, "/api/articles/2", nil)
	req.Header.Set("X-API-KEY", "sekrit")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func uploadAttachment(t *testing.T, router *gin.Engine, path, filename, contents string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(contents))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("description", "Working paper draft"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAttachmentLifecycle(t *testing.T) {
	store := seededStore(t)
	objects := newMemoryObjects()
	router := newTestRouter(store, objects)

	w := uploadAttachment(t, router, "/api/articles/1/files", "paper.pdf", "%PDF-1.4 fake")
	require.Equal(t, http.StatusCreated, w.Code)

	var created struct {
		Success bool           `json:"success"`
		Article models.Article `json:"article"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.Len(t, created.Article.Files, 1)
	file := created.Article.Files[0]
	assert.Equal(t, "paper.pdf", file.OriginalName)
	assert.Equal(t, "pdf", file.FileType)
	assert.NotEqual(t, "paper.pdf", file.Filename, "stored name must be generated")
	assert.Contains(t, objects.objects, fmt.Sprintf("articles/1/%s", file.Filename))

	// Download by slug, counted.
	w = perform(router, http.MethodGet, "/api/articles/forage-condition-and-food-security/files/"+file.Filename, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "%PDF-1.4 fake", w.Body.String())
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "paper.pdf")

	all, err := store.ExportAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, all[0].Downloads)
	assert.Equal(t, 0, all[0].Views, "attachment download must not bump views")

	// Delete removes the descriptor and the object.
	w = perform(router, http.MethodDelete, "/api/articles/1/files/"+file.Filename, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, objects.objects)

	w = perform(router, http.MethodGet, "/api/articles/1/files/"+file.Filename, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"File not found"}`, w.Body.String())
}

func TestAttachmentRejectsUnsupportedType(t *testing.T) {
	router := newTestRouter(seededStore(t), newMemoryObjects())

	w := uploadAttachment(t, router, "/api/articles/1/files", "malware.exe", "MZ")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"Unsupported file type"}`, w.Body.String())
}
