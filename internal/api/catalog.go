package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
)

const (
	defaultArticleLimit = 20
	maxArticleLimit     = 100
)

// listArticles handles GET /api/v1/articles?limit=&sourceId=.
func (s *Server) listArticles(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultArticleLimit, maxArticleLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	articles, err := s.catalog.ListArticles(r.Context(), crawler.ArticleFilter{
		SourceID: strings.TrimSpace(r.URL.Query().Get("sourceId")),
		Limit:    limit,
	})
	if err != nil {
		s.logger.Error("list articles failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list articles")
		return
	}
	if articles == nil {
		articles = []crawler.ArticleWithSource{}
	}
	writeJSON(w, http.StatusOK, articles)
}

// getArticle handles GET /api/v1/articles/{id}.
func (s *Server) getArticle(w http.ResponseWriter, r *http.Request) {
	article, err := s.catalog.GetArticle(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.catalogError(w, "article", err)
		return
	}
	writeJSON(w, http.StatusOK, article)
}

// listSources handles GET /api/v1/sources; only active sources are listed.
func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.catalog.ListSources(r.Context(), true)
	if err != nil {
		s.logger.Error("list sources failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list sources")
		return
	}
	if sources == nil {
		sources = []crawler.Source{}
	}
	writeJSON(w, http.StatusOK, sources)
}

// getSource handles GET /api/v1/sources/{id}.
func (s *Server) getSource(w http.ResponseWriter, r *http.Request) {
	source, err := s.catalog.GetSource(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.catalogError(w, "source", err)
		return
	}
	writeJSON(w, http.StatusOK, source)
}

func (s *Server) catalogError(w http.ResponseWriter, kind string, err error) {
	if errors.Is(err, crawler.ErrNotFound) {
		writeError(w, http.StatusNotFound, capitalize(kind)+" not found")
		return
	}
	s.logger.Error("load "+kind+" failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "failed to load "+kind)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// parseLimit reads ?limit=, applying def when absent and rejecting values
// outside 1..maxLimit.
func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > maxLimit {
		return 0, fmt.Errorf("limit must be between 1 and %d", maxLimit)
	}
	return limit, nil
}
