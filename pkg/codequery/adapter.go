// Package codequery wraps the local vector index behind a small query
// contract: repository-scoped question in, ranked code fragments out.
// The rest of the engine never sees embeddings or collections.
package codequery

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/teamsync/core/pkg/config"
	"github.com/teamsync/core/pkg/models"
	"github.com/teamsync/core/pkg/store"
)

// CodeSource is one ranked code fragment answering a query.
type CodeSource struct {
	Repo       string  `json:"repo"`
	FilePath   string  `json:"file_path"`
	ChunkType  string  `json:"chunk_type,omitempty"`
	ChunkName  string  `json:"chunk_name,omitempty"`
	StartLine  int     `json:"start_line,omitempty"`
	EndLine    int     `json:"end_line,omitempty"`
	Language   string  `json:"language,omitempty"`
	Snippet    string  `json:"snippet"`
	Similarity float32 `json:"similarity"`
}

// QueryResult carries the ranked fragments. The field name "sources"
// is part of the contract with the context assembly layer. Confidence
// is the best similarity among the returned fragments.
type QueryResult struct {
	Sources    []CodeSource `json:"sources"`
	Confidence float32      `json:"confidence"`
}

// IndexedChunk is one code fragment handed to the indexer.
type IndexedChunk struct {
	Meta    models.CodeChunk
	Content string
}

// Adapter owns one vector collection per (user, repository) pair and
// the chunk metadata mirror in the relational store.
type Adapter struct {
	db       *chromem.DB
	embedder Embedder
	chunks   store.CodeChunkStore
	limit    int
	minSim   float32
	logger   *slog.Logger

	mu          sync.Mutex
	collections map[string]*chromem.Collection
}

func NewAdapter(cfg *config.CodeIndexConfig, ctxCfg *config.ContextConfig, embedder Embedder, chunks store.CodeChunkStore) (*Adapter, error) {
	var (
		db  *chromem.DB
		err error
	)
	if cfg != nil && cfg.PersistPath != "" {
		db, err = chromem.NewPersistentDB(filepath.Join(cfg.PersistPath, "chromem.gob"), false)
		if err != nil {
			return nil, fmt.Errorf("create persistent vector DB: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	return &Adapter{
		db:          db,
		embedder:    embedder,
		chunks:      chunks,
		limit:       ctxCfg.CodeQueryLimit,
		minSim:      ctxCfg.CodeQueryMinSimilarity,
		logger:      slog.Default().With("component", "codequery"),
		collections: make(map[string]*chromem.Collection),
	}, nil
}

// collectionName derives a stable, filesystem-safe collection name.
func collectionName(userID string, repo models.Repository) string {
	sanitize := func(s string) string {
		return strings.Map(func(r rune) rune {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
				return r
			}
			return '-'
		}, s)
	}
	return sanitize(userID) + "--" + sanitize(repo.Owner) + "--" + sanitize(repo.Name)
}

func (a *Adapter) collection(userID string, repo models.Repository) (*chromem.Collection, error) {
	name := collectionName(userID, repo)

	a.mu.Lock()
	defer a.mu.Unlock()
	if col, ok := a.collections[name]; ok {
		return col, nil
	}

	embeddingFunc := func(ctx context.Context, text string) ([]float32, error) {
		return a.embedder.Embed(ctx, text)
	}
	col, err := a.db.GetOrCreateCollection(name, nil, embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("get collection %s: %w", name, err)
	}
	a.collections[name] = col
	return col, nil
}

// Index adds chunks of one repository to its collection and mirrors
// their metadata to the relational store.
func (a *Adapter) Index(ctx context.Context, userID string, repo models.Repository, batch []IndexedChunk) error {
	if len(batch) == 0 {
		return nil
	}

	col, err := a.collection(userID, repo)
	if err != nil {
		return err
	}

	metas := make([]*models.CodeChunk, 0, len(batch))
	for i := range batch {
		chunk := &batch[i]
		id := fmt.Sprintf("%s:%d", chunk.Meta.FilePath, chunk.Meta.StartLine)
		err := col.AddDocument(ctx, chromem.Document{
			ID:      id,
			Content: chunk.Content,
			Metadata: map[string]string{
				"file_path":  chunk.Meta.FilePath,
				"chunk_type": chunk.Meta.ChunkType,
				"chunk_name": chunk.Meta.ChunkName,
				"start_line": strconv.Itoa(chunk.Meta.StartLine),
				"end_line":   strconv.Itoa(chunk.Meta.EndLine),
				"language":   chunk.Meta.Language,
			},
		})
		if err != nil {
			return fmt.Errorf("add document %s: %w", id, err)
		}

		meta := chunk.Meta
		meta.UserID = userID
		meta.Repo = repo
		metas = append(metas, &meta)
	}

	if err := a.chunks.UpsertBatch(ctx, metas); err != nil {
		return err
	}

	a.logger.Info("Indexed code chunks",
		"user_id", userID, "repo", repo.String(), "chunks", len(batch))
	return nil
}

// Query answers a repository-scoped question with ranked fragments.
// At most the configured limit are returned and fragments below the
// similarity floor are dropped.
func (a *Adapter) Query(ctx context.Context, userID string, repo models.Repository, question string) (*QueryResult, error) {
	col, err := a.collection(userID, repo)
	if err != nil {
		return nil, err
	}

	result := &QueryResult{Sources: []CodeSource{}}

	count := col.Count()
	if count == 0 {
		return result, nil
	}

	topK := a.limit
	if topK > count {
		topK = count
	}

	hits, err := col.Query(ctx, question, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}

	for _, hit := range hits {
		if hit.Similarity < a.minSim {
			continue
		}
		startLine, _ := strconv.Atoi(hit.Metadata["start_line"])
		endLine, _ := strconv.Atoi(hit.Metadata["end_line"])
		result.Sources = append(result.Sources, CodeSource{
			Repo:       repo.String(),
			FilePath:   hit.Metadata["file_path"],
			ChunkType:  hit.Metadata["chunk_type"],
			ChunkName:  hit.Metadata["chunk_name"],
			StartLine:  startLine,
			EndLine:    endLine,
			Language:   hit.Metadata["language"],
			Snippet:    hit.Content,
			Similarity: hit.Similarity,
		})
		if hit.Similarity > result.Confidence {
			result.Confidence = hit.Similarity
		}
	}
	return result, nil
}

// ListRepositories reports which repositories are indexed for a user.
func (a *Adapter) ListRepositories(ctx context.Context, userID string) ([]models.Repository, error) {
	return a.chunks.ListRepositories(ctx, userID)
}

// DeleteRepository drops a repository's collection and metadata.
func (a *Adapter) DeleteRepository(ctx context.Context, userID string, repo models.Repository) error {
	name := collectionName(userID, repo)

	a.mu.Lock()
	delete(a.collections, name)
	a.mu.Unlock()

	if err := a.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("delete collection %s: %w", name, err)
	}
	_, err := a.chunks.DeleteRepository(ctx, userID, repo)
	return err
}
