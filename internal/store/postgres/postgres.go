// Package postgres implements the vector store over Postgres with the
// pgvector extension, using bun for queries and schema management.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"document-qna/internal/config"
	"document-qna/internal/models"
	"document-qna/internal/store"
)

type documentRow struct {
	bun.BaseModel `bun:"table:documents,alias:d"`

	ID             string    `bun:"id,pk"`
	Name           string    `bun:"name,notnull"`
	Content        string    `bun:"content,notnull"`
	Status         string    `bun:"status,notnull"`
	FailureCause   string    `bun:"failure_cause"`
	EncoderVersion string    `bun:"encoder_version"`
	CreatedAt      time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type chunkRow struct {
	bun.BaseModel `bun:"table:chunks,alias:c"`

	ID         int64  `bun:"id,pk,autoincrement"`
	DocumentID string `bun:"document_id,notnull,unique:chunks_document_ordinal"`
	Ordinal    int    `bun:"ordinal,notnull,unique:chunks_document_ordinal"`
	Content    string `bun:"content,notnull"`
	Embedding  string `bun:"embedding,notnull,type:vector(384)"`
}

// Store is a pgvector-backed VectorStore.
type Store struct {
	db *bun.DB
	op string // distance operator: <-> (l2) or <=> (cosine)
}

var _ store.VectorStore = (*Store)(nil)

// Connect opens the database. A separate password (Supabase style) routes
// through the bun pgdriver connector; otherwise the DSN is handed to lib/pq.
func Connect(cfg *config.DatabaseConfig) (*sql.DB, error) {
	if cfg.Password != "" {
		return sql.OpenDB(pgdriver.NewConnector(
			pgdriver.WithDSN(cfg.DSN),
			pgdriver.WithPassword(cfg.Password),
		)), nil
	}
	return sql.Open("postgres", cfg.DSN)
}

// New wraps an open connection and ensures the schema exists. metric selects
// the distance operator used by Search ("l2" or "cosine").
func New(ctx context.Context, sqldb *sql.DB, metric string, debug bool) (*Store, error) {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	s := &Store{db: db, op: "<->"}
	indexOps := "vector_l2_ops"
	if metric == "cosine" {
		s.op = "<=>"
		indexOps = "vector_cosine_ops"
	}
	if err := s.migrate(ctx, indexOps); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context, indexOps string) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return err
	}
	if _, err := s.db.NewCreateTable().Model((*documentRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return err
	}
	if _, err := s.db.NewCreateTable().Model((*chunkRow)(nil)).IfNotExists().
		ForeignKey(`("document_id") REFERENCES "documents" ("id") ON DELETE CASCADE`).
		Exec(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS idx_chunks_embedding ON chunks USING hnsw (embedding %s)", indexOps))
	return err
}

func (s *Store) CreateDocument(ctx context.Context, doc *models.Document) error {
	row := &documentRow{
		ID:      doc.ID,
		Name:    doc.Name,
		Content: doc.Content,
		Status:  string(doc.Status),
	}
	_, err := s.db.NewInsert().Model(row).Exec(ctx)
	return err
}

func (s *Store) Document(ctx context.Context, id string) (*models.Document, error) {
	row := new(documentRow)
	err := s.db.NewSelect().Model(row).Where("d.id = ?", id).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrDocumentNotFound
		}
		return nil, err
	}
	return &models.Document{
		ID:             row.ID,
		Name:           row.Name,
		Content:        row.Content,
		Status:         models.DocumentStatus(row.Status),
		FailureCause:   row.FailureCause,
		EncoderVersion: row.EncoderVersion,
		CreatedAt:      row.CreatedAt,
	}, nil
}

// DeleteDocument removes the document; the chunk cascade is handled by the
// foreign key.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.NewDelete().Model((*documentRow)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrDocumentNotFound
	}
	return nil
}

func (s *Store) SetStatus(ctx context.Context, id string, status models.DocumentStatus, cause string) error {
	res, err := s.db.NewUpdate().Model((*documentRow)(nil)).
		Set("status = ?", string(status)).
		Set("failure_cause = ?", cause).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrDocumentNotFound
	}
	return nil
}

// StoreChunks inserts the batch in a single transaction so a partial failure
// never leaves orphaned or missing chunks behind.
func (s *Store) StoreChunks(ctx context.Context, docID, encoderVersion string, chunks []models.ChunkEmbedding, replace bool) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().Model((*documentRow)(nil)).Where("id = ?", docID).Exists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			return store.ErrDocumentNotFound
		}

		if replace {
			if _, err := tx.NewDelete().Model((*chunkRow)(nil)).Where("document_id = ?", docID).Exec(ctx); err != nil {
				return err
			}
		}

		if len(chunks) > 0 {
			rows := make([]chunkRow, len(chunks))
			for i, c := range chunks {
				rows[i] = chunkRow{
					DocumentID: docID,
					Ordinal:    c.Ordinal,
					Content:    c.Content,
					Embedding:  vectorLiteral(c.Embedding),
				}
			}
			if _, err := tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
				return err
			}
		}

		_, err = tx.NewUpdate().Model((*documentRow)(nil)).
			Set("encoder_version = ?", encoderVersion).
			Where("id = ?", docID).
			Exec(ctx)
		return err
	})
}

func (s *Store) ChunkCount(ctx context.Context, docID string) (int, error) {
	return s.db.NewSelect().Model((*chunkRow)(nil)).Where("document_id = ?", docID).Count(ctx)
}

func (s *Store) Search(ctx context.Context, docID string, vector []float32, k int, encoderVersion string) ([]models.ChunkMatch, error) {
	if k <= 0 {
		return nil, nil
	}
	if err := s.checkEncoderVersion(ctx, docID, encoderVersion); err != nil {
		return nil, err
	}

	var rows []struct {
		ID       int64   `bun:"id"`
		Ordinal  int     `bun:"ordinal"`
		Content  string  `bun:"content"`
		Distance float64 `bun:"distance"`
	}
	q := s.db.NewSelect().
		TableExpr("chunks AS c").
		ColumnExpr("c.id, c.ordinal, c.content").
		ColumnExpr("c.embedding "+s.op+" ? AS distance", vectorLiteral(vector)).
		OrderExpr("distance ASC, c.ordinal ASC").
		Limit(k)
	if docID != "" {
		q = q.Where("c.document_id = ?", docID)
	}
	if err := q.Scan(ctx, &rows); err != nil {
		return nil, err
	}

	matches := make([]models.ChunkMatch, 0, len(rows))
	for _, r := range rows {
		matches = append(matches, models.ChunkMatch{
			ChunkID:  strconv.FormatInt(r.ID, 10),
			Ordinal:  r.Ordinal,
			Content:  r.Content,
			Distance: r.Distance,
		})
	}
	log.Debug().Str("document_id", docID).Int("matches", len(matches)).Msg("vector search")
	return matches, nil
}

// checkEncoderVersion rejects queries against vectors embedded under a
// different model version. Documents without chunks are ignored: an empty
// document has nothing stale to serve, whatever version last touched it.
func (s *Store) checkEncoderVersion(ctx context.Context, docID, encoderVersion string) error {
	q := s.db.NewSelect().Model((*documentRow)(nil)).
		Where("encoder_version <> ''").
		Where("encoder_version <> ?", encoderVersion).
		Where("EXISTS (SELECT 1 FROM chunks WHERE document_id = d.id)")
	if docID != "" {
		q = q.Where("id = ?", docID)
	}
	mismatched, err := q.Exists(ctx)
	if err != nil {
		return err
	}
	if mismatched {
		return store.ErrEncoderVersionMismatch
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// vectorLiteral renders a vector in pgvector text form: [0.1,0.2,...].
func vectorLiteral(vec []float32) string {
	parts := make([]string, len(vec))
	for i, v := range vec {
		parts[i] = strconv.FormatFloat(float64(v), 'g', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
