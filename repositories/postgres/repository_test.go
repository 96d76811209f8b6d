package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/context-retrieval/models"
	"github.com/upb/context-retrieval/repositories"
	"go.uber.org/zap/zaptest"
)

var messageRowColumns = []string{"id", "user_id", "conversation_id", "role", "content", "metadata", "created_at"}

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewDBFromConn(conn, zaptest.NewLogger(t)), mock
}

func TestMessageRepository_Create(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepository(db, zaptest.NewLogger(t))

	msg := models.NewMessage(models.NewScope("u1", "c1"), models.RoleUser, "I love cats")
	msg.Metadata["source"] = "web"

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO messages")).
		WithArgs(msg.ID, "u1", "c1", models.RoleUser, "I love cats", []byte(`{"source":"web"}`), msg.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), msg))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepository_GetByID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepository(db, zaptest.NewLogger(t))
	id := uuid.New()
	now := time.Now().UTC()

	t.Run("found", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("FROM messages WHERE id = $1")).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows(messageRowColumns).
				AddRow(id.String(), "u1", "c1", "assistant", "hello", `{"k":"v"}`, now))

		msg, err := repo.GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, id, msg.ID)
		assert.Equal(t, models.RoleAssistant, msg.Role)
		assert.Equal(t, "v", msg.Metadata["k"])
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("FROM messages WHERE id = $1")).
			WithArgs(id).
			WillReturnError(sql.ErrNoRows)

		_, err := repo.GetByID(context.Background(), id)
		assert.True(t, errors.Is(err, repositories.ErrNotFound))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepository_ListMissingEmbeddings(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepository(db, zaptest.NewLogger(t))
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("LEFT JOIN message_embeddings e ON e.message_id = m.id")).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows(messageRowColumns).
			AddRow(uuid.NewString(), "u1", "c1", "user", "first", nil, now).
			AddRow(uuid.NewString(), "u1", "c2", "user", "second", `{}`, now))

	msgs, err := repo.ListMissingEmbeddings(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)
	assert.NotNil(t, msgs[0].Metadata)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepository_Delete(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepository(db, zaptest.NewLogger(t))
	id := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM messages WHERE id = $1")).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Delete(context.Background(), id))

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM messages WHERE id = $1")).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.Delete(context.Background(), id)
	assert.ErrorIs(t, err, repositories.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmbeddingRepository_Save(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEmbeddingRepository(db, 3, zaptest.NewLogger(t))
	emb := models.NewEmbedding(uuid.New(), []float32{0.1, 0.2, 0.3}, "jina-embeddings-v3")

	t.Run("inserts once", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (message_id) DO NOTHING")).
			WithArgs(emb.MessageID, sqlmock.AnyArg(), "jina-embeddings-v3", emb.CreatedAt).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Save(context.Background(), emb))
	})

	t.Run("rejects wrong dimension", func(t *testing.T) {
		bad := models.NewEmbedding(uuid.New(), []float32{0.1, 0.2}, "m")
		err := repo.Save(context.Background(), bad)
		assert.ErrorContains(t, err, "2 dimensions")
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmbeddingRepository_GetByMessageID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEmbeddingRepository(db, 3, zaptest.NewLogger(t))
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM message_embeddings")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"message_id", "embedding", "model", "created_at"}).
			AddRow(id.String(), "[1,0,0.5]", "jina-embeddings-v3", time.Now()))

	emb, err := repo.GetByMessageID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0.5}, emb.Vector)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmbeddingRepository_SimilaritySearch(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEmbeddingRepository(db, 3, zaptest.NewLogger(t))
	scope := models.NewScope("u1", "c1")
	now := time.Now().UTC()

	t.Run("returns candidates in order", func(t *testing.T) {
		cols := append(append([]string{}, messageRowColumns...), "similarity")
		mock.ExpectQuery(regexp.QuoteMeta("FROM match_messages($1::vector, $2, $3, $4, $5)")).
			WithArgs(sqlmock.AnyArg(), 0.65, 5, "u1", "c1").
			WillReturnRows(sqlmock.NewRows(cols).
				AddRow(uuid.NewString(), "u1", "c1", "user", "I love cats", `{}`, now, 0.91).
				AddRow(uuid.NewString(), "u1", "c1", "user", "cats are great", `{}`, now, 0.78))

		got, err := repo.SimilaritySearch(context.Background(), repositories.SimilarityQuery{
			Vector:    []float32{1, 0, 0.3},
			Scope:     scope,
			Threshold: 0.65,
			Limit:     5,
		})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "I love cats", got[0].Content)
		assert.InDelta(t, 0.91, got[0].Similarity, 1e-9)
	})

	t.Run("zero limit skips the query", func(t *testing.T) {
		got, err := repo.SimilaritySearch(context.Background(), repositories.SimilarityQuery{
			Vector: []float32{1, 0, 0}, Scope: scope, Limit: 0,
		})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("query failure", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("match_messages")).
			WillReturnError(errors.New("connection reset"))

		_, err := repo.SimilaritySearch(context.Background(), repositories.SimilarityQuery{
			Vector: []float32{1, 0, 0}, Scope: scope, Threshold: 0.3, Limit: 20,
		})
		assert.ErrorContains(t, err, "connection reset")
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionManager_InTransaction(t *testing.T) {
	db, mock := newMockDB(t)
	txMgr := NewTransactionManager(db, zaptest.NewLogger(t))
	messages := NewMessageRepository(db, zaptest.NewLogger(t))
	msg := models.NewMessage(models.NewScope("u1", "c1"), models.RoleUser, "hi")

	t.Run("commits and routes queries through the transaction", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO messages")).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := txMgr.InTransaction(context.Background(), func(ctx context.Context, tx repositories.Transaction) error {
			_, ok := GetTransactionFromContext(ctx)
			assert.True(t, ok)
			return messages.Create(ctx, msg)
		})
		require.NoError(t, err)
	})

	t.Run("rolls back on error", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO messages")).WillReturnError(errors.New("duplicate key"))
		mock.ExpectRollback()

		err := txMgr.InTransaction(context.Background(), func(ctx context.Context, tx repositories.Transaction) error {
			return messages.WithTx(tx).Create(ctx, msg)
		})
		assert.ErrorContains(t, err, "duplicate key")
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInitSchema(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec(regexp.QuoteMeta("vector(1024)")).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, db.InitSchema(context.Background(), 1024))

	assert.Error(t, db.InitSchema(context.Background(), 0))
	assert.NoError(t, mock.ExpectationsWereMet())
}
