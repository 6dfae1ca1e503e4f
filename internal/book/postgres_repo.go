package book

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const bookColumns = `id::text, title, author, description, price, quantity, tags,
	image_url, isbn, published_date, created_at, updated_at`

type PostgresRepo struct {
	db      *pgxpool.Pool
	timeout time.Duration
}

func NewPostgresRepo(db *pgxpool.Pool, timeout time.Duration) *PostgresRepo {
	return &PostgresRepo{db: db, timeout: timeout}
}

func (r *PostgresRepo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

// buildWhere renders f as a WHERE clause with positional args starting at $1.
func buildWhere(f Filter) (string, []any) {
	clauses := []string{"1=1"}
	args := []any{}
	argn := 1

	like := func(col, v string) {
		clauses = append(clauses, fmt.Sprintf("%s ILIKE $%d", col, argn))
		args = append(args, "%"+escapeLike(v)+"%")
		argn++
	}
	cmp := func(col, op string, v any) {
		clauses = append(clauses, fmt.Sprintf("%s %s $%d", col, op, argn))
		args = append(args, v)
		argn++
	}

	if f.Title != "" {
		like("title", f.Title)
	}
	if f.Author != "" {
		like("author", f.Author)
	}
	if f.ISBN != "" {
		like("isbn", f.ISBN)
	}
	if len(f.Tags) > 0 {
		clauses = append(clauses, fmt.Sprintf("tags && $%d::text[]", argn))
		args = append(args, f.Tags)
		argn++
	}
	if f.MinPrice != nil {
		cmp("price", ">=", *f.MinPrice)
	}
	if f.MaxPrice != nil {
		cmp("price", "<=", *f.MaxPrice)
	}
	if f.MinQuantity != nil {
		cmp("quantity", ">=", *f.MinQuantity)
	}
	if f.MaxQuantity != nil {
		cmp("quantity", "<=", *f.MaxQuantity)
	}
	if f.PublishedDate != nil {
		start, end := f.DayRange()
		cmp("published_date", ">=", start)
		cmp("published_date", "<", end)
	}

	return "WHERE " + strings.Join(clauses, " AND "), args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (r *PostgresRepo) List(ctx context.Context, q Query) ([]Book, int64, error) {
	where, args := buildWhere(q.Filter)
	argn := len(args) + 1

	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	var total int64
	if err := r.db.QueryRow(timeoutCtx, "SELECT COUNT(*) FROM books "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count books: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT %s
		FROM books
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`,
		bookColumns, where, argn, argn+1)

	argsWithPage := append([]any{}, args...)
	argsWithPage = append(argsWithPage, q.Limit, q.Skip())
	rows, err := r.db.Query(timeoutCtx, dataSQL, argsWithPage...)
	if err != nil {
		return nil, 0, fmt.Errorf("list books: %w", err)
	}
	books, err := collectBooks(rows)
	if err != nil {
		return nil, 0, err
	}
	return books, total, nil
}

func (r *PostgresRepo) Tags(ctx context.Context) ([]string, error) {
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Query(timeoutCtx, `SELECT DISTINCT t FROM books, unnest(tags) AS t WHERE t <> '' ORDER BY t`)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	tags, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan tags: %w", err)
	}
	return tags, nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Book, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Book{}, ErrNotFound
	}

	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	b, err := scanBook(r.db.QueryRow(timeoutCtx, "SELECT "+bookColumns+" FROM books WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Book{}, ErrNotFound
		}
		return Book{}, fmt.Errorf("get book: %w", err)
	}
	return b, nil
}

func (r *PostgresRepo) Create(ctx context.Context, b *Book) error {
	const sql = `
		INSERT INTO books (title, author, description, price, quantity, tags,
		                   image_url, isbn, published_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id::text`

	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	err := r.db.QueryRow(timeoutCtx, sql,
		b.Title, b.Author, b.Description, b.Price, b.Quantity, tagsOrEmpty(b.Tags),
		b.ImageURL, b.ISBN, b.PublishedDate, b.CreatedAt, b.UpdatedAt,
	).Scan(&b.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateISBN
		}
		return fmt.Errorf("insert book: %w", err)
	}
	return nil
}

func (r *PostgresRepo) Update(ctx context.Context, b *Book) error {
	if _, err := uuid.Parse(b.ID); err != nil {
		return ErrNotFound
	}

	const sql = `
		UPDATE books SET
			title = $2,
			author = $3,
			description = $4,
			price = $5,
			quantity = $6,
			tags = $7,
			image_url = $8,
			isbn = $9,
			published_date = $10,
			updated_at = $11
		WHERE id = $1`

	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.Exec(timeoutCtx, sql,
		b.ID, b.Title, b.Author, b.Description, b.Price, b.Quantity, tagsOrEmpty(b.Tags),
		b.ImageURL, b.ISBN, b.PublishedDate, b.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateISBN
		}
		return fmt.Errorf("update book: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) UpdateQuantity(ctx context.Context, id string, quantity int, at time.Time) (Book, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Book{}, ErrNotFound
	}

	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	row := r.db.QueryRow(timeoutCtx,
		"UPDATE books SET quantity = $2, updated_at = $3 WHERE id = $1 RETURNING "+bookColumns,
		id, quantity, at)
	b, err := scanBook(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Book{}, ErrNotFound
		}
		return Book{}, fmt.Errorf("update quantity: %w", err)
	}
	return b, nil
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}

	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.Exec(timeoutCtx, "DELETE FROM books WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) Search(ctx context.Context, text string, limit int) ([]Book, error) {
	sql := fmt.Sprintf(`
		SELECT %s
		FROM books, plainto_tsquery('english', $1) q
		WHERE search_vector @@ q
		ORDER BY ts_rank(search_vector, q) DESC, created_at DESC
		LIMIT $2`, bookColumns)

	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Query(timeoutCtx, sql, text, limit)
	if err != nil {
		return nil, fmt.Errorf("search books: %w", err)
	}
	return collectBooks(rows)
}

func (r *PostgresRepo) Ping(ctx context.Context) error {
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.db.Ping(timeoutCtx)
}

func scanBook(row pgx.Row) (Book, error) {
	var b Book
	err := row.Scan(
		&b.ID, &b.Title, &b.Author, &b.Description, &b.Price, &b.Quantity, &b.Tags,
		&b.ImageURL, &b.ISBN, &b.PublishedDate, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return Book{}, err
	}
	b.Tags = tagsOrEmpty(b.Tags)
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	if b.PublishedDate != nil {
		t := b.PublishedDate.UTC()
		b.PublishedDate = &t
	}
	return b, nil
}

func collectBooks(rows pgx.Rows) ([]Book, error) {
	defer rows.Close()

	out := []Book{}
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate books: %w", err)
	}
	return out, nil
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
