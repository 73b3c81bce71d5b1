// Package catalog implements the transactional data-access layer: one
// Conn per worker, owning a single non-pooled SQLite connection, a
// fixed set of prepared statements, and a borrowed builder.Arena used
// as scratch space for streaming rows out of the engine.
//
// Every public call that writes into the arena resets it first, so
// that no reference handed out by a previous call can alias the
// result of a later one (§9: "reset at the start of each public DB
// call that writes into the arena").
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/marmitar/moviecatalogd/internal/builder"
	"github.com/marmitar/moviecatalogd/internal/catalog/sqlstmt"
	"github.com/marmitar/moviecatalogd/internal/catalogerr"
	"github.com/marmitar/moviecatalogd/internal/movie"
)

// Error is the outcome of a failed catalog operation: a classified
// recoverability bucket plus the message the handler echoes to the
// client verbatim.
type Error struct {
	Class   catalogerr.Class
	Message string
}

func (e *Error) Error() string { return e.Message }

func userError(format string, args ...any) *Error {
	return &Error{Class: catalogerr.UserError, Message: fmt.Sprintf(format, args...)}
}

func classifiedError(execErr, closeErr error, fallback string) *Error {
	class := catalogerr.Classify(execErr, closeErr)
	msg := fallback
	if execErr != nil {
		msg = execErr.Error()
	} else if closeErr != nil {
		msg = closeErr.Error()
	}
	return &Error{Class: class, Message: msg}
}

// stmtSet holds one named *sql.Stmt per entry in sqlstmt except Begin,
// Commit and Rollback, prepared once at Connect and finalized at
// Disconnect. Those three are not prepared: transactions are opened and
// ended through database/sql's BeginTx, Tx.Commit and Tx.Rollback
// (see withTx). A struct field (rather
// than a map keyed by name) makes a missing statement a compile
// error instead of a runtime lookup failure.
type stmtSet struct {
	insertMovie         *sql.Stmt
	insertGenre         *sql.Stmt
	insertGenreLink     *sql.Stmt
	deleteMovie         *sql.Stmt
	deleteUnusedGenres  *sql.Stmt
	selectAllTitles     *sql.Stmt
	selectAllMovies     *sql.Stmt
	selectMovie         *sql.Stmt
	selectMovieGenres   *sql.Stmt
	selectMoviesByGenre *sql.Stmt
	reindex             *sql.Stmt
}

func prepareAll(ctx context.Context, db *sql.DB) (stmtSet, error) {
	type slot struct {
		dst **sql.Stmt
		sql string
	}
	var s stmtSet
	slots := []slot{
		{&s.insertMovie, sqlstmt.InsertMovie},
		{&s.insertGenre, sqlstmt.InsertGenre},
		{&s.insertGenreLink, sqlstmt.InsertGenreLink},
		{&s.deleteMovie, sqlstmt.DeleteMovie},
		{&s.deleteUnusedGenres, sqlstmt.DeleteUnusedGenres},
		{&s.selectAllTitles, sqlstmt.SelectAllTitles},
		{&s.selectAllMovies, sqlstmt.SelectAllMovies},
		{&s.selectMovie, sqlstmt.SelectMovie},
		{&s.selectMovieGenres, sqlstmt.SelectMovieGenres},
		{&s.selectMoviesByGenre, sqlstmt.SelectMoviesByGenre},
		{&s.reindex, sqlstmt.Reindex},
	}
	var prepared []*sql.Stmt
	for _, sl := range slots {
		stmt, err := db.PrepareContext(ctx, sl.sql)
		if err != nil {
			for _, p := range prepared {
				_ = p.Close()
			}
			return stmtSet{}, fmt.Errorf("catalog: prepare %q: %w", sl.sql, err)
		}
		*sl.dst = stmt
		prepared = append(prepared, stmt)
	}
	return s, nil
}

func (s stmtSet) all() []*sql.Stmt {
	return []*sql.Stmt{
		s.insertMovie, s.insertGenre, s.insertGenreLink,
		s.deleteMovie, s.deleteUnusedGenres,
		s.selectAllTitles, s.selectAllMovies, s.selectMovie,
		s.selectMovieGenres, s.selectMoviesByGenre, s.reindex,
	}
}

// Conn is one worker's private handle on the database. Not safe for
// concurrent use: each worker owns exactly one Conn for its entire
// life.
type Conn struct {
	db    *sql.DB
	stmts stmtSet
	arena *builder.Arena
}

// Connect opens a single, non-pooled SQLite connection at dsn,
// applies the on-disk schema, and prepares every statement held in
// stmtSet. arena is the scratch space row-streaming operations reset
// and write into; callers typically pass one Arena per worker, reused
// across requests.
func Connect(ctx context.Context, dsn string, arena *builder.Arena) (*Conn, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %q: %w", dsn, err)
	}
	// One engine connection per worker: database/sql's own pooling
	// would otherwise hand out a second physical connection under
	// concurrent use from the same worker.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: ping %q: %w", dsn, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: set journal mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqlstmt.Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: apply schema: %w", err)
	}

	stmts, err := prepareAll(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Conn{db: db, stmts: stmts, arena: arena}, nil
}

// Disconnect finalizes every prepared statement, then closes the
// underlying connection. Statements are finalized first, matching the
// spec's finalization order.
func (c *Conn) Disconnect() error {
	var firstErr error
	for _, stmt := range c.stmts.all() {
		if stmt == nil {
			continue
		}
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("catalog: finalize statement: %w", err)
		}
	}
	if err := c.db.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("catalog: close connection: %w", err)
	}
	return firstErr
}

// Reindex runs the REINDEX maintenance statement prepared at connect.
func (c *Conn) Reindex(ctx context.Context) error {
	if _, err := c.stmts.reindex.ExecContext(ctx); err != nil {
		return fmt.Errorf("catalog: reindex: %w", err)
	}
	return nil
}

// withTx runs body inside a BEGIN DEFERRED/COMMIT envelope. A body
// error rolls back and is returned unchanged; begin/commit failures
// are wrapped as *Error via classifiedError.
func (c *Conn) withTx(ctx context.Context, body func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return classifiedError(err, nil, "could not begin transaction")
	}
	if err := body(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return classifiedError(err, nil, "could not commit transaction")
	}
	return nil
}

// RegisterMovie inserts m and its genres, returning the assigned id.
// For each genre: insert-or-ignore into genre, then link by name.
// Implements §4.D.2 register_movie.
func (c *Conn) RegisterMovie(ctx context.Context, m movie.Movie) (int64, error) {
	var id int64
	err := c.withTx(ctx, func(tx *sql.Tx) error {
		genres := m.Genres()
		for _, g := range genres {
			if _, err := tx.StmtContext(ctx, c.stmts.insertGenre).ExecContext(ctx, g); err != nil {
				return classifiedError(err, nil, "could not register genre")
			}
		}

		row := tx.StmtContext(ctx, c.stmts.insertMovie).QueryRowContext(ctx, m.Title, m.Director, m.ReleaseYear)
		if err := row.Scan(&id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return &Error{Class: catalogerr.HardError, Message: "insert did not return an id"}
			}
			return classifiedError(err, nil, "could not insert movie")
		}

		for _, g := range genres {
			if _, err := tx.StmtContext(ctx, c.stmts.insertGenreLink).ExecContext(ctx, id, g); err != nil {
				return classifiedError(err, nil, "could not link genre")
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AddGenre attaches one genre to an existing movie. A foreign-key
// violation (unknown movie id) and a uniqueness violation (genre
// already attached) surface as contractual UserError messages.
func (c *Conn) AddGenre(ctx context.Context, movieID int64, genre string) error {
	return c.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.StmtContext(ctx, c.stmts.insertGenre).ExecContext(ctx, genre); err != nil {
			return classifiedError(err, nil, "could not register genre")
		}

		_, err := tx.StmtContext(ctx, c.stmts.insertGenreLink).ExecContext(ctx, movieID, genre)
		if err == nil {
			return nil
		}

		switch {
		case isForeignKeyViolation(err):
			return userError("no movie with id = %d found in the database", movieID)
		case isUniqueViolation(err):
			return userError("movie with id = %d already has the provided genre", movieID)
		default:
			return classifiedError(err, nil, "could not link genre")
		}
	})
}

// DeleteMovie removes a movie by id. Zero affected rows is a
// UserError with the contractual wording from §7/S3. On success, it
// fires a best-effort cleanup of now-unused genre rows: failures there
// are not surfaced to the caller.
func (c *Conn) DeleteMovie(ctx context.Context, movieID int64) error {
	res, err := c.stmts.deleteMovie.ExecContext(ctx, movieID)
	if err != nil {
		return classifiedError(err, nil, "could not delete movie")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return classifiedError(err, nil, "could not determine rows affected")
	}
	if affected < 1 {
		return userError("no movie with id = %d to be deleted from the database", movieID)
	}
	if _, err := c.stmts.deleteUnusedGenres.ExecContext(ctx); err != nil {
		c.logCleanupFailure(err)
	}
	return nil
}

// cleanupLogger receives best-effort cleanup failures that must not
// be surfaced to clients. Set by callers that want them logged;
// nil (the default) discards them.
var cleanupLogger func(error)

// SetCleanupLogger installs the sink for DeleteMovie's fire-and-forget
// genre cleanup failures. Passing nil discards them silently.
func SetCleanupLogger(f func(error)) { cleanupLogger = f }

func (c *Conn) logCleanupFailure(err error) {
	if cleanupLogger != nil {
		cleanupLogger(fmt.Errorf("catalog: delete_unused_genres: %w", err))
	}
}

// GetMovie fetches one movie by id, including its genres. Zero
// matching rows is a UserError with the contractual wording.
func (c *Conn) GetMovie(ctx context.Context, movieID int64) (movie.Movie, error) {
	c.arena.Reset()

	var result movie.Movie
	err := c.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.StmtContext(ctx, c.stmts.selectMovie).QueryRowContext(ctx, movieID)

		var title, director string
		var year int32
		if err := row.Scan(&movieID, &title, &director, &year); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return userError("no movie with id = %d found in the database", movieID)
			}
			return classifiedError(err, nil, "could not fetch movie")
		}
		if err := c.arena.SetID(movieID); err != nil {
			return classifiedError(err, nil, "builder error")
		}
		if err := c.arena.SetTitle(title); err != nil {
			return classifiedError(err, nil, "builder error")
		}
		if err := c.arena.SetDirector(director); err != nil {
			return classifiedError(err, nil, "builder error")
		}
		if err := c.arena.SetReleaseYear(year); err != nil {
			return classifiedError(err, nil, "builder error")
		}
		if err := c.arena.StartGenres(); err != nil {
			return classifiedError(err, nil, "builder error")
		}

		rows, err := tx.StmtContext(ctx, c.stmts.selectMovieGenres).QueryContext(ctx, movieID)
		if err != nil {
			return classifiedError(err, nil, "could not fetch genres")
		}
		for rows.Next() {
			var g string
			if err := rows.Scan(&g); err != nil {
				rows.Close()
				return classifiedError(err, nil, "could not scan genre")
			}
			if err := c.arena.AddGenre(g); err != nil {
				rows.Close()
				return classifiedError(err, nil, "builder error")
			}
		}
		closeErr := rows.Close()
		if err := rows.Err(); err != nil || closeErr != nil {
			return classifiedError(err, closeErr, "could not drain genres")
		}

		m, err := c.arena.TakeCurrentMovie()
		if err != nil {
			return classifiedError(err, nil, "builder error")
		}
		result = m
		return nil
	})
	if err != nil {
		return movie.Movie{}, err
	}
	return result, nil
}

// ListMovies returns every movie with its full genre list. Each outer
// row from op_select_all_movies triggers an inner genre pass.
func (c *Conn) ListMovies(ctx context.Context) ([]movie.Movie, error) {
	c.arena.Reset()

	err := c.withTx(ctx, func(tx *sql.Tx) error {
		return c.streamMoviesWithGenres(ctx, tx, c.stmts.selectAllMovies)
	})
	if err != nil {
		return nil, err
	}
	return c.arena.TakeMovieList(), nil
}

// SearchMoviesByGenre returns every movie tagged with genre, each with
// its full genre list.
func (c *Conn) SearchMoviesByGenre(ctx context.Context, genre string) ([]movie.Movie, error) {
	c.arena.Reset()

	err := c.withTx(ctx, func(tx *sql.Tx) error {
		return c.streamMoviesWithGenres(ctx, tx, c.stmts.selectMoviesByGenre, genre)
	})
	if err != nil {
		return nil, err
	}
	return c.arena.TakeMovieList(), nil
}

// streamMoviesWithGenres runs outerStmt (bound to args, if any) and,
// for each row, commits a movie descriptor with its full genre list
// read via an inner pass over op_select_movie_genres. Implements the
// "each outer row triggers an inner statement pass" rule of §4.D.2.
func (c *Conn) streamMoviesWithGenres(ctx context.Context, tx *sql.Tx, outerStmt *sql.Stmt, args ...any) error {
	rows, err := tx.StmtContext(ctx, outerStmt).QueryContext(ctx, args...)
	if err != nil {
		return classifiedError(err, nil, "could not fetch movies")
	}

	type pending struct {
		id              int64
		title, director string
		year            int32
	}
	var batch []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.title, &p.director, &p.year); err != nil {
			rows.Close()
			return classifiedError(err, nil, "could not scan movie")
		}
		batch = append(batch, p)
	}
	closeErr := rows.Close()
	if err := rows.Err(); err != nil || closeErr != nil {
		return classifiedError(err, closeErr, "could not drain movies")
	}

	for _, p := range batch {
		if err := c.arena.SetID(p.id); err != nil {
			return classifiedError(err, nil, "builder error")
		}
		if err := c.arena.SetTitle(p.title); err != nil {
			return classifiedError(err, nil, "builder error")
		}
		if err := c.arena.SetDirector(p.director); err != nil {
			return classifiedError(err, nil, "builder error")
		}
		if err := c.arena.SetReleaseYear(p.year); err != nil {
			return classifiedError(err, nil, "builder error")
		}
		if err := c.arena.StartGenres(); err != nil {
			return classifiedError(err, nil, "builder error")
		}

		genreRows, err := tx.StmtContext(ctx, c.stmts.selectMovieGenres).QueryContext(ctx, p.id)
		if err != nil {
			return classifiedError(err, nil, "could not fetch genres")
		}
		for genreRows.Next() {
			var g string
			if err := genreRows.Scan(&g); err != nil {
				genreRows.Close()
				return classifiedError(err, nil, "could not scan genre")
			}
			if err := c.arena.AddGenre(g); err != nil {
				genreRows.Close()
				return classifiedError(err, nil, "builder error")
			}
		}
		genreCloseErr := genreRows.Close()
		if err := genreRows.Err(); err != nil || genreCloseErr != nil {
			return classifiedError(err, genreCloseErr, "could not drain genres")
		}

		if err := c.arena.CommitCurrentAsMovie(); err != nil {
			return classifiedError(err, nil, "builder error")
		}
	}
	return nil
}

// ListSummaries returns the id/title projection of every movie.
func (c *Conn) ListSummaries(ctx context.Context) ([]movie.Summary, error) {
	c.arena.Reset()

	err := c.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.StmtContext(ctx, c.stmts.selectAllTitles).QueryContext(ctx)
		if err != nil {
			return classifiedError(err, nil, "could not fetch summaries")
		}
		for rows.Next() {
			var id int64
			var title string
			if err := rows.Scan(&id, &title); err != nil {
				rows.Close()
				return classifiedError(err, nil, "could not scan summary")
			}
			if err := c.arena.SetID(id); err != nil {
				rows.Close()
				return classifiedError(err, nil, "builder error")
			}
			if err := c.arena.SetTitle(title); err != nil {
				rows.Close()
				return classifiedError(err, nil, "builder error")
			}
			if err := c.arena.CommitCurrentAsSummary(); err != nil {
				rows.Close()
				return classifiedError(err, nil, "builder error")
			}
		}
		closeErr := rows.Close()
		if err := rows.Err(); err != nil || closeErr != nil {
			return classifiedError(err, closeErr, "could not drain summaries")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c.arena.TakeSummaryList(), nil
}

// SQLite extended result codes for the two constraint shapes AddGenre
// distinguishes: a foreign-key violation on movie_id (unknown movie)
// and a uniqueness violation on (movie_id, genre_id) (duplicate link).
const (
	extConstraintForeignKey = 19 | (3 << 8)
	extConstraintUnique     = 19 | (8 << 8)
)

func isForeignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && int(sqliteErr.ExtendedCode) == extConstraintForeignKey
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && int(sqliteErr.ExtendedCode) == extConstraintUnique
}
