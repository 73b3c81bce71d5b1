// Package sqlstmt holds the fixed set of SQL statement strings the
// catalog's data-access layer prepares once per connection and
// finalizes at disconnect. The list is closed: no caller composes SQL
// dynamically from these pieces, so a missing or misnamed statement
// surfaces as a compile error in internal/catalog rather than a
// runtime lookup failure. Begin, Commit and Rollback are the exception:
// internal/catalog does not prepare them and runs its transactions
// through database/sql's Tx instead.
package sqlstmt

const (
	Begin    = `BEGIN DEFERRED TRANSACTION;`
	Commit   = `COMMIT TRANSACTION;`
	Rollback = `ROLLBACK TRANSACTION;`
	Reindex  = `REINDEX;`

	InsertMovie = `INSERT INTO movie(title,director,release_year)
		VALUES(?,?,?) RETURNING movie.id;`

	InsertGenre = `INSERT OR IGNORE INTO genre(name) VALUES(?);`

	InsertGenreLink = `INSERT INTO movie_genre(movie_id,genre_id)
		SELECT ?, genre.id FROM genre WHERE genre.name=?;`

	DeleteMovie = `DELETE FROM movie WHERE id=?;`

	DeleteUnusedGenres = `DELETE FROM genre WHERE id NOT IN
		(SELECT DISTINCT genre_id FROM movie_genre);`

	SelectAllTitles = `SELECT id,title FROM movie;`

	SelectAllMovies = `SELECT id,title,director,release_year FROM movie;`

	SelectMovie = `SELECT id,title,director,release_year FROM movie WHERE id=?;`

	SelectMovieGenres = `SELECT genre.name FROM genre
		INNER JOIN movie_genre ON genre.id=genre_id WHERE movie_id=?;`

	SelectMoviesByGenre = `SELECT m.id,m.title,m.director,m.release_year
		FROM movie_genre
		INNER JOIN movie m ON m.id=movie_genre.movie_id
		INNER JOIN genre  g ON g.id=movie_genre.genre_id
		WHERE g.name=?;`
)

// Schema is the idempotent on-disk schema applied once at startup.
const Schema = `
CREATE TABLE IF NOT EXISTS movie(
  id INTEGER PRIMARY KEY ASC AUTOINCREMENT NOT NULL,
  title TEXT NOT NULL, director TEXT NOT NULL, release_year INTEGER NOT NULL
) STRICT;
CREATE TABLE IF NOT EXISTS genre(
  id INTEGER PRIMARY KEY ASC AUTOINCREMENT NOT NULL,
  name TEXT UNIQUE NOT NULL
) STRICT;
CREATE TABLE IF NOT EXISTS movie_genre(
  movie_id INTEGER NOT NULL, genre_id INTEGER NOT NULL,
  FOREIGN KEY(movie_id) REFERENCES movie(id) ON DELETE CASCADE,
  FOREIGN KEY(genre_id) REFERENCES genre(id) ON DELETE CASCADE,
  UNIQUE(movie_id, genre_id)
) STRICT;
CREATE UNIQUE INDEX IF NOT EXISTS genre_name   ON genre(name);
CREATE INDEX        IF NOT EXISTS movie_id_link ON movie_genre(movie_id);
CREATE INDEX        IF NOT EXISTS genre_id_link ON movie_genre(genre_id);
`
