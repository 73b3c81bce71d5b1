package sqlstmt

import (
	"strings"
	"testing"
)

func TestStatementsAreNonEmptyAndDistinct(t *testing.T) {
	t.Parallel()

	stmts := map[string]string{
		"Begin":               Begin,
		"Commit":              Commit,
		"Rollback":            Rollback,
		"Reindex":             Reindex,
		"InsertMovie":         InsertMovie,
		"InsertGenre":         InsertGenre,
		"InsertGenreLink":     InsertGenreLink,
		"DeleteMovie":         DeleteMovie,
		"DeleteUnusedGenres":  DeleteUnusedGenres,
		"SelectAllTitles":     SelectAllTitles,
		"SelectAllMovies":     SelectAllMovies,
		"SelectMovie":         SelectMovie,
		"SelectMovieGenres":   SelectMovieGenres,
		"SelectMoviesByGenre": SelectMoviesByGenre,
	}

	seen := make(map[string]string, len(stmts))
	for name, sql := range stmts {
		if sql == "" {
			t.Fatalf("%s is empty", name)
		}
		if other, ok := seen[sql]; ok {
			t.Fatalf("%s and %s have identical SQL text", name, other)
		}
		seen[sql] = name
	}
}

func TestSchemaDeclaresAllThreeTables(t *testing.T) {
	t.Parallel()

	for _, table := range []string{"movie", "genre", "movie_genre"} {
		if !strings.Contains(Schema, "TABLE IF NOT EXISTS "+table) {
			t.Fatalf("Schema missing table %q", table)
		}
	}
}
