// Package handler implements the per-connection request loop of §4.F:
// parse one operation at a time off the socket, dispatch it against a
// catalog.Conn, and write the contractual text/YAML response.
package handler

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/marmitar/moviecatalogd/internal/catalog"
	"github.com/marmitar/moviecatalogd/internal/catalogerr"
	"github.com/marmitar/moviecatalogd/internal/movie"
	"github.com/marmitar/moviecatalogd/internal/reqyaml"
)

// Handle drains conn until the request parser finishes or a catalog
// operation reports a HardError. It returns true if it exited
// normally (ParseDone, a clean close, or a non-hard catalog error
// already reported to the client) and false on HardError, signaling
// the pool to tear down and respawn the worker that ran it.
func Handle(ctx context.Context, workerID uint64, conn net.Conn, store *catalog.Conn) bool {
	defer conn.Close()

	w := bufio.NewWriter(conn)
	defer w.Flush()

	parser := reqyaml.New(conn)
	for {
		if ctx.Err() != nil {
			return true
		}

		op := parser.NextOp()
		switch v := op.(type) {
		case reqyaml.ParseDone:
			return true
		case reqyaml.ParseError:
			fmt.Fprintf(w, "server: parsing error: %s\n\n", v.Error())
			if err := w.Flush(); err != nil {
				return handleIOFailure(err)
			}
		case reqyaml.AddMovie:
			if !handleAddMovie(ctx, w, store, v) {
				return false
			}
		case reqyaml.AddGenre:
			if !handleOKOrError(ctx, w, store.AddGenre(ctx, v.MovieID, v.Genre)) {
				return false
			}
		case reqyaml.RemoveMovie:
			if !handleOKOrError(ctx, w, store.DeleteMovie(ctx, v.MovieID)) {
				return false
			}
		case reqyaml.GetMovie:
			if !handleGetMovie(ctx, w, store, v) {
				return false
			}
		case reqyaml.ListMovies:
			movies, err := store.ListMovies(ctx)
			if !handleMovieList(ctx, w, "movies", movies, err) {
				return false
			}
		case reqyaml.SearchByGenre:
			movies, err := store.SearchMoviesByGenre(ctx, v.Genre)
			if !handleMovieList(ctx, w, "movies", movies, err) {
				return false
			}
		case reqyaml.ListSummaries:
			if !handleListSummaries(ctx, w, store) {
				return false
			}
		default:
			fmt.Fprintf(w, "server: parsing error: unrecognized operation\n\n")
		}

		if err := w.Flush(); err != nil {
			return handleIOFailure(err)
		}
	}
}

// handleIOFailure decides whether a write failure is a clean peer
// disconnect (normal exit) or something the pool should treat as a
// hard error. A closed/reset connection is routine, not a reason to
// tear down the worker.
func handleIOFailure(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) || errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}

func handleAddMovie(ctx context.Context, w io.Writer, store *catalog.Conn, v reqyaml.AddMovie) bool {
	id, err := store.RegisterMovie(ctx, v.Movie)
	if err != nil {
		return writeCatalogError(w, err)
	}
	fmt.Fprintf(w, "server: ok\n\n")
	fmt.Fprintf(w, "movie[%d]=%s\n", id, v.Movie.Title)
	return true
}

func handleGetMovie(ctx context.Context, w io.Writer, store *catalog.Conn, v reqyaml.GetMovie) bool {
	m, err := store.GetMovie(ctx, v.MovieID)
	if err != nil {
		return writeCatalogError(w, err)
	}
	writeMovieDocument(w, m)
	return true
}

func handleMovieList(ctx context.Context, w io.Writer, key string, movies []movie.Movie, err error) bool {
	if err != nil {
		return writeCatalogError(w, err)
	}
	fmt.Fprintf(w, "---\n%s:\n", key)
	for _, m := range movies {
		writeMovieListItem(w, m)
	}
	fmt.Fprintf(w, "...\n")
	return true
}

func handleListSummaries(ctx context.Context, w io.Writer, store *catalog.Conn) bool {
	summaries, err := store.ListSummaries(ctx)
	if err != nil {
		return writeCatalogError(w, err)
	}
	fmt.Fprintf(w, "---\nsummaries:\n")
	for _, s := range summaries {
		fmt.Fprintf(w, "- {id: %d, title: '%s'}\n", s.ID, escapeSingleQuoted(s.Title))
	}
	fmt.Fprintf(w, "...\n")
	return true
}

func handleOKOrError(ctx context.Context, w io.Writer, err error) bool {
	if err != nil {
		return writeCatalogError(w, err)
	}
	fmt.Fprintf(w, "server: ok\n\n")
	return true
}

// writeCatalogError reports err to the client and reports whether the
// worker should keep running. A HardError means the connection (and
// the DB handle behind it) is no longer trustworthy: writeCatalogError
// still attempts to tell the client, then returns false regardless of
// whether that write succeeds.
func writeCatalogError(w io.Writer, err error) bool {
	var catErr *catalog.Error
	if !errors.As(err, &catErr) {
		fmt.Fprintf(w, "server: %s\n\n", err.Error())
		return true
	}

	fmt.Fprintf(w, "server: %s\n\n", catErr.Message)
	return catErr.Class != catalogerr.HardError
}

// writeMovieDocument renders one movie as the YAML document shape of
// §6: id, title, release_year, director, genres, in that field order.
func writeMovieDocument(w io.Writer, m movie.Movie) {
	fmt.Fprintf(w, "---\n")
	fmt.Fprintf(w, "id: %d\n", m.ID)
	fmt.Fprintf(w, "title: %s\n", m.Title)
	fmt.Fprintf(w, "release_year: %d\n", m.ReleaseYear)
	fmt.Fprintf(w, "director: %s\n", m.Director)
	writeGenresField(w, m.Genres())
	fmt.Fprintf(w, "...\n")
}

// writeMovieListItem renders one movie as a nested list entry under a
// sequence-document key (§6 "sequence-document beginning with
// ---\nkey:\n").
func writeMovieListItem(w io.Writer, m movie.Movie) {
	fmt.Fprintf(w, "- id: %d\n", m.ID)
	fmt.Fprintf(w, "  title: %s\n", m.Title)
	fmt.Fprintf(w, "  release_year: %d\n", m.ReleaseYear)
	fmt.Fprintf(w, "  director: %s\n", m.Director)
	genres := m.Genres()
	if len(genres) == 0 {
		fmt.Fprintf(w, "  genres: []\n")
		return
	}
	fmt.Fprintf(w, "  genres:\n")
	for _, g := range genres {
		fmt.Fprintf(w, "    - %s\n", g)
	}
}

func writeGenresField(w io.Writer, genres []string) {
	if len(genres) == 0 {
		fmt.Fprintf(w, "genres: []\n")
		return
	}
	fmt.Fprintf(w, "genres:\n")
	for _, g := range genres {
		fmt.Fprintf(w, "  - %s\n", g)
	}
}

func escapeSingleQuoted(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'', '\'')
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}
