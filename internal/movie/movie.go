// Package movie defines the catalog's owned record types.
//
// Movie and Summary are plain value types with no manual lifetime
// management: Go's garbage collector replaces the paired
// constructor/destructor discipline of the original C record model.
package movie

// Movie is a single catalog entry. ID is 0 only when the record has
// not yet been assigned an identifier by the store (i.e. as input to
// a registration call); once assigned it is immutable for the
// record's lifetime.
type Movie struct {
	ID          int64
	Title       string
	Director    string
	ReleaseYear int32
	genres      []string
}

// NewMovie builds a Movie, copying genres defensively so later
// mutation of the caller's slice cannot be observed through the
// returned value.
func NewMovie(id int64, title, director string, releaseYear int32, genres []string) Movie {
	return Movie{
		ID:          id,
		Title:       title,
		Director:    director,
		ReleaseYear: releaseYear,
		genres:      append([]string(nil), genres...),
	}
}

// Genres returns a defensive copy of the movie's genre list. Callers
// must not assume the returned slice aliases any internal storage.
func (m Movie) Genres() []string {
	return append([]string(nil), m.genres...)
}

// Summary is the lightweight listing projection of a Movie.
type Summary struct {
	ID    int64
	Title string
}
