// Package reqyaml implements the streaming request parser of §4.E: an
// incremental, one-operation-at-a-time reader over a YAML document
// stream. It wraps gopkg.in/yaml.v3's yaml.Decoder, which produces a
// fully-decoded *yaml.Node per document rather than raw tokenizer
// events, and walks that tree with an explicit queue standing in for
// the low-level event stack the original parser pulls from.
package reqyaml

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/marmitar/moviecatalogd/internal/movie"
)

// Operation is the tagged union of §4 module E. Every concrete type
// below implements it; callers type-switch on the result of NextOp.
type Operation interface {
	isOperation()
}

// AddMovie registers m with its genres.
type AddMovie struct{ Movie movie.Movie }

// AddGenre attaches Genre to the movie identified by MovieID.
type AddGenre struct {
	MovieID int64
	Genre   string
}

// RemoveMovie deletes the movie identified by MovieID.
type RemoveMovie struct{ MovieID int64 }

// GetMovie fetches the movie identified by MovieID.
type GetMovie struct{ MovieID int64 }

// SearchByGenre lists every movie tagged with Genre.
type SearchByGenre struct{ Genre string }

// ListMovies lists every movie.
type ListMovies struct{}

// ListSummaries lists every movie's id/title projection.
type ListSummaries struct{}

// ParseError is a recoverable parse failure: the parser remains
// usable and NextOp may be called again. Line/Column are zero when no
// tokenizer position is available (e.g. a stream-level error).
type ParseError struct {
	Message string
	Line    int
	Column  int
}

// ParseDone signals the end of the request stream. Once returned by
// NextOp, every later call returns ParseDone again.
type ParseDone struct{}

func (AddMovie) isOperation()      {}
func (AddGenre) isOperation()      {}
func (RemoveMovie) isOperation()   {}
func (GetMovie) isOperation()      {}
func (SearchByGenre) isOperation() {}
func (ListMovies) isOperation()    {}
func (ListSummaries) isOperation() {}
func (ParseError) isOperation()    {}
func (ParseDone) isOperation()     {}

// Error renders the position-annotated message; ParseError also
// satisfies the error interface for callers that want to wrap it.
func (e ParseError) Error() string {
	if e.Line == 0 && e.Column == 0 {
		return e.Message
	}
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Column, e.Message)
}

// opAliases recognizes both the English operation names and their
// numeric aliases "1".."7", in the order listed by §4.E.
var opAliases = map[string]string{
	"1": "add_movie", "add_movie": "add_movie",
	"2": "add_genre", "add_genre": "add_genre",
	"3": "remove_movie", "remove_movie": "remove_movie",
	"4": "list_summaries", "list_summaries": "list_summaries",
	"5": "list_movies", "list_movies": "list_movies",
	"6": "get_movie", "get_movie": "get_movie",
	"7": "search_by_genre", "search_by_genre": "search_by_genre",
}

// Parser incrementally decodes operations off the wrapped reader.
// Not safe for concurrent use; each connection owns one Parser.
type Parser struct {
	dec     *yaml.Decoder
	pending []Operation
	done    bool
}

// New wraps r as a parser bound to a socket's byte stream.
func New(r io.Reader) *Parser {
	return &Parser{dec: yaml.NewDecoder(r)}
}

// NextOp returns the next queued operation, decoding another document
// off the stream if the queue is empty. A single document may expand
// to more than one Operation (a mapping with several operation keys,
// or a sequence of such mappings), which NextOp then drains one at a
// time before reading further.
func (p *Parser) NextOp() Operation {
	for {
		if p.done {
			return ParseDone{}
		}
		if len(p.pending) > 0 {
			op := p.pending[0]
			p.pending = p.pending[1:]
			return op
		}

		var doc yaml.Node
		if err := p.dec.Decode(&doc); err != nil {
			// Stream-end and tokenizer-level I/O failures both latch
			// the parser as finished; only structural problems inside
			// a successfully decoded document are recoverable.
			p.done = true
			if errors.Is(err, io.EOF) {
				return ParseDone{}
			}
			return ParseError{Message: fmt.Sprintf("stream error: %v", err)}
		}
		if len(doc.Content) == 0 {
			continue
		}

		ops := parseTopLevel(doc.Content[0])
		if len(ops) == 0 {
			continue
		}
		p.pending = ops
	}
}

func parseErrorAt(n *yaml.Node, format string, args ...any) ParseError {
	return ParseError{Message: fmt.Sprintf(format, args...), Line: n.Line, Column: n.Column}
}

// parseTopLevel implements the TOP / TOP-IN-MAPPING states.
func parseTopLevel(n *yaml.Node) []Operation {
	switch n.Kind {
	case yaml.ScalarNode:
		return []Operation{parseNullaryScalar(n)}
	case yaml.MappingNode:
		return parseMapping(n)
	case yaml.SequenceNode:
		var ops []Operation
		for _, item := range n.Content {
			if item.Kind != yaml.MappingNode {
				ops = append(ops, parseErrorAt(item, "expected a mapping in top-level sequence"))
				continue
			}
			ops = append(ops, parseMapping(item)...)
		}
		return ops
	default:
		return []Operation{parseErrorAt(n, "unexpected document shape")}
	}
}

func parseNullaryScalar(n *yaml.Node) Operation {
	name, ok := opAliases[n.Value]
	if !ok {
		return parseErrorAt(n, "unknown operation %q", n.Value)
	}
	switch name {
	case "list_movies":
		return ListMovies{}
	case "list_summaries":
		return ListSummaries{}
	default:
		return parseErrorAt(n, "operation %q requires a mapping", name)
	}
}

func parseMapping(n *yaml.Node) []Operation {
	var ops []Operation
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		name, ok := opAliases[key.Value]
		if !ok {
			ops = append(ops, parseErrorAt(key, "unknown operation %q", key.Value))
			continue
		}
		ops = append(ops, dispatch(name, val)...)
	}
	return ops
}

func dispatch(name string, val *yaml.Node) []Operation {
	switch name {
	case "add_movie":
		return parseAddMovie(val)
	case "add_genre":
		return parseMovieKeyMapping(val, true, true, func(id int64, genre string) Operation {
			return AddGenre{MovieID: id, Genre: genre}
		})
	case "remove_movie":
		return parseMovieKeyMapping(val, true, false, func(id int64, _ string) Operation {
			return RemoveMovie{MovieID: id}
		})
	case "get_movie":
		return parseMovieKeyMapping(val, true, false, func(id int64, _ string) Operation {
			return GetMovie{MovieID: id}
		})
	case "search_by_genre":
		return parseMovieKeyMapping(val, false, true, func(_ int64, genre string) Operation {
			return SearchByGenre{Genre: genre}
		})
	case "list_movies":
		return []Operation{ListMovies{}}
	case "list_summaries":
		return []Operation{ListSummaries{}}
	default:
		return []Operation{parseErrorAt(val, "unhandled operation %q", name)}
	}
}

// parseAddMovie implements the movie-mapping sub-parser: title,
// director, year|release_year, genre|genres. A duplicate field keeps
// the first value and contributes a non-fatal warning ahead of the
// resulting operation (or error) in the returned slice.
func parseAddMovie(val *yaml.Node) []Operation {
	if val.Kind != yaml.MappingNode {
		return []Operation{parseErrorAt(val, "add_movie requires a mapping")}
	}

	var title, director *string
	var year *int32
	var genres []string
	var genresSet bool
	var warnings []Operation

	for i := 0; i+1 < len(val.Content); i += 2 {
		key, v := val.Content[i], val.Content[i+1]
		switch key.Value {
		case "title":
			if title != nil {
				warnings = append(warnings, parseErrorAt(key, "duplicate field %q", "title"))
				continue
			}
			if v.Kind != yaml.ScalarNode {
				return append(warnings, parseErrorAt(v, "title must be a scalar"))
			}
			s := v.Value
			title = &s
		case "director":
			if director != nil {
				warnings = append(warnings, parseErrorAt(key, "duplicate field %q", "director"))
				continue
			}
			if v.Kind != yaml.ScalarNode {
				return append(warnings, parseErrorAt(v, "director must be a scalar"))
			}
			s := v.Value
			director = &s
		case "year", "release_year":
			if year != nil {
				warnings = append(warnings, parseErrorAt(key, "duplicate field %q", key.Value))
				continue
			}
			y, err := parseYear(v.Value)
			if err != nil {
				return append(warnings, parseErrorAt(v, "%s: %v", key.Value, err))
			}
			year = &y
		case "genre", "genres":
			if genresSet {
				warnings = append(warnings, parseErrorAt(key, "duplicate field %q", key.Value))
				continue
			}
			g, err := parseGenreList(v)
			if err != nil {
				return append(warnings, parseErrorAt(v, "%s: %v", key.Value, err))
			}
			genres = g
			genresSet = true
		default:
			// Unknown keys are consumed silently.
		}
	}

	if title == nil || director == nil || year == nil || !genresSet {
		return append(warnings, parseErrorAt(val, "add_movie missing required field(s)"))
	}
	return append(warnings, AddMovie{Movie: movie.NewMovie(0, *title, *director, *year, genres)})
}

// parseGenreList implements the genre-list sub-parser: a single
// scalar is a one-element list; a sequence of scalars is itself; a
// nested mapping or anything else is an error.
func parseGenreList(v *yaml.Node) ([]string, error) {
	switch v.Kind {
	case yaml.ScalarNode:
		return []string{v.Value}, nil
	case yaml.SequenceNode:
		genres := make([]string, 0, len(v.Content))
		for _, item := range v.Content {
			if item.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("genre list item must be a scalar")
			}
			genres = append(genres, item.Value)
		}
		return genres, nil
	default:
		return nil, fmt.Errorf("genres must be a scalar or a sequence of scalars")
	}
}

// parseMovieKeyMapping implements the movie-key mapping sub-parser
// shared by AddGenre/RemoveMovie/GetMovie/SearchByGenre, including
// the abbreviated scalar form for single-field operations (e.g.
// "remove_movie: 42").
func parseMovieKeyMapping(val *yaml.Node, needID, needGenre bool, build func(id int64, genre string) Operation) []Operation {
	var id int64
	var genre string
	var haveID, haveGenre bool
	var warnings []Operation

	switch val.Kind {
	case yaml.ScalarNode:
		switch {
		case needID && !needGenre:
			n, err := parseID(val.Value)
			if err != nil {
				return []Operation{parseErrorAt(val, "%v", err)}
			}
			id, haveID = n, true
		case needGenre && !needID:
			genre, haveGenre = val.Value, true
		default:
			return []Operation{parseErrorAt(val, "this operation requires a mapping")}
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(val.Content); i += 2 {
			key, v := val.Content[i], val.Content[i+1]
			switch key.Value {
			case "id", "movie_id":
				if haveID {
					warnings = append(warnings, parseErrorAt(key, "duplicate field %q", key.Value))
					continue
				}
				n, err := parseID(v.Value)
				if err != nil {
					return append(warnings, parseErrorAt(v, "%v", err))
				}
				id, haveID = n, true
			case "genre":
				if haveGenre {
					warnings = append(warnings, parseErrorAt(key, "duplicate field %q", "genre"))
					continue
				}
				genre, haveGenre = v.Value, true
			default:
				// Unknown keys are consumed silently.
			}
		}
	default:
		return []Operation{parseErrorAt(val, "expected a mapping or scalar")}
	}

	if needID && !haveID {
		return append(warnings, parseErrorAt(val, "missing required field %q", "id"))
	}
	if needGenre && !haveGenre {
		return append(warnings, parseErrorAt(val, "missing required field %q", "genre"))
	}
	return append(warnings, build(id, genre))
}

func parseID(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty id")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return n, nil
}

func parseYear(s string) (int32, error) {
	if s == "" {
		return 0, fmt.Errorf("empty year")
	}
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid year %q: %w", s, err)
	}
	return int32(n), nil
}
