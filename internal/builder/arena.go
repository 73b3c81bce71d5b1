// Package builder implements the reusable string+record arena that
// the data-access layer streams rows into. An Arena accumulates an
// in-progress record field by field, optionally commits it to a list
// of completed records, and later materializes owned movie.Movie /
// movie.Summary values from everything it has collected.
//
// Per §9 of the specification ("ownership split"), materialized
// values never alias the arena's backing buffer: every Take* call
// copies bytes out. The arena still keeps the byte-buffer/descriptor
// layout of the original design (NUL-terminated string storage,
// page-sized growth, a read-only-until-reset invariant) so the
// growth-policy and aliasing invariants remain meaningful to test.
package builder

import (
	"errors"
	"fmt"

	"github.com/marmitar/moviecatalogd/internal/alloc"
	"github.com/marmitar/moviecatalogd/internal/movie"
)

// Page is the growth granularity for the string buffer, matching the
// specification's PAGE = 4096.
const Page = 4096

// descriptorStep is the fixed growth step for the completed-record
// list, matching the specification's "grows by fixed step (e.g. 128)".
const descriptorStep = 128

// slotMask tracks which fields of the in-progress descriptor have
// been set.
type slotMask uint8

const (
	slotID slotMask = 1 << iota
	slotTitle
	slotDirector
	slotYear
	slotGenres
)

const slotsForMovie = slotID | slotTitle | slotDirector | slotYear | slotGenres
const slotsForSummary = slotID | slotTitle

// descriptor is a fixed-size record of offsets and primitives
// referencing slices inside str_data.
type descriptor struct {
	id          int64
	titleOff    int
	titleLen    int
	directorOff int
	directorLen int
	year        int32
	genresStart int
	genresCount int
}

// Arena is the builder described in §4.C. It is not safe for
// concurrent use; each worker owns one Arena, reused across requests.
type Arena struct {
	strData  []byte
	strInUse int

	current       descriptor
	currentSet    slotMask
	genresStarted bool

	list []descriptor

	// readOnly becomes true once any Take* call has dereferenced a
	// descriptor into an owned value; it is cleared only by Reset.
	readOnly bool
}

// ErrReadOnly is returned by any mutating call made after a Take*
// call and before the next Reset.
var ErrReadOnly = errors.New("builder: arena is read-only until reset")

// ErrSlotSet is returned when setting a field that was already set on
// the in-progress descriptor.
var ErrSlotSet = errors.New("builder: field already set")

// ErrSlotUnset is returned when committing or taking a record whose
// required fields are missing.
var ErrSlotUnset = errors.New("builder: required field not set")

// New creates an Arena with one page of backing storage.
func New() *Arena {
	return &Arena{
		strData: make([]byte, 0, Page),
	}
}

// Reset clears the in-progress descriptor, the completed list, and
// the string buffer's logical length, invalidating every reference
// previously handed out by Take*. The underlying backing array is
// reused, never reallocated.
func (a *Arena) Reset() {
	a.strData = a.strData[:0]
	a.strInUse = 0
	a.current = descriptor{}
	a.currentSet = 0
	a.genresStarted = false
	a.list = a.list[:0]
	a.readOnly = false
}

// InUse reports the number of bytes currently occupied in the string
// buffer.
func (a *Arena) InUse() int { return a.strInUse }

// Cap reports the string buffer's current capacity.
func (a *Arena) Cap() int { return cap(a.strData) }

// Len reports the number of completed descriptors.
func (a *Arena) Len() int { return len(a.list) }

func (a *Arena) checkWritable() error {
	if a.readOnly {
		return ErrReadOnly
	}
	return nil
}

// SetID sets the in-progress record's id.
func (a *Arena) SetID(id int64) error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	if a.currentSet&slotID != 0 {
		return fmt.Errorf("%w: id", ErrSlotSet)
	}
	a.current.id = id
	a.currentSet |= slotID
	return nil
}

// SetTitle sets the in-progress record's title, appending it (NUL
// terminated) into the string buffer.
func (a *Arena) SetTitle(s string) error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	if a.currentSet&slotTitle != 0 {
		return fmt.Errorf("%w: title", ErrSlotSet)
	}
	off, n, err := a.appendString(s)
	if err != nil {
		return err
	}
	a.current.titleOff, a.current.titleLen = off, n
	a.currentSet |= slotTitle
	return nil
}

// SetDirector sets the in-progress record's director.
func (a *Arena) SetDirector(s string) error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	if a.currentSet&slotDirector != 0 {
		return fmt.Errorf("%w: director", ErrSlotSet)
	}
	off, n, err := a.appendString(s)
	if err != nil {
		return err
	}
	a.current.directorOff, a.current.directorLen = off, n
	a.currentSet |= slotDirector
	return nil
}

// SetReleaseYear sets the in-progress record's release year.
func (a *Arena) SetReleaseYear(year int32) error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	if a.currentSet&slotYear != 0 {
		return fmt.Errorf("%w: release_year", ErrSlotSet)
	}
	a.current.year = year
	a.currentSet |= slotYear
	return nil
}

// StartGenres marks the beginning of the in-progress record's genre
// list; AddGenre may be called any number of times afterward.
func (a *Arena) StartGenres() error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	if a.currentSet&slotGenres != 0 {
		return fmt.Errorf("%w: genres", ErrSlotSet)
	}
	a.current.genresStart = a.strInUse
	a.current.genresCount = 0
	a.currentSet |= slotGenres
	a.genresStarted = true
	return nil
}

// AddGenre appends one genre to the in-progress record's genre list.
// StartGenres must have been called first.
func (a *Arena) AddGenre(s string) error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	if !a.genresStarted {
		return fmt.Errorf("%w: start_genres not called", ErrSlotUnset)
	}
	if _, _, err := a.appendString(s); err != nil {
		return err
	}
	a.current.genresCount++
	return nil
}

// appendString writes s NUL-terminated into the string buffer,
// growing it per the page-ceiling policy if needed, and returns the
// offset and byte length (excluding the terminator) of the write.
func (a *Arena) appendString(s string) (offset, length int, err error) {
	need := len(s) + 1
	if cap(a.strData)-a.strInUse < need {
		target := alloc.GrowTarget(a.strInUse, need, Page)
		grown := make([]byte, a.strInUse, target)
		copy(grown, a.strData[:a.strInUse])
		a.strData = grown
	}
	offset = a.strInUse
	a.strData = a.strData[:a.strInUse+need]
	copy(a.strData[offset:], s)
	a.strData[offset+len(s)] = 0
	a.strInUse += need
	return offset, len(s), nil
}

func (a *Arena) readString(offset, length int) string {
	return string(a.strData[offset : offset+length])
}

// commit pushes the in-progress descriptor onto the completed list
// using the fixed growth step, and clears the in-progress state.
func (a *Arena) commit(d descriptor) {
	if len(a.list) == cap(a.list) {
		target := len(a.list) + descriptorStep
		grown := make([]descriptor, len(a.list), target)
		copy(grown, a.list)
		a.list = grown
	}
	a.list = append(a.list, d)
	a.current = descriptor{}
	a.currentSet = 0
	a.genresStarted = false
}

// CommitCurrentAsMovie requires all five movie slots to be set; it
// pushes the in-progress descriptor onto the completed list without
// touching the string buffer and clears the in-progress flags.
func (a *Arena) CommitCurrentAsMovie() error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	if a.currentSet&slotsForMovie != slotsForMovie {
		return fmt.Errorf("%w: movie requires id, title, director, release_year, genres", ErrSlotUnset)
	}
	a.commit(a.current)
	return nil
}

// CommitCurrentAsSummary requires id and title to be set and commits
// with sentinel values for the unset scalar slots.
func (a *Arena) CommitCurrentAsSummary() error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	if a.currentSet&slotsForSummary != slotsForSummary {
		return fmt.Errorf("%w: summary requires id, title", ErrSlotUnset)
	}
	d := a.current
	d.directorOff, d.directorLen = -1, 0
	d.genresStart, d.genresCount = -1, 0
	a.commit(d)
	return nil
}

// TakeCurrentMovie materializes the in-progress record as an owned
// movie.Movie. All five movie slots must be set. Marks the arena
// read-only until Reset.
func (a *Arena) TakeCurrentMovie() (movie.Movie, error) {
	if err := a.checkWritable(); err != nil {
		return movie.Movie{}, err
	}
	if a.currentSet&slotsForMovie != slotsForMovie {
		return movie.Movie{}, fmt.Errorf("%w: movie requires id, title, director, release_year, genres", ErrSlotUnset)
	}
	a.readOnly = true
	return a.materializeMovie(a.current), nil
}

// TakeCurrentSummary materializes the in-progress record as an owned
// movie.Summary. Only id and title are required.
func (a *Arena) TakeCurrentSummary() (movie.Summary, error) {
	if err := a.checkWritable(); err != nil {
		return movie.Summary{}, err
	}
	if a.currentSet&slotsForSummary != slotsForSummary {
		return movie.Summary{}, fmt.Errorf("%w: summary requires id, title", ErrSlotUnset)
	}
	a.readOnly = true
	return movie.Summary{ID: a.current.id, Title: a.readString(a.current.titleOff, a.current.titleLen)}, nil
}

func (a *Arena) materializeMovie(d descriptor) movie.Movie {
	genres := make([]string, 0, d.genresCount)
	off := d.genresStart
	for i := 0; i < d.genresCount; i++ {
		end := off
		for end < len(a.strData) && a.strData[end] != 0 {
			end++
		}
		genres = append(genres, string(a.strData[off:end]))
		off = end + 1
	}
	return movie.NewMovie(
		d.id,
		a.readString(d.titleOff, d.titleLen),
		a.readString(d.directorOff, d.directorLen),
		d.year,
		genres,
	)
}

// TakeMovieList materializes owned movie.Movie values for every
// descriptor committed via CommitCurrentAsMovie, in commit order.
// Marks the arena read-only until Reset.
func (a *Arena) TakeMovieList() []movie.Movie {
	a.readOnly = true
	out := make([]movie.Movie, 0, len(a.list))
	for _, d := range a.list {
		out = append(out, a.materializeMovie(d))
	}
	return out
}

// TakeSummaryList materializes owned movie.Summary values for every
// descriptor committed via CommitCurrentAsSummary, in commit order.
// Marks the arena read-only until Reset.
func (a *Arena) TakeSummaryList() []movie.Summary {
	a.readOnly = true
	out := make([]movie.Summary, 0, len(a.list))
	for _, d := range a.list {
		out = append(out, movie.Summary{ID: d.id, Title: a.readString(d.titleOff, d.titleLen)})
	}
	return out
}
