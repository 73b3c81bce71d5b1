package builder

import (
	"errors"
	"strings"
	"testing"
)

func mustAddMovieFields(t *testing.T, a *Arena, id int64, title, director string, year int32, genres []string) {
	t.Helper()
	if err := a.SetID(id); err != nil {
		t.Fatalf("SetID: %v", err)
	}
	if err := a.SetTitle(title); err != nil {
		t.Fatalf("SetTitle: %v", err)
	}
	if err := a.SetDirector(director); err != nil {
		t.Fatalf("SetDirector: %v", err)
	}
	if err := a.SetReleaseYear(year); err != nil {
		t.Fatalf("SetReleaseYear: %v", err)
	}
	if err := a.StartGenres(); err != nil {
		t.Fatalf("StartGenres: %v", err)
	}
	for _, g := range genres {
		if err := a.AddGenre(g); err != nil {
			t.Fatalf("AddGenre(%q): %v", g, err)
		}
	}
}

func TestTakeCurrentMovieRoundTrip(t *testing.T) {
	t.Parallel()

	a := New()
	mustAddMovieFields(t, a, 42, "Star Wars", "George Lucas", 1977, []string{"Sci-Fi", "Thriller"})

	m, err := a.TakeCurrentMovie()
	if err != nil {
		t.Fatalf("TakeCurrentMovie: %v", err)
	}
	if m.ID != 42 || m.Title != "Star Wars" || m.Director != "George Lucas" || m.ReleaseYear != 1977 {
		t.Fatalf("unexpected movie: %+v", m)
	}
	if got := m.Genres(); len(got) != 2 || got[0] != "Sci-Fi" || got[1] != "Thriller" {
		t.Fatalf("unexpected genres: %v", got)
	}
}

func TestTakeCurrentSummaryRequiresIDAndTitleOnly(t *testing.T) {
	t.Parallel()

	a := New()
	if err := a.SetID(7); err != nil {
		t.Fatal(err)
	}
	if err := a.SetTitle("Dune"); err != nil {
		t.Fatal(err)
	}

	s, err := a.TakeCurrentSummary()
	if err != nil {
		t.Fatalf("TakeCurrentSummary: %v", err)
	}
	if s.ID != 7 || s.Title != "Dune" {
		t.Fatalf("unexpected summary: %+v", s)
	}
}

func TestSettingFieldTwiceErrors(t *testing.T) {
	t.Parallel()

	a := New()
	if err := a.SetID(1); err != nil {
		t.Fatal(err)
	}
	if err := a.SetID(2); !errors.Is(err, ErrSlotSet) {
		t.Fatalf("SetID twice error = %v, want ErrSlotSet", err)
	}
}

func TestAddGenreWithoutStartGenresErrors(t *testing.T) {
	t.Parallel()

	a := New()
	if err := a.AddGenre("Horror"); !errors.Is(err, ErrSlotUnset) {
		t.Fatalf("AddGenre without StartGenres error = %v, want ErrSlotUnset", err)
	}
}

func TestTakeCurrentMovieMissingFieldErrors(t *testing.T) {
	t.Parallel()

	a := New()
	if err := a.SetID(1); err != nil {
		t.Fatal(err)
	}
	if _, err := a.TakeCurrentMovie(); !errors.Is(err, ErrSlotUnset) {
		t.Fatalf("TakeCurrentMovie with missing fields error = %v, want ErrSlotUnset", err)
	}
}

func TestArenaReadOnlyAfterTake(t *testing.T) {
	t.Parallel()

	a := New()
	mustAddMovieFields(t, a, 1, "X", "Y", 2000, nil)
	if _, err := a.TakeCurrentMovie(); err != nil {
		t.Fatal(err)
	}

	if err := a.SetID(2); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("SetID after Take error = %v, want ErrReadOnly", err)
	}
}

func TestResetClearsReadOnlyAndState(t *testing.T) {
	t.Parallel()

	a := New()
	mustAddMovieFields(t, a, 1, "X", "Y", 2000, []string{"A"})
	if err := a.CommitCurrentAsMovie(); err != nil {
		t.Fatal(err)
	}
	if _, err := a.TakeCurrentSummary(); err == nil {
		t.Fatal("expected error: current descriptor was cleared by commit")
	}
	_ = a.TakeMovieList()
	if err := a.SetID(2); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("SetID after TakeMovieList error = %v, want ErrReadOnly", err)
	}

	a.Reset()
	if a.InUse() != 0 {
		t.Fatalf("InUse() after Reset = %d, want 0", a.InUse())
	}
	if a.Len() != 0 {
		t.Fatalf("Len() after Reset = %d, want 0", a.Len())
	}
	if err := a.SetID(9); err != nil {
		t.Fatalf("SetID after Reset: %v", err)
	}
}

func TestCommitThenTakeMovieList(t *testing.T) {
	t.Parallel()

	a := New()
	mustAddMovieFields(t, a, 1, "A", "DirA", 2001, []string{"Drama"})
	if err := a.CommitCurrentAsMovie(); err != nil {
		t.Fatal(err)
	}
	mustAddMovieFields(t, a, 2, "B", "DirB", 2002, nil)
	if err := a.CommitCurrentAsMovie(); err != nil {
		t.Fatal(err)
	}

	list := a.TakeMovieList()
	if len(list) != 2 {
		t.Fatalf("TakeMovieList len = %d, want 2", len(list))
	}
	if list[0].Title != "A" || list[1].Title != "B" {
		t.Fatalf("unexpected order: %+v", list)
	}
	if len(list[1].Genres()) != 0 {
		t.Fatalf("expected empty genres, got %v", list[1].Genres())
	}
}

func TestCommitSummaryWithSentinelValues(t *testing.T) {
	t.Parallel()

	a := New()
	if err := a.SetID(5); err != nil {
		t.Fatal(err)
	}
	if err := a.SetTitle("Only Title"); err != nil {
		t.Fatal(err)
	}
	if err := a.CommitCurrentAsSummary(); err != nil {
		t.Fatal(err)
	}

	list := a.TakeSummaryList()
	if len(list) != 1 || list[0].ID != 5 || list[0].Title != "Only Title" {
		t.Fatalf("unexpected summaries: %+v", list)
	}
}

func TestGrowthExactFitDoesNotReallocate(t *testing.T) {
	t.Parallel()

	a := New()
	// A string of Page-1 bytes plus its NUL terminator fills the first
	// page exactly, so it must not grow the buffer.
	fill := strings.Repeat("a", Page-1)
	if err := a.SetTitle(fill); err != nil {
		t.Fatal(err)
	}
	if a.Cap() != Page {
		t.Fatalf("Cap() = %d, want %d (no growth expected)", a.Cap(), Page)
	}

	if err := a.SetDirector("x"); err != nil {
		t.Fatal(err)
	}
	if a.Cap() <= Page {
		t.Fatalf("Cap() = %d, want > %d after exceeding the page", a.Cap(), Page)
	}
}
