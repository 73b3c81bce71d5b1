package handler

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/marmitar/moviecatalogd/internal/builder"
	"github.com/marmitar/moviecatalogd/internal/catalog"
)

func openTestConn(t *testing.T) *catalog.Conn {
	t.Helper()
	c, err := catalog.Connect(context.Background(), ":memory:", builder.New())
	if err != nil {
		t.Fatalf("catalog.Connect: %v", err)
	}
	t.Cleanup(func() { c.Disconnect() })
	return c
}

// runHandler starts Handle against the server half of a net.Pipe in a
// goroutine, writes request into the client half, and returns the
// client half plus a channel that receives Handle's return value.
func runHandler(t *testing.T, store *catalog.Conn, request string) (*bufio.Reader, net.Conn, <-chan bool) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close() })

	done := make(chan bool, 1)
	go func() {
		done <- Handle(context.Background(), 1, server, store)
	}()

	go func() {
		client.Write([]byte(request))
	}()

	return bufio.NewReader(client), client, done
}

func readUntilBlank(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	var sb strings.Builder
	deadline := time.Now().Add(2 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatalf("timed out reading response, got so far: %q", sb.String())
		}
		line, err := r.ReadString('\n')
		sb.WriteString(line)
		if err != nil {
			return sb.String()
		}
		if line == "\n" {
			return sb.String()
		}
	}
}

func TestAddMovieThenGetMovie(t *testing.T) {
	t.Parallel()

	store := openTestConn(t)
	r, client, done := runHandler(t, store, "add_movie:\n  title: Star Wars\n  director: George Lucas\n  year: 1977\n  genres: [Sci-Fi, Thriller]\n")
	defer client.Close()

	resp := readUntilBlank(t, r)
	if !strings.Contains(resp, "server: ok") {
		t.Fatalf("response = %q, want it to contain server: ok", resp)
	}

	line, err := r.ReadString('\n')
	if err != nil || !strings.HasPrefix(line, "movie[") {
		t.Fatalf("expected a movie[...] echo line, got %q (err=%v)", line, err)
	}

	client.Close()
	select {
	case ok := <-done:
		if !ok {
			t.Fatal("Handle returned false after a clean close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Handle did not return after client close")
	}
}

func TestGetMovieUnknownIDWritesErrorAndContinues(t *testing.T) {
	t.Parallel()

	store := openTestConn(t)
	r, client, done := runHandler(t, store, "get_movie: 9999\n")
	defer client.Close()

	resp := readUntilBlank(t, r)
	if !strings.Contains(resp, "no movie with id = 9999 found in the database") {
		t.Fatalf("response = %q, want the contractual not-found message", resp)
	}

	client.Close()
	select {
	case ok := <-done:
		if !ok {
			t.Fatal("Handle returned false for a UserError, want true")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Handle did not return after client close")
	}
}

func TestParseErrorIsNonFatalAndHandlerKeepsRunning(t *testing.T) {
	t.Parallel()

	store := openTestConn(t)
	r, client, done := runHandler(t, store, "bogus_operation: 1\n---\nget_movie: 9999\n")
	defer client.Close()

	first := readUntilBlank(t, r)
	if !strings.Contains(first, "server: parsing error:") {
		t.Fatalf("first response = %q, want a parsing error line", first)
	}

	second := readUntilBlank(t, r)
	if !strings.Contains(second, "no movie with id = 9999 found in the database") {
		t.Fatalf("second response = %q, want the not-found message", second)
	}

	client.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Handle did not return after client close")
	}
}

func TestListSummariesEmptyCatalog(t *testing.T) {
	t.Parallel()

	store := openTestConn(t)
	r, client, done := runHandler(t, store, "list_summaries\n")
	defer client.Close()

	line, err := r.ReadString('\n')
	if err != nil || strings.TrimSpace(line) != "---" {
		t.Fatalf("expected YAML document start, got %q (err=%v)", line, err)
	}
	line2, _ := r.ReadString('\n')
	if strings.TrimSpace(line2) != "summaries:" {
		t.Fatalf("expected summaries: key, got %q", line2)
	}

	client.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Handle did not return after client close")
	}
}
