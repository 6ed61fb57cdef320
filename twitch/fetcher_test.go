package twitch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"clipsync/clip"
	clhttp "clipsync/http"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestFetcher(t *testing.T, handler http.Handler) *Fetcher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	httpCfg := clhttp.DefaultConfig()
	httpCfg.Retry.MaxRetries = 0
	httpCfg.RateLimiter.CustomRates = map[string]float64{"127.0.0.1": 0}

	f := New(Config{
		ClientID:    "cid",
		BaseURL:     srv.URL,
		TokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok", TokenType: "Bearer"}),
		HTTP:        httpCfg,
	}, nil)
	f.now = func() time.Time { return fixedNow }
	t.Cleanup(func() { f.Close() })
	return f
}

func clipJSON(id string, views int, created string) string {
	return fmt.Sprintf(`{"id":%q,"url":"https://clips.twitch.tv/%s","title":" Clip %s ","view_count":%d,
		"created_at":%q,"duration":27.5,"game_id":"509658","creator_name":"viewer"}`, id, id, id, views, created)
}

func TestFetchCandidates_PaginatesAndParses(t *testing.T) {
	var pages int32
	mux := http.NewServeMux()
	mux.HandleFunc("/users", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "streamer", r.URL.Query().Get("login"))
		fmt.Fprint(w, `{"data":[{"id":"1234","login":"streamer"}]}`)
	})
	mux.HandleFunc("/clips", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "cid", r.Header.Get("Client-Id"))
		q := r.URL.Query()
		assert.Equal(t, "1234", q.Get("broadcaster_id"))
		assert.Equal(t, "2025-02-28T12:00:00Z", q.Get("started_at"))

		switch atomic.AddInt32(&pages, 1) {
		case 1:
			assert.Empty(t, q.Get("after"))
			fmt.Fprintf(w, `{"data":[%s,%s],"pagination":{"cursor":"c1"}}`,
				clipJSON("A", 900, "2025-03-01T10:00:00Z"), clipJSON("B", 800, "not a time"))
		default:
			assert.Equal(t, "c1", q.Get("after"))
			fmt.Fprintf(w, `{"data":[%s],"pagination":{}}`, clipJSON("C", 700, "2025-03-01T09:00:00Z"))
		}
	})
	mux.HandleFunc("/games", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, []string{"509658"}, r.URL.Query()["id"])
		fmt.Fprint(w, `{"data":[{"id":"509658","name":"Just Chatting"}]}`)
	})

	f := newTestFetcher(t, mux)
	got, err := f.FetchCandidates(context.Background(), Source{Name: "main", BroadcasterLogin: "Streamer"}, 24*time.Hour, 50)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "A", got[0].ID)
	assert.Equal(t, "main", got[0].SourceName)
	assert.Equal(t, "Clip A", got[0].Title)
	assert.Equal(t, int64(900), got[0].ViewCount)
	assert.InDelta(t, 27.5, got[0].DurationSeconds, 1e-9)
	assert.Equal(t, "Just Chatting", got[0].Category)
	assert.True(t, got[0].CreatedAt.Equal(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)))
	assert.False(t, got[1].HasTimestamp(), "bad timestamp is kept as zero, not dropped")
	assert.Equal(t, int32(2), atomic.LoadInt32(&pages))
}

func TestFetchCandidates_RespectsMaxResults(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/clips", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("first"))
		fmt.Fprintf(w, `{"data":[%s,%s],"pagination":{"cursor":"more"}}`,
			clipJSON("A", 1, "2025-03-01T10:00:00Z"), clipJSON("B", 1, "2025-03-01T10:00:00Z"))
	})
	mux.HandleFunc("/games", func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, `{"data":[]}`) })

	f := newTestFetcher(t, mux)
	got, err := f.FetchCandidates(context.Background(), Source{Name: "main", BroadcasterID: "1"}, time.Hour, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestFetchCandidates_PartialPageFailure(t *testing.T) {
	var pages int32
	mux := http.NewServeMux()
	mux.HandleFunc("/clips", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&pages, 1) == 1 {
			fmt.Fprintf(w, `{"data":[%s],"pagination":{"cursor":"c1"}}`, clipJSON("A", 1, "2025-03-01T10:00:00Z"))
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	})
	mux.HandleFunc("/games", func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, `{"data":[]}`) })

	f := newTestFetcher(t, mux)
	got, err := f.FetchCandidates(context.Background(), Source{Name: "main", BroadcasterID: "1"}, time.Hour, 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPartialFetch)
	assert.Len(t, got, 1, "clips fetched before the failure are kept")

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "main", fetchErr.Source)
}

func TestFetchCandidates_FirstPageFailure(t *testing.T) {
	f := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"Unauthorized","status":401,"message":"Invalid OAuth token"}`)
	}))
	got, err := f.FetchCandidates(context.Background(), Source{Name: "main", BroadcasterID: "1"}, time.Hour, 10)
	assert.Nil(t, got)
	assert.NotErrorIs(t, err, ErrPartialFetch)
	assert.ErrorIs(t, err, clip.ErrFatal)
	assert.Contains(t, err.Error(), "Invalid OAuth token")
}

func TestFetchCandidates_UnknownBroadcaster(t *testing.T) {
	f := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[]}`)
	}))
	_, err := f.FetchCandidates(context.Background(), Source{Name: "main", BroadcasterLogin: "ghost"}, time.Hour, 10)
	assert.True(t, errors.Is(err, ErrBroadcasterNotFound))
}

func TestFetchByID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/clips", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") == "Known" {
			fmt.Fprintf(w, `{"data":[%s]}`, clipJSON("Known", 5, "2025-03-01T10:00:00Z"))
			return
		}
		fmt.Fprint(w, `{"data":[]}`)
	})
	mux.HandleFunc("/games", func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, `{"data":[]}`) })
	f := newTestFetcher(t, mux)

	c, err := f.FetchByID(context.Background(), "main", "Known")
	require.NoError(t, err)
	assert.True(t, c.Forced)
	assert.Equal(t, "509658", c.Category, "unresolved game keeps its id")

	_, err = f.FetchByID(context.Background(), "main", "Missing")
	assert.ErrorIs(t, err, ErrClipNotFound)
	assert.Equal(t, clip.OutcomeRejected, clip.Classify(err))
}

func TestParseClipRef(t *testing.T) {
	tests := []struct {
		ref     string
		want    string
		wantErr bool
	}{
		{"AwkwardHelplessSalamanderSwiftRage", "AwkwardHelplessSalamanderSwiftRage", false},
		{"  Slug-With_dash-AbC123  ", "Slug-With_dash-AbC123", false},
		{"https://clips.twitch.tv/FunnySlug", "FunnySlug", false},
		{"clips.twitch.tv/FunnySlug", "FunnySlug", false},
		{"https://www.twitch.tv/streamer/clip/FunnySlug?filter=clips&range=7d", "FunnySlug", false},
		{"https://m.twitch.tv/clip/FunnySlug", "FunnySlug", false},
		{"https://clips.twitch.tv/embed?clip=FunnySlug&parent=x", "FunnySlug", false},
		{"https://www.twitch.tv/streamer", "", true},
		{"https://example.com/clip/x", "", true},
		{"bad slug!", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := ParseClipRef(tt.ref)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidClipRef)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
