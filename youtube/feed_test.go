package youtube

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clipsync/clip"
)

const testFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns:yt="http://www.youtube.com/xml/schemas/2015" xmlns:media="http://search.yahoo.com/mrss/" xmlns="http://www.w3.org/2005/Atom">
 <title>Channel</title>
 <entry>
  <id>yt:video:abc123</id>
  <yt:videoId>abc123</yt:videoId>
  <yt:channelId>UCchannel</yt:channelId>
  <title>Insane  Clutch Round</title>
  <published>2025-03-01T10:00:00+00:00</published>
 </entry>
 <entry>
  <id>yt:video:def456</id>
  <title>Second clip</title>
  <published>2025-02-28T10:00:00+00:00</published>
 </entry>
</feed>`

func newFeedServer(t *testing.T, status int) (*httptest.Server, *string) {
	t.Helper()
	var gotChannel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotChannel = r.URL.Query().Get("channel_id")
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/atom+xml")
		fmt.Fprint(w, testFeed)
	}))
	t.Cleanup(srv.Close)
	return srv, &gotChannel
}

func TestFeedProbe_Match(t *testing.T) {
	srv, gotChannel := newFeedServer(t, http.StatusOK)
	p := NewFeedProbe("UCchannel", srv.URL+"/feeds/videos.xml", srv.Client())

	id, err := p.FindRecentByTitle(context.Background(), "insane clutch round")
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)
	assert.Equal(t, "UCchannel", *gotChannel)

	id, err = p.FindRecentByTitle(context.Background(), "SECOND CLIP")
	require.NoError(t, err)
	assert.Equal(t, "def456", id, "falls back to the entry id")

	id, err = p.FindRecentByTitle(context.Background(), "not there")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestFeedProbe_HTTPFailures(t *testing.T) {
	tests := []struct {
		status int
		want   clip.OutcomeKind
	}{
		{http.StatusNotFound, clip.OutcomeRejected},
		{http.StatusInternalServerError, clip.OutcomeTransient},
		{http.StatusTooManyRequests, clip.OutcomeTransient},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv, _ := newFeedServer(t, tt.status)
			p := NewFeedProbe("UCchannel", srv.URL, srv.Client())
			_, err := p.FindRecentByTitle(context.Background(), "x")
			require.Error(t, err)
			assert.Equal(t, tt.want, clip.Classify(err))
		})
	}
}

func TestFeedProbe_NoChannel(t *testing.T) {
	_, err := NewFeedProbe("", "", nil).FindRecentByTitle(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNoChannel)
}
