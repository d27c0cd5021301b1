package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeguard/internal/config"
	"github.com/alanyoungcy/tradeguard/internal/domain"
	"github.com/alanyoungcy/tradeguard/internal/events"
	"github.com/alanyoungcy/tradeguard/internal/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memWriter struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	meta    map[string]map[string]string
	err     error
}

func newMemWriter() *memWriter {
	return &memWriter{
		objects: map[string][]byte{},
		types:   map[string]string{},
		meta:    map[string]map[string]string{},
	}
}

func (m *memWriter) Put(_ context.Context, path string, data []byte, contentType string, meta map[string]string) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = append([]byte(nil), data...)
	m.types[path] = contentType
	m.meta[path] = meta
	return nil
}

func TestNormaliseEndpoint(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "https://e2.example.com", normaliseEndpoint("e2.example.com", true))
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("localhost:9000", false))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("http://minio:9000", true))
}

func TestArchivePath(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "archive/sessions/2026-10-13.jsonl", ArchivePath("archive/sessions/", "2026-10-13"))
	assert.Equal(t, "2026-10-13.jsonl", ArchivePath("", "2026-10-13"))
}

func TestArchiveSessions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := memory.NewSessionStore()
	journal := memory.NewTradeJournal()
	audit := memory.NewAuditStore()
	bus := events.NewLocalBus(discardLogger())
	evts, err := bus.Subscribe(ctx, domain.SessionEventsChannel)
	require.NoError(t, err)

	for _, s := range []domain.TradingSession{
		{ID: "s1", TraderID: "alice", TradingDate: "2026-10-13", Version: 1},
		{ID: "s2", TraderID: "bob", TradingDate: "2026-10-13", Version: 1},
		{ID: "s3", TraderID: "alice", TradingDate: "2026-10-14", Version: 1},
	} {
		require.NoError(t, store.Create(ctx, s))
	}
	require.NoError(t, journal.RecordTrade(ctx, domain.TradeRecord{
		ID: "t1", SessionID: "s1", Symbol: "AAPL", RealizedPnL: decimal.NewFromInt(-200),
	}))

	w := newMemWriter()
	arch := NewArchiver(ArchiverDeps{
		Writer:  w,
		Store:   store,
		Journal: journal,
		Audit:   audit,
		Bus:     bus,
		Prefix:  "archive/sessions",
	}, discardLogger())

	n, err := arch.ArchiveSessions(ctx, "2026-10-13")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	obj := w.objects["archive/sessions/2026-10-13.jsonl"]
	require.NotEmpty(t, obj)
	assert.Equal(t, contentTypeJSONL, w.types["archive/sessions/2026-10-13.jsonl"])
	n, ok := SessionCount(domain.BlobInfo{Metadata: w.meta["archive/sessions/2026-10-13.jsonl"]})
	require.True(t, ok)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, "2026-10-13", w.meta["archive/sessions/2026-10-13.jsonl"][metaTradingDate])

	byID := map[string]ArchivedSession{}
	sc := bufio.NewScanner(bytes.NewReader(obj))
	for sc.Scan() {
		var rec ArchivedSession
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		byID[rec.Session.ID] = rec
	}
	require.Len(t, byID, 2)
	require.Len(t, byID["s1"].Trades, 1)
	assert.Equal(t, "t1", byID["s1"].Trades[0].ID)
	assert.Empty(t, byID["s2"].Trades)

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, string(domain.EventSessionArchived), entries[0].Event)

	select {
	case raw := <-evts:
		var evt domain.SessionEvent
		require.NoError(t, json.Unmarshal(raw, &evt))
		assert.Equal(t, domain.EventSessionArchived, evt.Kind)
		assert.Equal(t, float64(2), evt.Data["count"])
	case <-time.After(time.Second):
		t.Fatal("no archive event")
	}
}

func TestArchiveSessionsEdgeCases(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	w := newMemWriter()
	arch := NewArchiver(ArchiverDeps{Writer: w, Store: memory.NewSessionStore()}, discardLogger())

	n, err := arch.ArchiveSessions(ctx, "2026-10-13")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.objects)

	_, err = arch.ArchiveSessions(ctx, "13/10/2026")
	assert.ErrorIs(t, err, domain.ErrValidation)

	store := memory.NewSessionStore()
	require.NoError(t, store.Create(ctx, domain.TradingSession{ID: "s1", TraderID: "a", TradingDate: "2026-10-13", Version: 1}))
	w.err = errors.New("bucket gone")
	arch = NewArchiver(ArchiverDeps{Writer: w, Store: store}, discardLogger())
	_, err = arch.ArchiveSessions(ctx, "2026-10-13")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket gone")
}

const listBody = `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
<Name>archive</Name><Prefix>sessions</Prefix><KeyCount>3</KeyCount><MaxKeys>1000</MaxKeys><IsTruncated>false</IsTruncated>
<Contents><Key>sessions/2026-10-14.jsonl</Key><LastModified>2026-10-14T21:00:00.000Z</LastModified><Size>40</Size></Contents>
<Contents><Key>sessions/2026-10-13.jsonl</Key><LastModified>2026-10-13T21:00:00.000Z</LastModified><Size>3</Size></Contents>
<Contents><Key>sessions/README.txt</Key><LastModified>2026-10-01T00:00:00.000Z</LastModified><Size>7</Size></Contents>
</ListBucketResult>`

// fakeS3 is a path-style bucket named "archive" holding one archive for
// 2026-10-13. Uploaded metadata headers are recorded in puts.
type fakeS3 struct {
	*httptest.Server
	mu   sync.Mutex
	puts map[string]http.Header
}

func newFakeS3(t *testing.T) *fakeS3 {
	t.Helper()
	f := &fakeS3{puts: map[string]http.Header{}}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, "/archive"), "/")
		switch {
		case key == "" && r.URL.Query().Get("list-type") == "2":
			w.Header().Set("Content-Type", "application/xml")
			_, _ = w.Write([]byte(listBody))
		case key == "":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPut:
			_, _ = io.Copy(io.Discard, r.Body)
			f.mu.Lock()
			f.puts[key] = r.Header.Clone()
			f.mu.Unlock()
			w.Header().Set("ETag", `"abc"`)
		case key == "sessions/2026-10-13.jsonl":
			w.Header().Set("Content-Type", contentTypeJSONL)
			w.Header().Set("Content-Length", "3")
			w.Header().Set("Last-Modified", "Tue, 13 Oct 2026 21:00:00 GMT")
			w.Header().Set("X-Amz-Meta-Sessions", "2")
			w.Header().Set("X-Amz-Meta-Trading-Date", "2026-10-13")
			if r.Method == http.MethodGet {
				_, _ = w.Write([]byte("{}\n"))
			}
		default:
			w.WriteHeader(http.StatusNotFound)
			if r.Method == http.MethodGet {
				_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`))
			}
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func fakeClient(t *testing.T, srv *fakeS3) *Client {
	t.Helper()
	c, err := New(context.Background(), config.S3Config{
		Endpoint:       srv.URL,
		Region:         "us-east-1",
		Bucket:         "archive",
		AccessKey:      "test",
		SecretKey:      "test",
		ForcePathStyle: true,
	})
	require.NoError(t, err)
	return c
}

func TestReaderAgainstFakeEndpoint(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := fakeClient(t, newFakeS3(t))
	require.NoError(t, c.Ping(ctx))
	r := NewReader(c)

	info, err := r.Stat(ctx, "sessions/2026-10-13.jsonl")
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.Size)
	assert.Equal(t, contentTypeJSONL, info.ContentType)
	n, ok := SessionCount(info)
	require.True(t, ok)
	assert.Equal(t, int64(2), n)

	_, err = r.Stat(ctx, "sessions/2026-10-15.jsonl")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	body, err := r.Get(ctx, "sessions/2026-10-13.jsonl")
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, body.Close())
	assert.Equal(t, "{}\n", string(data))

	_, err = r.Get(ctx, "sessions/missing.jsonl")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReaderDays(t *testing.T) {
	t.Parallel()
	r := NewReader(fakeClient(t, newFakeS3(t)))

	days, err := r.Days(context.Background(), "sessions")
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, "2026-10-13", days[0].TradingDate)
	assert.Equal(t, "2026-10-14", days[1].TradingDate)
	assert.Equal(t, int64(40), days[1].Size)
	assert.Equal(t, "sessions/2026-10-14.jsonl", days[1].Path)
}

func TestWriterSendsMetadata(t *testing.T) {
	t.Parallel()
	srv := newFakeS3(t)
	w := NewWriter(fakeClient(t, srv))

	err := w.Put(context.Background(), "sessions/2026-10-16.jsonl", []byte("{}\n"), contentTypeJSONL,
		map[string]string{metaTradingDate: "2026-10-16", metaSessions: "1"})
	require.NoError(t, err)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	h, ok := srv.puts["sessions/2026-10-16.jsonl"]
	require.True(t, ok)
	assert.Equal(t, "1", h.Get("X-Amz-Meta-Sessions"))
	assert.Equal(t, "2026-10-16", h.Get("X-Amz-Meta-Trading-Date"))
	assert.Equal(t, contentTypeJSONL, h.Get("Content-Type"))
}

func TestNewRequiresBucketAndRegion(t *testing.T) {
	t.Parallel()
	_, err := New(context.Background(), config.S3Config{Region: "us-east-1"})
	assert.Error(t, err)
	_, err = New(context.Background(), config.S3Config{Bucket: "b"})
	assert.Error(t, err)
}
