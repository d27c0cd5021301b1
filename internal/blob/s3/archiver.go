package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"time"

	"github.com/alanyoungcy/tradeguard/internal/domain"
)

const contentTypeJSONL = "application/x-ndjson"

// Object metadata written with each archive.
const (
	metaTradingDate = "trading-date"
	metaSessions    = "sessions"
)

// ArchivedSession is one JSONL line: a session snapshot with its journal.
type ArchivedSession struct {
	Session domain.TradingSession `json:"session"`
	Trades  []domain.TradeRecord  `json:"trades"`
}

// SessionArchiver implements domain.Archiver. It exports every session of a
// trading day to {prefix}/{date}.jsonl. Rows stay in the primary store;
// re-running for the same date overwrites the object.
type SessionArchiver struct {
	writer  domain.BlobWriter
	store   domain.SessionStore
	journal domain.TradeJournal
	audit   domain.AuditStore
	bus     domain.SignalBus
	prefix  string
	now     func() time.Time
	logger  *slog.Logger
}

// ArchiverDeps are the collaborators of a SessionArchiver. Journal, Audit
// and Bus are optional.
type ArchiverDeps struct {
	Writer  domain.BlobWriter
	Store   domain.SessionStore
	Journal domain.TradeJournal
	Audit   domain.AuditStore
	Bus     domain.SignalBus
	Prefix  string
}

// NewArchiver creates a SessionArchiver.
func NewArchiver(deps ArchiverDeps, logger *slog.Logger) *SessionArchiver {
	return &SessionArchiver{
		writer:  deps.Writer,
		store:   deps.Store,
		journal: deps.Journal,
		audit:   deps.Audit,
		bus:     deps.Bus,
		prefix:  deps.Prefix,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "archiver")),
	}
}

// ArchivePath returns the object key for a trading date.
func ArchivePath(prefix, tradingDate string) string {
	return path.Join(prefix, tradingDate+".jsonl")
}

// SessionCount reads the session count stored with an archive by Stat.
func SessionCount(info domain.BlobInfo) (int64, bool) {
	n, err := strconv.ParseInt(info.Metadata[metaSessions], 10, 64)
	return n, err == nil
}

// ArchiveSessions uploads the day's sessions and returns how many were
// written. A day with no sessions uploads nothing.
func (a *SessionArchiver) ArchiveSessions(ctx context.Context, tradingDate string) (int64, error) {
	if _, err := time.Parse(domain.DateLayout, tradingDate); err != nil {
		return 0, &domain.ValidationError{Errors: []string{fmt.Sprintf("trading date %q must be YYYY-MM-DD", tradingDate)}}
	}

	sessions, err := a.store.ListByDate(ctx, tradingDate)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive sessions query: %w", err)
	}
	if len(sessions) == 0 {
		a.logger.InfoContext(ctx, "archiver: nothing to archive", slog.String("trading_date", tradingDate))
		return 0, nil
	}

	records := make([]ArchivedSession, 0, len(sessions))
	for _, sess := range sessions {
		rec := ArchivedSession{Session: sess, Trades: []domain.TradeRecord{}}
		if a.journal != nil {
			trades, err := a.journal.ListBySession(ctx, sess.ID)
			if err != nil {
				return 0, fmt.Errorf("s3blob: archive trades for %s: %w", sess.ID, err)
			}
			if trades != nil {
				rec.Trades = trades
			}
		}
		records = append(records, rec)
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive sessions marshal: %w", err)
	}

	count := int64(len(records))
	key := ArchivePath(a.prefix, tradingDate)
	meta := map[string]string{
		metaTradingDate: tradingDate,
		metaSessions:    strconv.FormatInt(count, 10),
	}
	if err := a.writer.Put(ctx, key, buf, contentTypeJSONL, meta); err != nil {
		return 0, fmt.Errorf("s3blob: archive sessions upload: %w", err)
	}

	a.logger.InfoContext(ctx, "archiver: sessions archived",
		slog.String("trading_date", tradingDate),
		slog.String("path", key),
		slog.Int64("count", count),
		slog.Int("bytes", len(buf)),
	)
	a.record(ctx, tradingDate, key, count)
	return count, nil
}

// record audits and publishes the archive. Failures are logged only; the
// object is already written.
func (a *SessionArchiver) record(ctx context.Context, tradingDate, key string, count int64) {
	data := map[string]any{
		"trading_date": tradingDate,
		"path":         key,
		"count":        count,
	}
	if a.audit != nil {
		if err := a.audit.Log(ctx, string(domain.EventSessionArchived), data); err != nil {
			a.logger.WarnContext(ctx, "archiver: audit log failed", slog.String("error", err.Error()))
		}
	}
	if a.bus == nil {
		return
	}
	payload, err := json.Marshal(domain.SessionEvent{
		Kind: domain.EventSessionArchived,
		At:   a.now(),
		Data: data,
	})
	if err != nil {
		return
	}
	if err := a.bus.Publish(ctx, domain.SessionEventsChannel, payload); err != nil {
		a.logger.WarnContext(ctx, "archiver: publish failed", slog.String("error", err.Error()))
	}
}

// marshalJSONL encodes one compact JSON value per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
