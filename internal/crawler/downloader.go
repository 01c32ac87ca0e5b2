package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/guttosm/spimexpulse/internal/discovery"
	"github.com/guttosm/spimexpulse/internal/domain/models"
	"github.com/guttosm/spimexpulse/internal/filestore"
	"github.com/guttosm/spimexpulse/internal/logger"
	"github.com/guttosm/spimexpulse/internal/metrics"
)

// Outcome is the result of one download task.
type Outcome int

const (
	Downloaded Outcome = iota
	Skipped
	Failed
	// Withheld tasks found the download quota exhausted and fetched nothing.
	Withheld
)

func (o Outcome) String() string {
	switch o {
	case Downloaded:
		return "downloaded"
	case Skipped:
		return "skipped"
	case Withheld:
		return "withheld"
	default:
		return "failed"
	}
}

// Downloader fetches one bulletin and persists it under its derived name.
type Downloader struct {
	getter discovery.Getter
	store  *filestore.Store
}

// NewDownloader wires a Downloader.
func NewDownloader(getter discovery.Getter, store *filestore.Store) *Downloader {
	return &Downloader{getter: getter, store: store}
}

// Download skips links whose derived file already exists, otherwise fetches and saves them.
// Failures are returned with Outcome Failed and never panic or abort the caller.
func (d *Downloader) Download(ctx context.Context, link discovery.Link) (Outcome, models.DownloadedFile, error) {
	return d.download(ctx, link, nil)
}

// download claims a quota slot on cursor, when given, after the existence check so
// already-stored documents never consume the quota.
func (d *Downloader) download(ctx context.Context, link discovery.Link, cursor *Cursor) (Outcome, models.DownloadedFile, error) {
	name := filestore.NameFor(link.PublishedAt)
	file := models.DownloadedFile{Name: name, Path: d.store.Path(name), PublishedAt: link.PublishedAt}

	exists, err := d.store.Exists(name)
	if err != nil {
		return Failed, file, fmt.Errorf("check %s: %w", name, err)
	}
	if exists {
		return Skipped, file, nil
	}
	if cursor != nil && !cursor.Reserve() {
		return Withheld, file, nil
	}

	outcome, saved, err := d.fetch(ctx, link, name)
	if outcome != Downloaded && cursor != nil {
		cursor.Release()
	}
	if outcome == Failed {
		return Failed, file, err
	}
	return outcome, saved, nil
}

func (d *Downloader) fetch(ctx context.Context, link discovery.Link, name string) (Outcome, models.DownloadedFile, error) {
	res := d.getter.Fetch(ctx, link.URL)
	if res.Failed() {
		return Failed, models.DownloadedFile{}, res.Err
	}
	if res.Response.StatusCode != http.StatusOK {
		return Failed, models.DownloadedFile{}, fmt.Errorf("download %s: unexpected status %d", link.URL, res.Response.StatusCode)
	}

	saved, err := d.store.Save(name, link.PublishedAt, res.Response.Body)
	if errors.Is(err, filestore.ErrExists) {
		return Skipped, saved, nil
	}
	if err != nil {
		return Failed, models.DownloadedFile{}, err
	}
	return Downloaded, saved, nil
}

// run executes one download task and records its outcome on the cursor.
func (d *Downloader) run(ctx context.Context, cursor *Cursor, link discovery.Link) (Outcome, models.DownloadedFile) {
	log := logger.Component("downloader")
	outcome, file, err := d.download(ctx, link, cursor)
	metrics.ObserveDownload(outcome.String())

	switch outcome {
	case Downloaded:
		n := cursor.RecordDownload()
		log.Info().Str("file", file.Name).Str("url", link.URL).Int64("downloaded", n).Msg("file saved")
	case Skipped:
		cursor.RecordSkip()
		log.Debug().Str("file", file.Name).Msg("file already exists")
	case Withheld:
		cursor.RecordWithheld()
		log.Debug().Str("url", link.URL).Int("page", cursor.Page()).Msg("download quota reached, not fetching")
	default:
		cursor.RecordFailure()
		log.Error().Str("url", link.URL).Int("page", cursor.Page()).Err(err).Msg("download failed")
	}
	return outcome, file
}
