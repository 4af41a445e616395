package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// MaxAttachmentBytes caps photo downloads. Telegram bots cannot fetch files
// larger than this anyway.
const MaxAttachmentBytes = 20 << 20

type FileResolver interface {
	GetFileDirectURL(fileID string) (string, error)
}

// Fetcher downloads telegram files by file id.
type Fetcher struct {
	resolver FileResolver
	client   *resty.Client
}

func NewFetcher(resolver FileResolver, timeout time.Duration, log zerolog.Logger) *Fetcher {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetLogger(restyLogger{log: log})
	return &Fetcher{resolver: resolver, client: client}
}

func (f *Fetcher) FetchBytes(ctx context.Context, fileID string) ([]byte, error) {
	fileURL, err := f.resolver.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file %s: %w", fileID, err)
	}
	resp, err := f.client.R().SetContext(ctx).Get(fileURL)
	if err != nil {
		// url.Error carries the token-bearing URL
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("download file %s: %w", fileID, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("download file %s: status %d", fileID, resp.StatusCode())
	}
	body := resp.Body()
	if len(body) > MaxAttachmentBytes {
		return nil, fmt.Errorf("download file %s: %d bytes exceeds limit", fileID, len(body))
	}
	return body, nil
}

var tokenInPath = regexp.MustCompile(`/bot[^/]+/`)

func redactToken(s string) string {
	return tokenInPath.ReplaceAllString(s, "/bot<redacted>/")
}

type restyLogger struct {
	log zerolog.Logger
}

func (l restyLogger) Errorf(format string, v ...interface{}) {
	l.log.Error().Msg(redactToken(fmt.Sprintf(format, v...)))
}

func (l restyLogger) Warnf(format string, v ...interface{}) {
	l.log.Warn().Msg(redactToken(fmt.Sprintf(format, v...)))
}

func (l restyLogger) Debugf(format string, v ...interface{}) {
	l.log.Debug().Msg(redactToken(fmt.Sprintf(format, v...)))
}
