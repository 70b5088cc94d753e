package audio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"voicelink/internal/core/ports"
	apperrors "voicelink/pkg/errors"
)

// Input is an opened audio source backed by a reader.
type Input struct {
	uri         string
	contentType string
	body        io.ReadCloser
}

var _ ports.AudioInput = (*Input)(nil)

func (i *Input) URI() string         { return i.uri }
func (i *Input) ContentType() string { return i.contentType }
func (i *Input) Close() error        { return i.body.Close() }

// Reader exposes the raw stream to the playback pipeline.
func (i *Input) Reader() io.Reader { return i.body }

// HTTPInputFactory opens http(s) and file URIs. Remote sources are
// fetched with a ranged GET so servers that support seeking advertise
// it up front.
type HTTPInputFactory struct {
	client *http.Client
}

var _ ports.AudioInputFactory = (*HTTPInputFactory)(nil)

// NewHTTPInputFactory creates a factory with a dedicated client.
func NewHTTPInputFactory(timeout time.Duration) *HTTPInputFactory {
	return &HTTPInputFactory{
		client: &http.Client{Timeout: timeout},
	}
}

// CreateInput opens the URI. Failures carry a retry classification:
// 5xx and transport faults are temporary, 4xx are permanent.
func (f *HTTPInputFactory) CreateInput(ctx context.Context, uri string) (ports.AudioInput, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, apperrors.NewVoiceError(apperrors.Configuration, "audio input", err)
	}

	switch parsed.Scheme {
	case "http", "https":
		return f.openHTTP(ctx, uri)
	case "file":
		return openFile(parsed.Path)
	default:
		return nil, apperrors.NewVoiceError(apperrors.Configuration, "audio input",
			fmt.Errorf("unsupported scheme %q", parsed.Scheme))
	}
}

func (f *HTTPInputFactory) openHTTP(ctx context.Context, uri string) (ports.AudioInput, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, apperrors.NewVoiceError(apperrors.Configuration, "audio input", err)
	}
	req.Header.Set("Range", "bytes=0-")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, apperrors.NewVoiceError(apperrors.Temporary, "audio input", err)
	}

	if resp.StatusCode >= 500 {
		resp.Body.Close()
		return nil, apperrors.NewVoiceError(apperrors.Temporary, "audio input",
			fmt.Errorf("upstream returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, apperrors.NewVoiceError(apperrors.Permanent, "audio input",
			fmt.Errorf("upstream returned %d", resp.StatusCode))
	}

	return &Input{
		uri:         uri,
		contentType: resp.Header.Get("Content-Type"),
		body:        resp.Body,
	}, nil
}

func openFile(path string) (ports.AudioInput, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NewVoiceError(apperrors.Permanent, "audio input", err)
		}
		return nil, apperrors.NewVoiceError(apperrors.Temporary, "audio input", err)
	}
	return &Input{
		uri:         "file://" + path,
		contentType: "application/octet-stream",
		body:        file,
	}, nil
}
