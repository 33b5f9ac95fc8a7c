// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package kvs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ManuGH/kvsedge/internal/log"
	"github.com/ManuGH/kvsedge/internal/uploader"
)

const (
	// ConnectTimeout bounds dialing the data endpoint.
	ConnectTimeout = 10 * time.Second

	signingService  = "kinesisvideo"
	unsignedPayload = "UNSIGNED-PAYLOAD"

	headerStreamName    = "x-amzn-stream-name"
	headerTimecodeType  = "x-amzn-fragment-timecode-type"
	headerProducerStart = "x-amzn-producer-start-timestamp"
	headerContentSHA    = "X-Amz-Content-Sha256"

	maxErrorBody = 4 << 10
)

// ackWire is one JSON event of the PutMedia response stream.
type ackWire struct {
	EventType        string `json:"EventType"`
	FragmentTimecode int64  `json:"FragmentTimecode"`
	FragmentNumber   string `json:"FragmentNumber"`
	ErrorID          int    `json:"ErrorId"`
}

func (a ackWire) event() uploader.AckEvent {
	return uploader.AckEvent{
		Type:             uploader.AckEventType(a.EventType),
		FragmentNumber:   a.FragmentNumber,
		FragmentTimecode: time.Duration(a.FragmentTimecode) * time.Millisecond,
		ErrorID:          a.ErrorID,
	}
}

// DataClient streams media to one data endpoint. Each PutMedia call runs its
// request on a single I/O goroutine.
type DataClient struct {
	endpoint    string
	region      string
	credentials aws.CredentialsProvider
	signer      *v4.Signer
	http        *http.Client
	logger      zerolog.Logger
	now         func() time.Time
}

// DataClientOption customises a DataClient.
type DataClientOption func(*DataClient)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) DataClientOption {
	return func(d *DataClient) { d.http = c }
}

// NewDataClient returns a client for endpoint signed with cfg's credentials.
func NewDataClient(endpoint string, cfg aws.Config, opts ...DataClientOption) (*DataClient, error) {
	if endpoint == "" {
		return nil, errors.New("kvs: endpoint is required")
	}
	if cfg.Credentials == nil {
		return nil, errors.New("kvs: credentials are required")
	}
	d := &DataClient{
		endpoint:    strings.TrimRight(endpoint, "/"),
		region:      cfg.Region,
		credentials: cfg.Credentials,
		signer:      v4.NewSigner(),
		http:        newHTTPClient(),
		logger:      log.WithComponent("kvs").With().Str(log.FieldEndpoint, endpoint).Logger(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// DataClientFactory adapts NewDataClient to the uploader.
func DataClientFactory(cfg aws.Config) uploader.DataClientFactory {
	return func(endpoint string) (uploader.DataClient, error) {
		return NewDataClient(endpoint, cfg)
	}
}

// newHTTPClient traces each request as a child of the upload session span.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: otelhttp.NewTransport(&http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   ConnectTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: ConnectTimeout,
			MaxIdleConnsPerHost: 1,
			IdleConnTimeout:     90 * time.Second,
		}, otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "kvs " + r.Method + " " + r.URL.Path
		})),
	}
}

// FormatProducerStart renders t as decimal epoch seconds with millisecond
// precision.
func FormatProducerStart(t time.Time) string {
	ms := t.UnixMilli()
	sec, frac := ms/1000, ms%1000
	if frac < 0 {
		sec--
		frac += 1000
	}
	return fmt.Sprintf("%d.%03d", sec, frac)
}

// PutMedia signs and sends req. The response is decoded on a new goroutine
// that reports to h until the stream ends or ctx is cancelled.
func (d *DataClient) PutMedia(ctx context.Context, req uploader.PutMediaRequest, h uploader.AckHandler) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint+"/putMedia", req.Payload)
	if err != nil {
		return fmt.Errorf("kvs: build request: %w", err)
	}
	httpReq.ContentLength = -1
	timecodeType := req.TimecodeType
	if timecodeType == "" {
		timecodeType = uploader.TimecodeRelative
	}
	httpReq.Header.Set(headerStreamName, req.StreamName)
	httpReq.Header.Set(headerTimecodeType, timecodeType)
	httpReq.Header.Set(headerProducerStart, FormatProducerStart(req.ProducerStart))
	httpReq.Header.Set(headerContentSHA, unsignedPayload)

	creds, err := d.credentials.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("kvs: retrieve credentials: %w", err)
	}
	if err := d.signer.SignHTTP(ctx, creds, httpReq, unsignedPayload, signingService, d.region, d.now()); err != nil {
		return fmt.Errorf("kvs: sign request: %w", err)
	}

	logger := log.WithContext(ctx, d.logger).With().Str(log.FieldStream, req.StreamName).Logger()
	go d.run(ctx, httpReq, h, logger)
	return nil
}

func (d *DataClient) run(ctx context.Context, req *http.Request, h uploader.AckHandler, logger zerolog.Logger) {
	resp, err := d.http.Do(req)
	if err != nil {
		h.OnFailure(fmt.Errorf("kvs: put media: %w", err))
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		h.OnFailure(&StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))})
		return
	}
	logger.Debug().Str(log.FieldEvent, "kvs.put_media_accepted").Msg("put media response started")

	dec := json.NewDecoder(resp.Body)
	for {
		var ack ackWire
		if err := dec.Decode(&ack); err != nil {
			if errors.Is(err, io.EOF) {
				h.OnComplete()
				return
			}
			if ctx.Err() != nil {
				h.OnFailure(ctx.Err())
				return
			}
			h.OnFailure(fmt.Errorf("kvs: decode ack: %w", err))
			return
		}
		h.OnAck(ack.event())
	}
}

// CloseIdleConnections releases pooled connections.
func (d *DataClient) CloseIdleConnections() {
	d.http.CloseIdleConnections()
}

// StatusError is a non-200 PutMedia response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("kvs: put media: status %d: %s", e.Code, e.Body)
}
