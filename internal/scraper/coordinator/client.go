package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"ojscraper/internal/scraper/model"
	"ojscraper/internal/scraper/transport"
	appErr "ojscraper/pkg/errors"
)

const (
	DefaultWorkPath   = "/get_work"
	DefaultSubmitPath = "/submit_work"
)

// Doer sends one coordinator request. transport.Client is the production implementation.
type Doer interface {
	Do(ctx context.Context, method, url string, body []byte) (transport.ResponseInfo, error)
}

// Config holds coordinator endpoints.
type Config struct {
	BaseURL    string
	WorkPath   string
	SubmitPath string
}

// Client speaks the coordinator's poll/submit protocol.
type Client struct {
	doer      Doer
	workURL   string
	submitURL string
}

type workResponse struct {
	IDs []int64 `json:"ids"`
}

func New(cfg Config, doer Doer) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, appErr.New(appErr.InvalidConfig).WithMessage("coordinator base url is required")
	}
	if doer == nil {
		return nil, appErr.New(appErr.InvalidConfig).WithMessage("coordinator transport is required")
	}
	workPath := cfg.WorkPath
	if workPath == "" {
		workPath = DefaultWorkPath
	}
	submitPath := cfg.SubmitPath
	if submitPath == "" {
		submitPath = DefaultSubmitPath
	}
	return &Client{
		doer:      doer,
		workURL:   base + workPath,
		submitURL: base + submitPath,
	}, nil
}

// FetchWork asks for the next batch. A body without "ids" is an empty batch;
// a body that is not exactly one JSON object fails with DecodeFailed.
func (c *Client) FetchWork(ctx context.Context) ([]int64, error) {
	info, err := c.doer.Do(ctx, http.MethodGet, c.workURL, nil)
	if err != nil {
		return nil, err
	}
	var resp *workResponse
	if err := decodeStrict(info.Body, &resp); err != nil {
		return nil, appErr.Wrapf(err, appErr.DecodeFailed, "decode work response failed").
			WithDetail("status", info.StatusCode)
	}
	if resp == nil {
		return nil, appErr.New(appErr.DecodeFailed).WithMessage("work response is null").
			WithDetail("status", info.StatusCode)
	}
	return resp.IDs, nil
}

// Submit posts a batch report and returns the decoded acknowledgment.
// A non-JSON acknowledgment is reported as DecodeFailed together with the raw
// body; the report itself has been delivered either way.
func (c *Client) Submit(ctx context.Context, report model.Report) (interface{}, []byte, error) {
	if report.Submissions == nil {
		report.Submissions = []model.Record{}
	}
	if report.NotFound == nil {
		report.NotFound = []int64{}
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return nil, nil, appErr.Wrapf(err, appErr.EncodeFailed, "encode report failed")
	}
	info, err := c.doer.Do(ctx, http.MethodPost, c.submitURL, payload)
	if err != nil {
		return nil, nil, err
	}
	var ack interface{}
	if err := decodeStrict(info.Body, &ack); err != nil {
		return nil, info.Body, appErr.Wrapf(err, appErr.DecodeFailed, "decode submit acknowledgment failed").
			WithDetail("status", info.StatusCode)
	}
	return ack, info.Body, nil
}

// decodeStrict decodes exactly one JSON value; anything after it is an error.
func decodeStrict(body []byte, out interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}
