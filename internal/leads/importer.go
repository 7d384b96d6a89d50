// Package leads resolves a campaign's lead source into an ordered list of
// profile identifiers. Sources: an inline list, a local file, an http(s) URL,
// or an s3:// object. Files are parsed as single-column CSV (or plain lines);
// identifier order in the file is the assignment order.
package leads

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"social-outreach/internal/config"
)

type objectFetcher interface {
	Fetch(ctx context.Context, bucket, key string) ([]byte, error)
}

// Importer loads lead files from local, HTTP, or S3 sources.
type Importer struct {
	httpClient *http.Client
	s3         objectFetcher
	maxBytes   int64
}

// NewImporter constructs the importer. The S3 client is built lazily-free:
// it is only exercised when a source uses the s3:// scheme.
func NewImporter(ctx context.Context, cfg config.Config) (*Importer, error) {
	timeout := cfg.LeadFetchTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxBytes := cfg.LeadMaxBytes
	if maxBytes == 0 {
		maxBytes = 16 * 1024 * 1024
	}

	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &Importer{
		httpClient: &http.Client{Timeout: timeout},
		s3:         &s3Fetcher{client: client, maxBytes: maxBytes},
		maxBytes:   maxBytes,
	}, nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.LeadS3Region),
	}
	if cfg.LeadS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.LeadS3Endpoint,
					HostnameImmutable: cfg.LeadS3PathStyle,
					SigningRegion:     cfg.LeadS3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.LeadS3PathStyle
	}), nil
}

// Resolve fetches and parses the lead source.
func (im *Importer) Resolve(ctx context.Context, source string) ([]string, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, errors.New("lead source is empty")
	}

	var data []byte
	var err error
	switch {
	case strings.HasPrefix(source, "s3://"):
		bucket, key, perr := splitS3URI(source)
		if perr != nil {
			return nil, perr
		}
		data, err = im.s3.Fetch(ctx, bucket, key)
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		data, err = im.download(ctx, source)
	default:
		data, err = im.readFile(source)
	}
	if err != nil {
		return nil, err
	}

	return Parse(data)
}

func (im *Importer) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := im.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download leads: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("download leads: status %d", resp.StatusCode)
	}

	limited := io.LimitReader(resp.Body, im.maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read leads: %w", err)
	}
	if int64(len(body)) > im.maxBytes {
		return nil, fmt.Errorf("lead file too large (>%d bytes)", im.maxBytes)
	}
	return body, nil
}

func (im *Importer) readFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat lead file: %w", err)
	}
	if info.Size() > im.maxBytes {
		return nil, fmt.Errorf("lead file too large (>%d bytes)", im.maxBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lead file: %w", err)
	}
	return data, nil
}

func splitS3URI(uri string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(uri, "s3://")
	i := strings.IndexByte(rest, '/')
	if i <= 0 || i == len(rest)-1 {
		return "", "", fmt.Errorf("invalid s3 uri %q", uri)
	}
	return rest[:i], rest[i+1:], nil
}

// headerNames are first-row values treated as a column header, not a lead.
var headerNames = map[string]bool{
	"profile_url": true, "profile": true, "url": true,
	"lead": true, "id": true, "handle": true, "login": true,
}

// Parse extracts the first column of each row, preserving order. A recognized
// header row is skipped; blank rows are dropped.
func Parse(data []byte) ([]string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var out []string
	first := true
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse lead file: %w", err)
		}
		if len(record) == 0 {
			continue
		}
		value := strings.TrimSpace(record[0])
		if value == "" {
			continue
		}
		if first {
			first = false
			if headerNames[strings.ToLower(value)] {
				continue
			}
		}
		out = append(out, value)
	}

	if len(out) == 0 {
		return nil, errors.New("lead file contains no identifiers")
	}
	return out, nil
}

type s3Fetcher struct {
	client   *s3.Client
	maxBytes int64
}

func (f *s3Fetcher) Fetch(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	limited := io.LimitReader(out.Body, f.maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("lead file too large (>%d bytes)", f.maxBytes)
	}
	return body, nil
}
