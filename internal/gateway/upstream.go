// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package gateway

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/archgw/archgw/internal/providers"
)

const bedrockService = "bedrock"

// Upstream sends translated request bodies to providers, applying the
// descriptor's auth convention.
type Upstream struct {
	client *http.Client
	logger *slog.Logger

	awsOnce  sync.Once
	awsCreds aws.CredentialsProvider
	awsErr   error
	signer   *v4.Signer
}

// NewUpstream builds the shared upstream client. A nil client gets a
// pooled default with no overall timeout, since streaming responses are
// open-ended.
func NewUpstream(client *http.Client, logger *slog.Logger) *Upstream {
	if client == nil {
		client = &http.Client{}
	}
	return &Upstream{client: client, logger: logger, signer: v4.NewSigner()}
}

// Do sends the body to the descriptor's endpoint. The caller's original
// headers never propagate: the request is rebuilt from scratch, so a stale
// client content-length cannot leak through.
func (u *Upstream) Do(ctx context.Context, d *providers.Descriptor, body []byte, streaming bool) (*http.Response, error) {
	endpoint := u.endpoint(d, streaming)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request for %s: %w", d.Name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-arch-is-streaming", strconv.FormatBool(streaming))
	req.Header.Set("x-arch-provider-hint", d.Name)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	if err := u.authorize(ctx, d, req, body); err != nil {
		return nil, err
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream call to %s failed: %w", d.Name, err)
	}
	return resp, nil
}

func (u *Upstream) endpoint(d *providers.Descriptor, streaming bool) string {
	base := d.BaseURL
	if d.Auth == providers.AuthAWSSigV4 && d.AWSRegion != "" {
		base = fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com", d.AWSRegion)
	}
	return base + d.RequestPath(streaming)
}

func (u *Upstream) authorize(ctx context.Context, d *providers.Descriptor, req *http.Request, body []byte) error {
	switch d.Auth {
	case providers.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+d.APIKey)
	case providers.AuthAPIKey:
		req.Header.Set("x-api-key", d.APIKey)
		req.Header.Set("anthropic-version", "2023-06-01")
	case providers.AuthAWSSigV4:
		return u.signAWS(ctx, d, req, body)
	case providers.AuthNone:
	default:
		return fmt.Errorf("unknown auth style %q for provider %s", d.Auth, d.Name)
	}
	return nil
}

// signAWS applies SigV4 using the ambient AWS credential chain, resolved once
// per process.
func (u *Upstream) signAWS(ctx context.Context, d *providers.Descriptor, req *http.Request, body []byte) error {
	u.awsOnce.Do(func() {
		cfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			u.awsErr = err
			return
		}
		u.awsCreds = cfg.Credentials
	})
	if u.awsErr != nil {
		return fmt.Errorf("aws credentials unavailable: %w", u.awsErr)
	}
	creds, err := u.awsCreds.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("failed to retrieve aws credentials: %w", err)
	}
	region := d.AWSRegion
	if region == "" {
		region = "us-east-1"
	}
	hash := sha256.Sum256(body)
	if err := u.signer.SignHTTP(ctx, creds, req, hex.EncodeToString(hash[:]), bedrockService, region, time.Now()); err != nil {
		return fmt.Errorf("failed to sign request for %s: %w", d.Name, err)
	}
	return nil
}

// readBody drains a non-streaming upstream response, transparently decoding
// gzip. Unknown content encodings are passed through with a warning so the
// client at least sees the raw bytes.
func (u *Upstream) readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	var reader io.Reader = resp.Body
	switch enc := resp.Header.Get("Content-Encoding"); enc {
	case "", "identity":
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip body: %w", err)
		}
		defer gz.Close()
		reader = gz
	default:
		u.logger.Warn("unsupported upstream content encoding, passing through",
			slog.String("encoding", enc))
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream body: %w", err)
	}
	return body, nil
}
