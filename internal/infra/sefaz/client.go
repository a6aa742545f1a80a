// Package sefaz is the SOAP 1.2 client for the NFe 4.00 web services,
// authenticated with the merchant's A1 certificate over mutual TLS.
package sefaz

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/boddenberg/livefy-nfe-go/internal/domain"
	"github.com/boddenberg/livefy-nfe-go/internal/infra/cache"
	"github.com/boddenberg/livefy-nfe-go/internal/infra/observability"
	"github.com/boddenberg/livefy-nfe-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("sefaz")

const maxResponseSize = 10 << 20

// Options tunes the transport.
type Options struct {
	Timeout            time.Duration
	InsecureSkipVerify bool
	RootCAs            *x509.CertPool
	// Retry applies to read-only queries. Submissions are never retried.
	Retry     resilience.Config
	ClientTTL time.Duration
}

// Client implements port.Authority.
type Client struct {
	endpoints *Endpoints
	cb        *gobreaker.CircuitBreaker
	bulkhead  *resilience.Bulkhead
	opts      Options
	clients   *cache.InMemory[*http.Client]
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewClient creates a SEFAZ client. HTTP clients are built per certificate
// and kept for opts.ClientTTL.
func NewClient(endpoints *Endpoints, cb *gobreaker.CircuitBreaker, bulkhead *resilience.Bulkhead, metrics *observability.Metrics, logger *zap.Logger, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.ClientTTL <= 0 {
		opts.ClientTTL = 30 * time.Minute
	}
	return &Client{
		endpoints: endpoints,
		cb:        cb,
		bulkhead:  bulkhead,
		opts:      opts,
		clients:   cache.New[*http.Client](opts.ClientTTL),
		metrics:   metrics,
		logger:    logger,
	}
}

// Close stops the HTTP client cache.
func (c *Client) Close() {
	c.clients.Close()
}

// ============================================================
// port.Authority
// ============================================================

// SubmitBatch sends one signed NFe in a synchronous enviNFe.
func (c *Client) SubmitBatch(ctx context.Context, cred *domain.Credential, target domain.AuthorityTarget, batchID string, signedNFe []byte) (*domain.BatchResponse, error) {
	msg, err := c.call(ctx, cred, target, ServiceAuthorization, batchMessage(batchID, signedNFe), false)
	if err != nil {
		return nil, err
	}
	resp, err := parseBatch(msg)
	if err != nil {
		return nil, c.malformed(ServiceAuthorization, err)
	}
	c.observeStatus(ServiceAuthorization, resp.Status, resp.Protocol)
	return resp, nil
}

// QueryReceipt asks for the result of an asynchronously processed batch.
func (c *Client) QueryReceipt(ctx context.Context, cred *domain.Credential, target domain.AuthorityTarget, receipt string) (*domain.BatchResponse, error) {
	payload, err := receiptMessage(environment(target), receipt)
	if err != nil {
		return nil, err
	}
	msg, err := c.call(ctx, cred, target, ServiceRetAuthorization, payload, true)
	if err != nil {
		return nil, err
	}
	resp, err := parseReceipt(msg)
	if err != nil {
		return nil, c.malformed(ServiceRetAuthorization, err)
	}
	c.observeStatus(ServiceRetAuthorization, resp.Status, resp.Protocol)
	return resp, nil
}

// QueryProtocol returns the current state of a document by access key.
func (c *Client) QueryProtocol(ctx context.Context, cred *domain.Credential, target domain.AuthorityTarget, accessKey string) (*domain.ProtocolQueryResponse, error) {
	payload, err := protocolMessage(environment(target), accessKey)
	if err != nil {
		return nil, err
	}
	msg, err := c.call(ctx, cred, target, ServiceProtocol, payload, true)
	if err != nil {
		return nil, err
	}
	resp, err := parseProtocolQuery(msg)
	if err != nil {
		return nil, c.malformed(ServiceProtocol, err)
	}
	c.observeStatus(ServiceProtocol, resp.Status, resp.Protocol)
	return resp, nil
}

// SendEvent sends one signed evento in an envEvento.
func (c *Client) SendEvent(ctx context.Context, cred *domain.Credential, target domain.AuthorityTarget, batchID string, signedEvent []byte) (*domain.EventResponse, error) {
	msg, err := c.call(ctx, cred, target, ServiceEvent, eventMessage(batchID, signedEvent), false)
	if err != nil {
		return nil, err
	}
	resp, err := parseEvent(msg)
	if err != nil {
		return nil, c.malformed(ServiceEvent, err)
	}
	c.metrics.IncrAuthorityStatus(resp.Status.Code)
	for _, ev := range resp.Events {
		c.metrics.IncrAuthorityStatus(ev.Status.Code)
	}
	return resp, nil
}

// VoidRange sends a signed inutNFe.
func (c *Client) VoidRange(ctx context.Context, cred *domain.Credential, target domain.AuthorityTarget, signedVoid []byte) (*domain.VoidResponse, error) {
	msg, err := c.call(ctx, cred, target, ServiceVoid, signedVoid, false)
	if err != nil {
		return nil, err
	}
	resp, err := parseVoid(msg)
	if err != nil {
		return nil, c.malformed(ServiceVoid, err)
	}
	c.metrics.IncrAuthorityStatus(resp.Status.Code)
	return resp, nil
}

// LookupRegistry queries the state taxpayer registry. The request is not
// signed but still goes over mutual TLS.
func (c *Client) LookupRegistry(ctx context.Context, cred *domain.Credential, target domain.AuthorityTarget, document string) (*domain.RegistryResult, error) {
	payload, err := registryMessage(target.State, document)
	if err != nil {
		return nil, err
	}
	msg, err := c.call(ctx, cred, target, ServiceRegistry, payload, true)
	if err != nil {
		return nil, err
	}
	resp, err := parseRegistry(msg)
	if err != nil {
		return nil, c.malformed(ServiceRegistry, err)
	}
	c.metrics.IncrAuthorityStatus(resp.Status.Code)
	return resp, nil
}

// ============================================================
// Transport
// ============================================================

func (c *Client) call(ctx context.Context, cred *domain.Credential, target domain.AuthorityTarget, svc Service, payload []byte, retry bool) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "sefaz."+svc.Operation())
	defer span.End()
	span.SetAttributes(
		attribute.String("sefaz.service", string(svc)),
		attribute.String("sefaz.state", target.State),
		attribute.String("sefaz.environment", environment(target).Key()),
	)

	url, err := c.endpoints.URL(target, svc)
	if err != nil {
		return nil, &domain.ErrAuthorityTransport{Operation: string(svc), Err: err}
	}
	httpClient, err := c.httpClient(cred)
	if err != nil {
		return nil, err
	}
	body := envelope(svc, payload)

	c.logger.Debug("sefaz request",
		zap.String("service", string(svc)),
		zap.String("url", url),
		zap.Int("bytes", len(body)),
	)

	start := time.Now()
	msg, err := resilience.Execute(c.cb, func() ([]byte, error) {
		var out []byte
		send := func() error {
			return c.bulkhead.Do(ctx, func() error {
				var sendErr error
				out, sendErr = c.post(ctx, httpClient, url, svc, body)
				return sendErr
			})
		}
		if !retry {
			err := send()
			return out, err
		}
		err := resilience.RetryWithBackoff(ctx, c.opts.Retry, func() error {
			err := send()
			if isFault(err) {
				return resilience.Permanent(err)
			}
			return err
		})
		return out, err
	})
	elapsed := time.Since(start)

	if err != nil {
		c.metrics.ObserveAuthorityCall(string(svc), "error", elapsed)
		c.metrics.IncrExternalError("sefaz")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error("sefaz call failed",
			zap.String("service", string(svc)),
			zap.String("url", url),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		var open *domain.ErrCircuitOpen
		if errors.As(err, &open) {
			return nil, err
		}
		return nil, &domain.ErrAuthorityTransport{Operation: string(svc), Err: err}
	}

	c.metrics.ObserveAuthorityCall(string(svc), "ok", elapsed)
	c.logger.Debug("sefaz response",
		zap.String("service", string(svc)),
		zap.Duration("elapsed", elapsed),
		zap.ByteString("body", msg),
	)
	return msg, nil
}

// faultError is a SOAP fault or non-2xx answer from the web service.
type faultError struct {
	status int
	err    error
}

func (f *faultError) Error() string {
	return fmt.Sprintf("HTTP %d: %v", f.status, f.err)
}

func (f *faultError) Unwrap() error { return f.err }

func isFault(err error) bool {
	var f *faultError
	return errors.As(err, &f)
}

func (c *Client) post(ctx context.Context, httpClient *http.Client, url string, svc Service, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType(svc))

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	msg, err := unwrap(raw)
	if resp.StatusCode >= 300 {
		if err == nil {
			err = fmt.Errorf("unexpected status")
		}
		return nil, &faultError{status: resp.StatusCode, err: err}
	}
	if err != nil {
		return nil, &faultError{status: resp.StatusCode, err: err}
	}
	return msg, nil
}

// httpClient returns the mutual TLS client for a certificate.
func (c *Client) httpClient(cred *domain.Credential) (*http.Client, error) {
	if cred == nil || cred.Certificate == nil {
		return nil, &domain.ErrCredential{Reason: domain.CredentialInvalid, Message: "Certificado digital não carregado"}
	}
	sum := sha256.Sum256(cred.Certificate.Raw)
	key := hex.EncodeToString(sum[:])

	hc, _, err := c.clients.GetOrLoad(key, func() (*http.Client, error) {
		tlsCfg := &tls.Config{
			Certificates:       []tls.Certificate{cred.TLSCertificate()},
			MinVersion:         tls.VersionTLS12,
			RootCAs:            c.opts.RootCAs,
			InsecureSkipVerify: c.opts.InsecureSkipVerify, //nolint:gosec // homologation labs only
			Renegotiation:      tls.RenegotiateOnceAsClient,
		}
		return &http.Client{
			Timeout: c.opts.Timeout,
			Transport: &http.Transport{
				TLSClientConfig:     tlsCfg,
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}, nil
	})
	return hc, err
}

func (c *Client) malformed(svc Service, err error) error {
	c.metrics.IncrExternalError("sefaz")
	c.logger.Error("unparseable sefaz answer", zap.String("service", string(svc)), zap.Error(err))
	return &domain.ErrAuthorityTransport{Operation: string(svc), Err: err}
}

func (c *Client) observeStatus(svc Service, status domain.AuthorityStatus, p *domain.Protocol) {
	c.metrics.IncrAuthorityStatus(status.Code)
	fields := []zap.Field{
		zap.String("service", string(svc)),
		zap.Int("cstat", status.Code),
		zap.String("xmotivo", status.Message),
	}
	if p != nil {
		c.metrics.IncrAuthorityStatus(p.Status.Code)
		fields = append(fields, zap.Int("prot_cstat", p.Status.Code), zap.String("chave", p.AccessKey))
	}
	c.logger.Info("sefaz status", fields...)
}

func environment(target domain.AuthorityTarget) domain.Environment {
	if target.Environment == 0 {
		return domain.EnvironmentHomologation
	}
	return target.Environment
}
