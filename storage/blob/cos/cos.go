//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package cos provides a Tencent Cloud Object Storage BlobStore, for
// callers that want memoized results routed off the metadata store
// entirely into bucket storage.
package cos

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	tcos "github.com/tencentyun/cos-go-sdk-v5"

	"trpc.group/trpc-go/trpc-memo-go/storage"
)

const defaultTimeout = 60 * time.Second

// client is the subset of the COS SDK the blob store needs; narrowed to
// an interface so tests can substitute a fake.
type client interface {
	PutObject(ctx context.Context, name string, content io.Reader, contentType string) error
	GetObject(ctx context.Context, name string) (body io.ReadCloser, err error)
	DeleteObject(ctx context.Context, name string) error
}

type sdkClient struct {
	*tcos.Client
}

func (c *sdkClient) PutObject(ctx context.Context, name string, content io.Reader, contentType string) error {
	opt := &tcos.ObjectPutOptions{
		ObjectPutHeaderOptions: &tcos.ObjectPutHeaderOptions{ContentType: contentType},
	}
	_, err := c.Client.Object.Put(ctx, name, content, opt)
	return err
}

func (c *sdkClient) GetObject(ctx context.Context, name string) (io.ReadCloser, error) {
	resp, err := c.Client.Object.Get(ctx, name, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *sdkClient) DeleteObject(ctx context.Context, name string) error {
	_, err := c.Client.Object.Delete(ctx, name)
	return err
}

// Option configures a Store.
type Option func(*options)

type options struct {
	client     client
	httpClient *http.Client
	timeout    time.Duration
	secretID   string
	secretKey  string
	prefix     string
}

// WithClient injects a pre-built COS SDK client, bypassing credential
// resolution entirely.
func WithClient(c *tcos.Client) Option {
	return func(o *options) { o.client = &sdkClient{Client: c} }
}

// WithHTTPClient overrides the HTTP client used for COS requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithTimeout overrides the default request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithSecretID overrides the COS_SECRETID environment variable.
func WithSecretID(id string) Option {
	return func(o *options) { o.secretID = id }
}

// WithSecretKey overrides the COS_SECRETKEY environment variable.
func WithSecretKey(key string) Option {
	return func(o *options) { o.secretKey = key }
}

// WithKeyPrefix namespaces every object name under prefix, so one bucket
// can serve multiple MemoCore instances without key collisions.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// Store is a BlobStore backed by Tencent Cloud Object Storage. Locations
// it returns are object keys under the configured prefix, opaque to
// callers.
type Store struct {
	client client
	prefix string
}

// New builds a Store for the bucket at bucketURL.
func New(bucketURL string, opts ...Option) (*Store, error) {
	o := &options{
		timeout:   defaultTimeout,
		secretID:  os.Getenv("COS_SECRETID"),
		secretKey: os.Getenv("COS_SECRETKEY"),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.client != nil {
		return &Store{client: o.client, prefix: o.prefix}, nil
	}

	u, err := parseBucketURL(bucketURL)
	if err != nil {
		return nil, fmt.Errorf("blob/cos: %w", err)
	}
	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: o.timeout,
			Transport: &tcos.AuthorizationTransport{
				SecretID:  o.secretID,
				SecretKey: o.secretKey,
			},
		}
	} else if o.timeout > 0 {
		httpClient.Timeout = o.timeout
	}

	return &Store{
		client: &sdkClient{Client: tcos.NewClient(&tcos.BaseURL{BucketURL: u}, httpClient)},
		prefix: o.prefix,
	}, nil
}

// Put uploads data under a key derived from the store's prefix and
// returns the resulting object name as the claim-check location.
func (s *Store) Put(ctx context.Context, key string, data []byte) (string, error) {
	name := s.objectName(key)
	if err := s.client.PutObject(ctx, name, byteReader(data), "application/octet-stream"); err != nil {
		return "", fmt.Errorf("blob/cos: put %s: %w", name, err)
	}
	return name, nil
}

// Get downloads the object at location.
func (s *Store) Get(ctx context.Context, location string) ([]byte, error) {
	body, err := s.client.GetObject(ctx, location)
	if err != nil {
		if tcos.IsNotFoundError(err) {
			return nil, fmt.Errorf("blob/cos: %s: %w", location, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("blob/cos: get %s: %w", location, err)
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("blob/cos: read %s: %w", location, err)
	}
	return data, nil
}

// Delete removes the object at location; missing objects are not an
// error.
func (s *Store) Delete(ctx context.Context, location string) error {
	if err := s.client.DeleteObject(ctx, location); err != nil && !tcos.IsNotFoundError(err) {
		return fmt.Errorf("blob/cos: delete %s: %w", location, err)
	}
	return nil
}

func (s *Store) objectName(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func parseBucketURL(bucketURL string) (*url.URL, error) {
	u, err := url.Parse(bucketURL)
	if err != nil {
		return nil, fmt.Errorf("parse bucket url %q: %w", bucketURL, err)
	}
	return u, nil
}

func byteReader(data []byte) io.Reader {
	return bytes.NewReader(data)
}
