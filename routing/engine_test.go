package routing

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"s3reproxy/apigw"
	"s3reproxy/auth"
)

// MockAuthenticator для тестирования
type MockAuthenticator struct {
	shouldFail bool
	failError  error
}

func (m *MockAuthenticator) Authenticate(req *apigw.S3Request) (*auth.UserIdentity, error) {
	if m.shouldFail {
		return nil, m.failError
	}
	return &auth.UserIdentity{AccessKey: "test-access-key"}, nil
}

// MockReplicationExecutor фиксирует последнюю вызванную операцию
type MockReplicationExecutor struct {
	lastCall string
}

func (m *MockReplicationExecutor) respond(name string) *apigw.S3Response {
	m.lastCall = name
	return &apigw.S3Response{StatusCode: http.StatusOK, Headers: make(http.Header)}
}

func (m *MockReplicationExecutor) PutObject(req *apigw.S3Request) *apigw.S3Response {
	return m.respond("PutObject")
}

func (m *MockReplicationExecutor) DeleteObject(req *apigw.S3Request) *apigw.S3Response {
	return m.respond("DeleteObject")
}

func (m *MockReplicationExecutor) DeleteObjects(req *apigw.S3Request) *apigw.S3Response {
	return m.respond("DeleteObjects")
}

func (m *MockReplicationExecutor) CreateMultipartUpload(req *apigw.S3Request) *apigw.S3Response {
	return m.respond("CreateMultipartUpload")
}

func (m *MockReplicationExecutor) UploadPart(req *apigw.S3Request) *apigw.S3Response {
	return m.respond("UploadPart")
}

func (m *MockReplicationExecutor) CompleteMultipartUpload(req *apigw.S3Request) *apigw.S3Response {
	return m.respond("CompleteMultipartUpload")
}

func (m *MockReplicationExecutor) AbortMultipartUpload(req *apigw.S3Request) *apigw.S3Response {
	return m.respond("AbortMultipartUpload")
}

// MockFetchingExecutor фиксирует последнюю вызванную операцию
type MockFetchingExecutor struct {
	lastCall string
}

func (m *MockFetchingExecutor) respond(name string) *apigw.S3Response {
	m.lastCall = name
	return &apigw.S3Response{StatusCode: http.StatusOK, Headers: make(http.Header)}
}

func (m *MockFetchingExecutor) GetObject(req *apigw.S3Request) *apigw.S3Response {
	return m.respond("GetObject")
}

func (m *MockFetchingExecutor) HeadObject(req *apigw.S3Request) *apigw.S3Response {
	return m.respond("HeadObject")
}

func (m *MockFetchingExecutor) HeadBucket(req *apigw.S3Request) *apigw.S3Response {
	return m.respond("HeadBucket")
}

func (m *MockFetchingExecutor) GetBucketLocation(req *apigw.S3Request) *apigw.S3Response {
	return m.respond("GetBucketLocation")
}

func (m *MockFetchingExecutor) ListObjectsV2(req *apigw.S3Request) *apigw.S3Response {
	return m.respond("ListObjectsV2")
}

func (m *MockFetchingExecutor) ListBuckets(req *apigw.S3Request) *apigw.S3Response {
	return m.respond("ListBuckets")
}

func newTestRequest(op apigw.S3Operation, bucket, key string) *apigw.S3Request {
	return &apigw.S3Request{
		Operation: op,
		Bucket:    bucket,
		Key:       key,
		Context:   context.Background(),
		Headers:   make(http.Header),
		Query:     make(url.Values),
	}
}

func newTestEngine(authenticator auth.Authenticator) (*Engine, *MockReplicationExecutor, *MockFetchingExecutor) {
	replicator := &MockReplicationExecutor{}
	fetcher := &MockFetchingExecutor{}
	engine := NewEngine(authenticator, replicator, fetcher, "test-bucket")
	return engine, replicator, fetcher
}

func TestEngine_Handle_AuthenticationErrors(t *testing.T) {
	tests := []struct {
		name           string
		authError      error
		expectedStatus int
		expectedCode   string
	}{
		{"Missing header", auth.ErrMissingAuthHeader, http.StatusBadRequest, "MissingSecurityHeader"},
		{"Unknown access key", auth.ErrInvalidAccessKeyID, http.StatusForbidden, "InvalidAccessKeyId"},
		{"Bad signature", auth.ErrSignatureMismatch, http.StatusForbidden, "SignatureDoesNotMatch"},
		{"Expired request", auth.ErrRequestExpired, http.StatusForbidden, "RequestTimeTooSkewed"},
		{"Malformed header", auth.ErrInvalidAuthHeader, http.StatusForbidden, "AccessDenied"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, _, _ := newTestEngine(&MockAuthenticator{shouldFail: true, failError: tt.authError})

			resp := engine.Handle(newTestRequest(apigw.GetObject, "test-bucket", "key"))

			if resp.StatusCode != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, resp.StatusCode)
			}

			s3err, ok := resp.Error.(*apigw.S3Error)
			if !ok {
				t.Fatalf("Expected *apigw.S3Error, got %T", resp.Error)
			}
			if s3err.Code != tt.expectedCode {
				t.Errorf("Expected error code %s, got %s", tt.expectedCode, s3err.Code)
			}
		})
	}
}

func TestEngine_Handle_UnknownBucket(t *testing.T) {
	engine, replicator, fetcher := newTestEngine(&MockAuthenticator{})

	resp := engine.Handle(newTestRequest(apigw.GetObject, "other-bucket", "key"))

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.StatusCode)
	}

	s3err, ok := resp.Error.(*apigw.S3Error)
	if !ok {
		t.Fatalf("Expected *apigw.S3Error, got %T", resp.Error)
	}
	if s3err.Code != "NoSuchBucket" {
		t.Errorf("Expected NoSuchBucket, got %s", s3err.Code)
	}
	if s3err.Resource != "/other-bucket" {
		t.Errorf("Expected resource /other-bucket, got %s", s3err.Resource)
	}

	// Бэкенды не должны быть затронуты
	if replicator.lastCall != "" || fetcher.lastCall != "" {
		t.Error("Executors should not be called for unknown bucket")
	}
}

func TestEngine_Handle_ListBucketsWithoutBucket(t *testing.T) {
	// ListBuckets приходит без имени бакета и проходит валидацию
	engine, _, fetcher := newTestEngine(&MockAuthenticator{})

	resp := engine.Handle(newTestRequest(apigw.ListBuckets, "", ""))

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if fetcher.lastCall != "ListBuckets" {
		t.Errorf("Expected ListBuckets to be called, got %q", fetcher.lastCall)
	}
}

func TestEngine_Handle_WriteOperationsRouting(t *testing.T) {
	tests := []struct {
		op       apigw.S3Operation
		expected string
	}{
		{apigw.PutObject, "PutObject"},
		{apigw.DeleteObject, "DeleteObject"},
		{apigw.DeleteObjects, "DeleteObjects"},
		{apigw.CreateMultipartUpload, "CreateMultipartUpload"},
		{apigw.UploadPart, "UploadPart"},
		{apigw.CompleteMultipartUpload, "CompleteMultipartUpload"},
		{apigw.AbortMultipartUpload, "AbortMultipartUpload"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			engine, replicator, fetcher := newTestEngine(&MockAuthenticator{})

			engine.Handle(newTestRequest(tt.op, "test-bucket", "key"))

			if replicator.lastCall != tt.expected {
				t.Errorf("Expected replicator call %s, got %q", tt.expected, replicator.lastCall)
			}
			if fetcher.lastCall != "" {
				t.Errorf("Fetcher should not be called for %s", tt.expected)
			}
		})
	}
}

func TestEngine_Handle_ReadOperationsRouting(t *testing.T) {
	tests := []struct {
		op       apigw.S3Operation
		expected string
	}{
		{apigw.GetObject, "GetObject"},
		{apigw.HeadObject, "HeadObject"},
		{apigw.HeadBucket, "HeadBucket"},
		{apigw.GetBucketLocation, "GetBucketLocation"},
		{apigw.ListObjectsV2, "ListObjectsV2"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			engine, replicator, fetcher := newTestEngine(&MockAuthenticator{})

			engine.Handle(newTestRequest(tt.op, "test-bucket", "key"))

			if fetcher.lastCall != tt.expected {
				t.Errorf("Expected fetcher call %s, got %q", tt.expected, fetcher.lastCall)
			}
			if replicator.lastCall != "" {
				t.Errorf("Replicator should not be called for %s", tt.expected)
			}
		})
	}
}

func TestEngine_Handle_UnsupportedOperation(t *testing.T) {
	engine, _, _ := newTestEngine(&MockAuthenticator{})

	resp := engine.Handle(newTestRequest(apigw.UnsupportedOperation, "test-bucket", ""))

	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("Expected status 501, got %d", resp.StatusCode)
	}

	s3err, ok := resp.Error.(*apigw.S3Error)
	if !ok {
		t.Fatalf("Expected *apigw.S3Error, got %T", resp.Error)
	}
	if s3err.Code != "NotImplemented" {
		t.Errorf("Expected NotImplemented, got %s", s3err.Code)
	}
}
