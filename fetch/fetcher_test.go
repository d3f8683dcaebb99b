package fetch

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/prometheus/client_golang/prometheus"

	"s3reproxy/apigw"
	"s3reproxy/remote"
	"s3reproxy/tokens"
)

// newTestMetrics создает метрики в отдельном registry, чтобы повторные
// вызовы в тестах не конфликтовали в default registry
func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	oldRegisterer := prometheus.DefaultRegisterer
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	t.Cleanup(func() { prometheus.DefaultRegisterer = oldRegisterer })
	return NewMetrics()
}

// stubRemote запускает горутину-заглушку актора
func stubRemote(t *testing.T, name string, priority uint32, readRequest bool, handler func(msg remote.Message)) *remote.Remote {
	t.Helper()

	mailbox := make(chan remote.Message, remote.MailboxSize)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for msg := range mailbox {
			if _, ok := msg.(*remote.ShutdownMessage); ok {
				return
			}
			handler(msg)
		}
	}()

	t.Cleanup(func() {
		mailbox <- &remote.ShutdownMessage{}
		<-done
	})

	return remote.NewRemote(name, priority, readRequest, mailbox)
}

// mockTokenStore - трансляция токенов в памяти
type mockTokenStore struct {
	positions map[string]string
	issued    []string
	nextToken string
	issueErr  error
}

func newMockTokenStore() *mockTokenStore {
	return &mockTokenStore{
		positions: make(map[string]string),
		nextToken: "issued-token-1",
	}
}

func (m *mockTokenStore) Consume(ctx context.Context, token string) (string, error) {
	pos, ok := m.positions[token]
	if !ok {
		return "", tokens.ErrInvalidToken
	}
	delete(m.positions, token)
	return pos, nil
}

func (m *mockTokenStore) Issue(ctx context.Context, startAfter string) (string, error) {
	if m.issueErr != nil {
		return "", m.issueErr
	}
	m.issued = append(m.issued, startAfter)
	return m.nextToken, nil
}

func newTestFetcher(t *testing.T, remotes []*remote.Remote, store TokenStore) *Fetcher {
	t.Helper()
	return &Fetcher{
		remotes:       readOrder(remotes),
		tokens:        store,
		virtualBucket: "test-bucket",
		startedAt:     time.Now().UTC(),
		metrics:       newTestMetrics(t),
	}
}

func newReadRequest(op apigw.S3Operation, key string) *apigw.S3Request {
	return &apigw.S3Request{
		Operation: op,
		Bucket:    "test-bucket",
		Key:       key,
		Headers:   make(http.Header),
		Query:     make(url.Values),
		Context:   context.Background(),
	}
}

func TestReadOrder(t *testing.T) {
	mailbox := make(chan remote.Message)
	remotes := []*remote.Remote{
		remote.NewRemote("low", 1, true, mailbox),
		remote.NewRemote("no-read", 100, false, mailbox),
		remote.NewRemote("high", 10, true, mailbox),
		remote.NewRemote("mid-a", 5, true, mailbox),
		remote.NewRemote("mid-b", 5, true, mailbox),
	}

	ordered := readOrder(remotes)

	expected := []string{"high", "mid-a", "mid-b", "low", "no-read"}
	for i, name := range expected {
		if ordered[i].Name != name {
			t.Errorf("Position %d: expected %s, got %s", i, name, ordered[i].Name)
		}
	}

	// Исходный срез не переставляется
	if remotes[0].Name != "low" {
		t.Error("readOrder must not mutate the input slice")
	}
}

func TestGetObject_FirstRemoteWins(t *testing.T) {
	var probedNames []string

	makeHandler := func(name, body string) func(remote.Message) {
		return func(msg remote.Message) {
			get := msg.(*remote.GetObjectMessage)
			probedNames = append(probedNames, name)
			get.Reply <- &remote.Outcome[*s3.GetObjectOutput]{
				Output: &s3.GetObjectOutput{
					Body:          io.NopCloser(strings.NewReader(body)),
					ContentLength: aws.Int64(int64(len(body))),
					ETag:          aws.String(`"etag"`),
				},
			}
		}
	}

	remotes := []*remote.Remote{
		stubRemote(t, "secondary", 1, true, makeHandler("secondary", "stale")),
		stubRemote(t, "primary", 10, true, makeHandler("primary", "fresh")),
	}
	f := newTestFetcher(t, remotes, newMockTokenStore())

	resp := f.GetObject(newReadRequest(apigw.GetObject, "data/object.bin"))

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d (error: %v)", resp.StatusCode, resp.Error)
	}

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "fresh" {
		t.Errorf("Expected body from the higher priority remote, got %q", body)
	}

	// Опрос последовательный: второй remote не затрагивается
	if len(probedNames) != 1 || probedNames[0] != "primary" {
		t.Errorf("Expected single probe of primary, got %v", probedNames)
	}
}

func TestGetObject_FallsThroughUnavailableRemote(t *testing.T) {
	down := func(msg remote.Message) {
		get := msg.(*remote.GetObjectMessage)
		get.Reply <- nil
	}
	up := func(msg remote.Message) {
		get := msg.(*remote.GetObjectMessage)
		get.Reply <- &remote.Outcome[*s3.GetObjectOutput]{
			Output: &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader("from backup"))},
		}
	}

	remotes := []*remote.Remote{
		stubRemote(t, "primary", 10, true, down),
		stubRemote(t, "backup", 1, true, up),
	}
	f := newTestFetcher(t, remotes, newMockTokenStore())

	resp := f.GetObject(newReadRequest(apigw.GetObject, "key"))

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "from backup" {
		t.Errorf("Expected body from backup, got %q", body)
	}
}

func TestGetObject_ServiceErrorStopsProbing(t *testing.T) {
	var backupProbed bool

	notFound := func(msg remote.Message) {
		get := msg.(*remote.GetObjectMessage)
		get.Reply <- &remote.Outcome[*s3.GetObjectOutput]{
			Err: &smithy.GenericAPIError{Code: "NoSuchKey", Message: "key not found"},
		}
	}
	up := func(msg remote.Message) {
		backupProbed = true
		get := msg.(*remote.GetObjectMessage)
		get.Reply <- &remote.Outcome[*s3.GetObjectOutput]{Output: &s3.GetObjectOutput{}}
	}

	remotes := []*remote.Remote{
		stubRemote(t, "primary", 10, true, notFound),
		stubRemote(t, "backup", 1, true, up),
	}
	f := newTestFetcher(t, remotes, newMockTokenStore())

	resp := f.GetObject(newReadRequest(apigw.GetObject, "missing"))

	// Сервисная ошибка - достоверный ответ, опрос не продолжается
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("Expected status 404, got %d", resp.StatusCode)
	}
	s3err := resp.Error.(*apigw.S3Error)
	if s3err.Code != "NoSuchKey" {
		t.Errorf("Expected NoSuchKey, got %s", s3err.Code)
	}
	if backupProbed {
		t.Error("Backup must not be probed after an authoritative service error")
	}
}

func TestGetObject_AllRemotesExhausted(t *testing.T) {
	down := func(msg remote.Message) {
		get := msg.(*remote.GetObjectMessage)
		get.Reply <- nil
	}

	remotes := []*remote.Remote{
		stubRemote(t, "primary", 10, true, down),
		stubRemote(t, "backup", 1, true, down),
	}
	f := newTestFetcher(t, remotes, newMockTokenStore())

	resp := f.GetObject(newReadRequest(apigw.GetObject, "key"))

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", resp.StatusCode)
	}
}

func TestGetObject_RangeRequest(t *testing.T) {
	handler := func(msg remote.Message) {
		get := msg.(*remote.GetObjectMessage)
		if get.Input.Range == nil || *get.Input.Range != "bytes=0-99" {
			t.Errorf("Expected Range header to be forwarded, got %v", get.Input.Range)
		}
		get.Reply <- &remote.Outcome[*s3.GetObjectOutput]{
			Output: &s3.GetObjectOutput{
				Body:         io.NopCloser(strings.NewReader("partial")),
				ContentRange: aws.String("bytes 0-99/1000"),
			},
		}
	}

	remotes := []*remote.Remote{stubRemote(t, "primary", 1, true, handler)}
	f := newTestFetcher(t, remotes, newMockTokenStore())

	req := newReadRequest(apigw.GetObject, "large.bin")
	req.Headers.Set("Range", "bytes=0-99")

	resp := f.GetObject(req)

	if resp.StatusCode != http.StatusPartialContent {
		t.Errorf("Expected status 206, got %d", resp.StatusCode)
	}
	if resp.Headers.Get("Content-Range") != "bytes 0-99/1000" {
		t.Errorf("Expected Content-Range header, got %q", resp.Headers.Get("Content-Range"))
	}
}

func TestHeadObject(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	handler := func(msg remote.Message) {
		head := msg.(*remote.HeadObjectMessage)
		head.Reply <- &remote.Outcome[*s3.HeadObjectOutput]{
			Output: &s3.HeadObjectOutput{
				ContentType:   aws.String("text/plain"),
				ContentLength: aws.Int64(42),
				ETag:          aws.String(`"abc"`),
				LastModified:  aws.Time(now),
				Metadata:      map[string]string{"owner": "analytics"},
			},
		}
	}

	remotes := []*remote.Remote{stubRemote(t, "primary", 1, true, handler)}
	f := newTestFetcher(t, remotes, newMockTokenStore())

	resp := f.HeadObject(newReadRequest(apigw.HeadObject, "file.txt"))

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if resp.Headers.Get("Content-Type") != "text/plain" {
		t.Errorf("Expected Content-Type, got %q", resp.Headers.Get("Content-Type"))
	}
	if resp.Headers.Get("Content-Length") != "42" {
		t.Errorf("Expected Content-Length 42, got %q", resp.Headers.Get("Content-Length"))
	}
	if resp.Headers.Get("x-amz-meta-owner") != "analytics" {
		t.Errorf("Expected object metadata header, got %q", resp.Headers.Get("x-amz-meta-owner"))
	}
}

func TestHeadBucket_AnsweredLocally(t *testing.T) {
	f := newTestFetcher(t, nil, newMockTokenStore())

	resp := f.HeadBucket(newReadRequest(apigw.HeadBucket, ""))
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
}

func TestGetBucketLocation_AnsweredLocally(t *testing.T) {
	f := newTestFetcher(t, nil, newMockTokenStore())

	resp := f.GetBucketLocation(newReadRequest(apigw.GetBucketLocation, ""))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	data, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(data, []byte("LocationConstraint")) {
		t.Errorf("Expected LocationConstraint envelope, got %s", data)
	}
}

func TestListBuckets_AnsweredLocally(t *testing.T) {
	f := newTestFetcher(t, nil, newMockTokenStore())

	resp := f.ListBuckets(newReadRequest(apigw.ListBuckets, ""))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	data, _ := io.ReadAll(resp.Body)
	var parsed ListAllMyBucketsResult
	if err := xml.Unmarshal(bytes.TrimPrefix(data, []byte(xml.Header)), &parsed); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if len(parsed.Buckets.Bucket) != 1 || parsed.Buckets.Bucket[0].Name != "test-bucket" {
		t.Errorf("Expected the single virtual bucket, got %+v", parsed.Buckets)
	}
}

func TestListObjectsV2_TranslatesTokens(t *testing.T) {
	handler := func(msg remote.Message) {
		list := msg.(*remote.ListObjectsV2Message)

		// Позиция из токена прокси передается бэкенду как start-after
		if list.Input.StartAfter == nil || *list.Input.StartAfter != "docs/042.txt" {
			t.Errorf("Expected StartAfter docs/042.txt, got %v", list.Input.StartAfter)
		}
		// Токен клиента бэкенду не передается
		if list.Input.ContinuationToken != nil {
			t.Error("Backend must not receive the client continuation token")
		}

		list.Reply <- &remote.Outcome[*s3.ListObjectsV2Output]{
			Output: &s3.ListObjectsV2Output{
				IsTruncated: aws.Bool(true),
				KeyCount:    aws.Int32(2),
				MaxKeys:     aws.Int32(2),
				Contents: []types.Object{
					{Key: aws.String("docs/043.txt"), Size: aws.Int64(10)},
					{Key: aws.String("docs/044.txt"), Size: aws.Int64(20)},
				},
			},
		}
	}

	remotes := []*remote.Remote{stubRemote(t, "primary", 1, true, handler)}
	store := newMockTokenStore()
	store.positions["client-token"] = "docs/042.txt"
	f := newTestFetcher(t, remotes, store)

	req := newReadRequest(apigw.ListObjectsV2, "")
	req.Query.Set("continuation-token", "client-token")

	resp := f.ListObjectsV2(req)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d (error: %v)", resp.StatusCode, resp.Error)
	}

	data, _ := io.ReadAll(resp.Body)
	var parsed ListBucketResult
	if err := xml.Unmarshal(bytes.TrimPrefix(data, []byte(xml.Header)), &parsed); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if parsed.Name != "test-bucket" {
		t.Errorf("Expected virtual bucket name, got %s", parsed.Name)
	}
	if !parsed.IsTruncated {
		t.Error("Expected truncated listing")
	}
	if parsed.ContinuationToken != "client-token" {
		t.Errorf("Expected echoed client token, got %s", parsed.ContinuationToken)
	}
	// Клиент получает новый токен прокси, не токен бэкенда
	if parsed.NextContinuationToken != "issued-token-1" {
		t.Errorf("Expected proxy-issued token, got %s", parsed.NextContinuationToken)
	}

	// Новый токен указывает на последний возвращенный ключ
	if len(store.issued) != 1 || store.issued[0] != "docs/044.txt" {
		t.Errorf("Expected token issued for docs/044.txt, got %v", store.issued)
	}
}

func TestListObjectsV2_InvalidToken(t *testing.T) {
	f := newTestFetcher(t, nil, newMockTokenStore())

	req := newReadRequest(apigw.ListObjectsV2, "")
	req.Query.Set("continuation-token", "bogus")

	resp := f.ListObjectsV2(req)

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", resp.StatusCode)
	}
	s3err := resp.Error.(*apigw.S3Error)
	if s3err.Code != "InvalidToken" {
		t.Errorf("Expected InvalidToken, got %s", s3err.Code)
	}
}

func TestListObjectsV2_CompleteListingHasNoToken(t *testing.T) {
	handler := func(msg remote.Message) {
		list := msg.(*remote.ListObjectsV2Message)
		list.Reply <- &remote.Outcome[*s3.ListObjectsV2Output]{
			Output: &s3.ListObjectsV2Output{
				IsTruncated: aws.Bool(false),
				KeyCount:    aws.Int32(1),
				Contents:    []types.Object{{Key: aws.String("only.txt")}},
			},
		}
	}

	remotes := []*remote.Remote{stubRemote(t, "primary", 1, true, handler)}
	store := newMockTokenStore()
	f := newTestFetcher(t, remotes, store)

	resp := f.ListObjectsV2(newReadRequest(apigw.ListObjectsV2, ""))

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	data, _ := io.ReadAll(resp.Body)
	var parsed ListBucketResult
	if err := xml.Unmarshal(bytes.TrimPrefix(data, []byte(xml.Header)), &parsed); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if parsed.NextContinuationToken != "" {
		t.Errorf("Expected no continuation token, got %s", parsed.NextContinuationToken)
	}
	if len(store.issued) != 0 {
		t.Errorf("No token should be issued for a complete listing, got %v", store.issued)
	}
}

func TestListObjectsV2_CommonPrefixes(t *testing.T) {
	handler := func(msg remote.Message) {
		list := msg.(*remote.ListObjectsV2Message)
		if list.Input.Delimiter == nil || *list.Input.Delimiter != "/" {
			t.Errorf("Expected delimiter to be forwarded, got %v", list.Input.Delimiter)
		}
		list.Reply <- &remote.Outcome[*s3.ListObjectsV2Output]{
			Output: &s3.ListObjectsV2Output{
				IsTruncated: aws.Bool(false),
				CommonPrefixes: []types.CommonPrefix{
					{Prefix: aws.String("photos/")},
					{Prefix: aws.String("videos/")},
				},
			},
		}
	}

	remotes := []*remote.Remote{stubRemote(t, "primary", 1, true, handler)}
	f := newTestFetcher(t, remotes, newMockTokenStore())

	req := newReadRequest(apigw.ListObjectsV2, "")
	req.Query.Set("delimiter", "/")

	resp := f.ListObjectsV2(req)

	data, _ := io.ReadAll(resp.Body)
	var parsed ListBucketResult
	if err := xml.Unmarshal(bytes.TrimPrefix(data, []byte(xml.Header)), &parsed); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if len(parsed.CommonPrefixes) != 2 {
		t.Fatalf("Expected 2 common prefixes, got %d", len(parsed.CommonPrefixes))
	}
	if parsed.CommonPrefixes[0].Prefix != "photos/" {
		t.Errorf("Expected photos/ prefix, got %s", parsed.CommonPrefixes[0].Prefix)
	}
}
