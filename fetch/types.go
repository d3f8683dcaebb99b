package fetch

import (
	"context"
	"encoding/xml"
	"sort"
	"time"

	"s3reproxy/remote"
)

// TokenStore - трансляция continuation-токенов листинга. Реализуется
// tokens.Store, в тестах подменяется моком.
type TokenStore interface {
	// Consume обменивает токен клиента на сохраненную позицию листинга
	Consume(ctx context.Context, token string) (string, error)
	// Issue сохраняет позицию листинга и возвращает токен для клиента
	Issue(ctx context.Context, startAfter string) (string, error)
}

// ListAllMyBucketsResult - ответ на запрос списка бакетов
type ListAllMyBucketsResult struct {
	XMLName xml.Name `xml:"ListAllMyBucketsResult"`
	Owner   Owner    `xml:"Owner"`
	Buckets Buckets  `xml:"Buckets"`
}

type Owner struct {
	ID          string `xml:"ID"`
	DisplayName string `xml:"DisplayName"`
}

type Buckets struct {
	Bucket []Bucket `xml:"Bucket"`
}

type Bucket struct {
	Name         string    `xml:"Name"`
	CreationDate time.Time `xml:"CreationDate"`
}

// ListBucketResult - ответ на листинг объектов (ListObjectsV2)
type ListBucketResult struct {
	XMLName               xml.Name       `xml:"ListBucketResult"`
	Name                  string         `xml:"Name"`
	Prefix                string         `xml:"Prefix,omitempty"`
	Delimiter             string         `xml:"Delimiter,omitempty"`
	KeyCount              int32          `xml:"KeyCount"`
	MaxKeys               int32          `xml:"MaxKeys"`
	IsTruncated           bool           `xml:"IsTruncated"`
	ContinuationToken     string         `xml:"ContinuationToken,omitempty"`
	NextContinuationToken string         `xml:"NextContinuationToken,omitempty"`
	Contents              []Object       `xml:"Contents"`
	CommonPrefixes        []CommonPrefix `xml:"CommonPrefixes,omitempty"`
}

type Object struct {
	Key          string    `xml:"Key"`
	LastModified time.Time `xml:"LastModified"`
	ETag         string    `xml:"ETag"`
	Size         int64     `xml:"Size"`
	StorageClass string    `xml:"StorageClass,omitempty"`
}

type CommonPrefix struct {
	Prefix string `xml:"Prefix"`
}

// LocationConstraint - ответ на запрос региона бакета
type LocationConstraint struct {
	XMLName xml.Name `xml:"LocationConstraint"`
	Value   string   `xml:",chardata"`
}

// readOrder возвращает remotes в порядке опроса на чтение: сначала
// участвующие в чтении (read_request), внутри группы по убыванию
// приоритета. Порядок конфигурации сохраняется для равных приоритетов.
func readOrder(remotes []*remote.Remote) []*remote.Remote {
	ordered := make([]*remote.Remote, len(remotes))
	copy(ordered, remotes)

	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].ReadRequest != ordered[j].ReadRequest {
			return ordered[i].ReadRequest
		}
		return ordered[i].Priority > ordered[j].Priority
	})
	return ordered
}
