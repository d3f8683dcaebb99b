package routing

import (
	"s3reproxy/apigw"
)

// ReplicationExecutor - операции записи, реплицируемые на все remotes.
// Реализуется модулем Replicator.
type ReplicationExecutor interface {
	PutObject(req *apigw.S3Request) *apigw.S3Response
	DeleteObject(req *apigw.S3Request) *apigw.S3Response
	DeleteObjects(req *apigw.S3Request) *apigw.S3Response
	CreateMultipartUpload(req *apigw.S3Request) *apigw.S3Response
	UploadPart(req *apigw.S3Request) *apigw.S3Response
	CompleteMultipartUpload(req *apigw.S3Request) *apigw.S3Response
	AbortMultipartUpload(req *apigw.S3Request) *apigw.S3Response
}

// FetchingExecutor - операции чтения, обслуживаемые первым ответившим
// remote. Реализуется модулем Fetcher.
type FetchingExecutor interface {
	GetObject(req *apigw.S3Request) *apigw.S3Response
	HeadObject(req *apigw.S3Request) *apigw.S3Response
	HeadBucket(req *apigw.S3Request) *apigw.S3Response
	GetBucketLocation(req *apigw.S3Request) *apigw.S3Response
	ListObjectsV2(req *apigw.S3Request) *apigw.S3Response
	ListBuckets(req *apigw.S3Request) *apigw.S3Response
}
