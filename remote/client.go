package remote

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go/middleware"
)

// newS3Client настраивает клиента для одного target: статические учетные
// данные, пустой регион, принудительный path-style.
//
// Тела записи у нас - неперематываемые потоки мультиплексора, поэтому SDK
// не должен вычислять SHA256 полезной нагрузки: для http-эндпоинтов
// снимаем соответствующий middleware и переходим на UNSIGNED-PAYLOAD
// (для https SDK делает это сам).
func newS3Client(target Target) (*s3.Client, error) {
	awsConfig, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(""),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			target.S3.AccessKey,
			target.S3.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	isHTTP := strings.HasPrefix(strings.ToLower(target.S3.Endpoint), "http://")

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String(target.S3.Endpoint)

		if isHTTP {
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
			o.APIOptions = append(o.APIOptions, func(stack *middleware.Stack) error {
				return v4.RemoveComputePayloadSHA256Middleware(stack)
			})
		}
	})

	return client, nil
}
