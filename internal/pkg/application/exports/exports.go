package exports

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/application/aggregation"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-energy-mgmt/pkg/types"
)

const urlExpiry time.Duration = 1 * time.Hour

type ObjectUploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type Exporter interface {
	Export(ctx context.Context, granularity types.Granularity, from, to time.Time) (types.Export, error)
}

type document struct {
	GeneratedAt time.Time                 `json:"generatedAt"`
	Granularity types.Granularity         `json:"granularity"`
	From        time.Time                 `json:"from"`
	To          time.Time                 `json:"to"`
	WholeHouse  []types.Bucket            `json:"wholeHouse"`
	Devices     map[string][]types.Bucket `json:"devices"`
}

type exporter struct {
	aggregator aggregation.Aggregator
	uploader   ObjectUploader
	presigner  Presigner
	bucket     string
	now        func() time.Time
}

func New(a aggregation.Aggregator, u ObjectUploader, p Presigner, bucket string) Exporter {
	return &exporter{
		aggregator: a,
		uploader:   u,
		presigner:  p,
		bucket:     bucket,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (e *exporter) Export(ctx context.Context, granularity types.Granularity, from, to time.Time) (types.Export, error) {
	series, err := e.aggregator.AggregateAll(ctx, granularity, from, to)
	if err != nil {
		return types.Export{}, err
	}

	now := e.now()

	b, err := json.Marshal(document{
		GeneratedAt: now,
		Granularity: granularity,
		From:        from.UTC(),
		To:          to.UTC(),
		WholeHouse:  series.WholeHouse,
		Devices:     series.Devices,
	})
	if err != nil {
		return types.Export{}, err
	}

	key := fmt.Sprintf("exports/%s.json", now.Format("20060102T150405Z"))

	_, err = e.uploader.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(b),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"granularity": string(granularity),
		},
	})
	if err != nil {
		return types.Export{}, fmt.Errorf("failed to upload export: %w", err)
	}

	presigned, err := e.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = urlExpiry
	})
	if err != nil {
		return types.Export{}, fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	log := logging.GetLoggerFromContext(ctx)
	log.Info().Msgf("exported %s consumption to %s", granularity, key)

	return types.Export{Key: key, URL: presigned.URL}, nil
}
