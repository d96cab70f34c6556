package cloud

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/matryer/is"
)

func TestPresignedExportURL(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	t.Setenv("AWS_ACCESS_KEY_ID", "AKIDEXAMPLE")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(t.TempDir(), "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(t.TempDir(), "credentials"))

	cfg, err := LoadConfig(ctx, "eu-north-1")
	is.NoErr(err)
	is.Equal(cfg.Region, "eu-north-1")

	_, presigner := NewS3Client(cfg)

	req, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String("household-exports"),
		Key:    aws.String("exports/20240304T000000Z.json"),
	})
	is.NoErr(err)

	is.True(strings.Contains(req.URL, "household-exports"))
	is.True(strings.Contains(req.URL, "exports/20240304T000000Z.json"))
	is.True(strings.Contains(req.URL, "X-Amz-Signature"))
}

func TestSNSClientUsesRegion(t *testing.T) {
	is := is.New(t)

	client := NewSNSClient(aws.Config{Region: "eu-north-1"})
	is.Equal(client.Options().Region, "eu-north-1")
}
