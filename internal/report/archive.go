// Package report publishes finished run reports: JSON archives in S3 and
// run metrics for Prometheus and InfluxDB.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/agri-ai/farm-monitor/internal/config"
	"github.com/agri-ai/farm-monitor/internal/model"
)

type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Archiver writes each report to
//
//	s3://<bucket>/<prefix>/dt=YYYY-MM-DD/<runID>.json
type S3Archiver struct {
	bucket   string
	prefix   string
	uploader uploader
}

// NewS3Archiver creates an archiver using the default AWS credential chain.
func NewS3Archiver(ctx context.Context, cfg config.ReportConfig) (*S3Archiver, error) {
	if cfg.S3Bucket == "" {
		return nil, eris.New("report: s3 bucket required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "report: load aws config")
	}
	return newS3Archiver(manager.NewUploader(s3.NewFromConfig(awsCfg)), cfg.S3Bucket, cfg.S3Prefix), nil
}

func newS3Archiver(u uploader, bucket, prefix string) *S3Archiver {
	return &S3Archiver{bucket: bucket, prefix: prefix, uploader: u}
}

// ObjectKey is the archive key for r, partitioned by the run's start date.
func ObjectKey(prefix string, r *model.RunReport) string {
	return path.Join(prefix, "dt="+r.StartedAt.UTC().Format("2006-01-02"), r.RunID+".json")
}

// Publish uploads the report as indented JSON.
func (a *S3Archiver) Publish(ctx context.Context, r *model.RunReport) error {
	if r == nil {
		return eris.New("report: nil report")
	}
	body, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return eris.Wrap(err, "report: marshal")
	}

	key := ObjectKey(a.prefix, r)
	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(a.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(body),
		ContentType:          aws.String("application/json"),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return eris.Wrapf(err, "report: upload s3://%s/%s", a.bucket, key)
	}

	zap.L().Info("report: archived",
		zap.String("run_id", r.RunID),
		zap.String("bucket", a.bucket),
		zap.String("key", key),
	)
	return nil
}
