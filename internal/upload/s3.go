package upload

import (
	"bytes"
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rotisserie/eris"
)

// S3Config configures the S3-backed uploader.
type S3Config struct {
	Bucket            string `yaml:"bucket" mapstructure:"bucket"`
	Region            string `yaml:"region" mapstructure:"region"`
	Endpoint          string `yaml:"endpoint" mapstructure:"endpoint"`
	AccessKey         string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey         string `yaml:"secret_key" mapstructure:"secret_key"`
	PresignExpirySecs int64  `yaml:"presign_expiry_secs" mapstructure:"presign_expiry_secs"`
}

// s3Uploader stores documents in an S3 bucket and hands back presigned GET
// URLs, which the generate service fetches as document references.
type s3Uploader struct {
	cfg       S3Config
	uploader  *manager.Uploader
	presigner *s3.PresignClient
}

// NewS3Uploader creates an Uploader backed by S3.
func NewS3Uploader(ctx context.Context, cfg S3Config) (Uploader, error) {
	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "upload: load aws config")
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)
	if cfg.PresignExpirySecs <= 0 {
		cfg.PresignExpirySecs = 3600
	}

	return &s3Uploader{
		cfg:       cfg,
		uploader:  manager.NewUploader(client),
		presigner: s3.NewPresignClient(client),
	}, nil
}

func (u *s3Uploader) Upload(ctx context.Context, key string, data []byte, mimeType string) (string, error) {
	_, err := u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(mimeType),
	})
	if err != nil {
		return "", eris.Wrapf(err, "upload: s3 put %s", key)
	}

	presigned, err := u.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(time.Duration(u.cfg.PresignExpirySecs)*time.Second))
	if err != nil {
		return "", eris.Wrapf(err, "upload: s3 presign %s", key)
	}

	return presigned.URL, nil
}
