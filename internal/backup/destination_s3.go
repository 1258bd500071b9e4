package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/pma2020/pma-api/internal/config"
)

// S3Destination stores backups as <prefix>/<name>.dump in AWS S3 or
// S3-compatible storage
type S3Destination struct {
	bucket     string
	prefix     string
	client     s3iface.S3API
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
}

// NewS3Destination creates a new S3 destination
func NewS3Destination(cfg config.DestinationConfig) (*S3Destination, error) {
	awsConfig := &aws.Config{
		Region: aws.String(cfg.S3Region),
	}

	// Static keys when given, otherwise the SDK's default chain
	if cfg.S3AccessKey != "" || cfg.S3SecretKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(cfg.S3AccessKey, cfg.S3SecretKey, "")
	}

	// Custom endpoint for S3-compatible storage (MinIO, DigitalOcean Spaces, etc.)
	if cfg.S3Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.S3Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	client := s3.New(sess)
	dest := newS3Destination(cfg.S3Bucket, cfg.Path, client)

	log.Printf("[S3Dest] Initialized S3 destination: bucket=%s, region=%s, prefix=%s",
		cfg.S3Bucket, cfg.S3Region, dest.prefix)

	return dest, nil
}

func newS3Destination(bucket, prefix string, client s3iface.S3API) *S3Destination {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "backups"
	}
	return &S3Destination{
		bucket:     bucket,
		prefix:     prefix,
		client:     client,
		uploader:   s3manager.NewUploaderWithClient(client),
		downloader: s3manager.NewDownloaderWithClient(client),
	}
}

func (sd *S3Destination) key(filename string) string {
	return path.Join(sd.prefix, filename)
}

// Upload streams a backup file to S3, using multipart uploads for large dumps
func (sd *S3Destination) Upload(ctx context.Context, filename string, reader io.Reader, sizeBytes int64) error {
	key := sd.key(filename)
	log.Printf("[S3Dest] Uploading %s to s3://%s/%s (%d bytes)", filename, sd.bucket, key, sizeBytes)

	_, err := sd.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:       aws.String(sd.bucket),
		Key:          aws.String(key),
		Body:         reader,
		ContentType:  aws.String("application/octet-stream"),
		StorageClass: aws.String(s3.StorageClassStandard),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	log.Printf("[S3Dest] Upload complete: %s", filename)
	return nil
}

// Download fetches a backup file from S3
func (sd *S3Destination) Download(ctx context.Context, filename string, w io.WriterAt) (int64, error) {
	key := sd.key(filename)
	log.Printf("[S3Dest] Downloading s3://%s/%s", sd.bucket, key)

	n, err := sd.downloader.DownloadWithContext(ctx, w, &s3.GetObjectInput{
		Bucket: aws.String(sd.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return 0, &ArtifactNotFoundError{Name: filename, Destination: sd.GetType()}
		}
		return 0, fmt.Errorf("failed to get object from S3: %w", err)
	}
	return n, nil
}

// Delete removes a backup file from S3
func (sd *S3Destination) Delete(ctx context.Context, filename string) error {
	key := sd.key(filename)
	log.Printf("[S3Dest] Deleting s3://%s/%s", sd.bucket, key)

	_, err := sd.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(sd.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}

// List returns all backup files under the prefix
func (sd *S3Destination) List(ctx context.Context) ([]BackupFile, error) {
	prefix := sd.prefix + "/"

	var files []BackupFile
	err := sd.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(sd.bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			key := aws.StringValue(obj.Key)
			if key == prefix || strings.HasSuffix(key, "/") {
				continue
			}
			// Only direct children of the prefix
			if strings.Contains(strings.TrimPrefix(key, prefix), "/") {
				continue
			}

			files = append(files, BackupFile{
				Filename:  path.Base(key),
				SizeBytes: aws.Int64Value(obj.Size),
				CreatedAt: aws.TimeValue(obj.LastModified).Unix(),
			})
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list S3 objects: %w", err)
	}

	return files, nil
}

func (sd *S3Destination) Location(filename string) string {
	return "s3://" + sd.bucket + "/" + sd.key(filename)
}

// GetType returns the destination type
func (sd *S3Destination) GetType() string {
	return "s3"
}

func (sd *S3Destination) Close() error {
	return nil
}

func isS3NotFound(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}
