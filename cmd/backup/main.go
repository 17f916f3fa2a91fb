// Command backup dumps the portfolio database with pg_dump, compresses it
// and uploads it to the backup bucket, keeping the newest N dumps. The server
// also writes JSON exports on a schedule; this command is the full-fidelity
// variant for restores.
package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/kelseyhightower/envconfig"
)

type backupConfig struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	S3Key    string `envconfig:"S3_KEY" required:"true"`
	S3Secret string `envconfig:"S3_SECRET" required:"true"`
	S3URL    string `envconfig:"S3_URL" required:"true"`
	S3Region string `envconfig:"S3_REGION" required:"true"`
	S3Bucket string `envconfig:"S3_BUCKET" required:"true"`

	KeepBackups int `envconfig:"KEEP_BACKUPS" default:"7"`
}

const dumpPrefix = "dumps/"

func main() {
	log.Println("Starting database backup...")

	var cfg backupConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("Config load error: %v", err)
	}

	dump, err := createDump(cfg)
	if err != nil {
		log.Fatalf("pg_dump failed: %v", err)
	}

	client, err := newS3Client(cfg)
	if err != nil {
		log.Fatalf("S3 client creation failed: %v", err)
	}

	key := fmt.Sprintf("%sportfolio-%s.sql.gz", dumpPrefix, time.Now().UTC().Format("2006-01-02T15-04-05Z"))
	_, err = client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(cfg.S3Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(dump),
	})
	if err != nil {
		log.Fatalf("Upload failed: %v", err)
	}
	log.Printf("Backup uploaded to s3://%s/%s", cfg.S3Bucket, key)

	if err := rotateDumps(client, cfg); err != nil {
		log.Fatalf("Rotation failed: %v", err)
	}

	log.Println("Backup finished.")
}

func createDump(cfg backupConfig) ([]byte, error) {
	cmd := exec.Command("pg_dump",
		"-h", cfg.DBHost,
		"-U", cfg.DBUser,
		"-d", cfg.DBName,
		"-w",
	)
	cmd.Env = append(os.Environ(), fmt.Sprintf("PGPASSWORD=%s", cfg.DBPassword))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := io.Copy(gz, stdout); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	if err := cmd.Wait(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func newS3Client(cfg backupConfig) (*s3.Client, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               cfg.S3URL,
				SigningRegion:     cfg.S3Region,
				HostnameImmutable: true,
			}, nil
		},
	)
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.S3Key, cfg.S3Secret, "")),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(awsCfg), nil
}

func rotateDumps(client *s3.Client, cfg backupConfig) error {
	out, err := client.ListObjectsV2(context.Background(), &s3.ListObjectsV2Input{
		Bucket: aws.String(cfg.S3Bucket),
		Prefix: aws.String(dumpPrefix),
	})
	if err != nil {
		return err
	}
	if len(out.Contents) <= cfg.KeepBackups {
		return nil
	}

	sort.Slice(out.Contents, func(i, j int) bool {
		return out.Contents[i].LastModified.After(*out.Contents[j].LastModified)
	})

	for _, obj := range out.Contents[cfg.KeepBackups:] {
		log.Printf("Deleting old backup: %s", aws.ToString(obj.Key))
		_, err := client.DeleteObject(context.Background(), &s3.DeleteObjectInput{
			Bucket: aws.String(cfg.S3Bucket),
			Key:    obj.Key,
		})
		if err != nil {
			log.Printf("Could not delete %s: %v", aws.ToString(obj.Key), err)
		}
	}
	return nil
}
