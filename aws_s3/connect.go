// Package aws_s3 is a rowbatch Store over an S3 bucket.
//
// Each row is one object, rows/<table id>/<row id>, holding its insertion sequence and its
// JSON encoded columns. Tables are catalogued under tables/<name>. S3 has no multi-object
// write, so bulk calls fan the object writes out concurrently.
package aws_s3

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type Config struct {
	// "http://127.0.0.1:9000"
	HostEndpointUrl string `json:"host_endpoint_url"`
	// "us-east-1"
	Region   string `json:"region"`
	Username string `json:"username"`
	Password string `json:"password"`
	// Bucket holding the tables. It must exist.
	Bucket string `json:"bucket"`
	// Concurrency caps the object calls a bulk operation runs at once.
	Concurrency int `json:"concurrency"`
}

// DefaultConfig returns a config for a local minio server.
func DefaultConfig() Config {
	return Config{
		HostEndpointUrl: "http://127.0.0.1:9000",
		Region:          "us-east-1",
		Bucket:          "rowbatch",
		Concurrency:     DefaultConcurrency,
	}
}

// DefaultConcurrency is used when Config.Concurrency is not set.
const DefaultConcurrency = 16

// Connect to minio Server endpoint.
func Connect(config Config) *s3.Client {
	client := s3.NewFromConfig(aws.Config{Region: config.Region}, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(config.HostEndpointUrl)
		o.Credentials = credentials.NewStaticCredentialsProvider(config.Username, config.Password, "")
		// minio serves buckets on the path.
		o.UsePathStyle = true
	})
	return client
}
