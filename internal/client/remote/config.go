package remote

const (
	KindS3     = "s3"
	KindMemory = "memory"

	defaultContainerRoot = "vaults"
)

type S3Config struct {
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	Endpoint  string
	// Root is the key prefix under which vault containers live.
	Root string
}
