package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/dawnvoice/dawn/cmd/dawn/internal/config"
	"github.com/dawnvoice/dawn/pkg/convo"
	"github.com/dawnvoice/dawn/pkg/kv"
	"github.com/dawnvoice/dawn/pkg/storage"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Archive the persisted transcript to blob storage",
	Long: `Write a JSON archive of the persisted transcript to the configured
archive backend (a local directory by default, or an S3-compatible bucket).`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	settings, err := GetSettings()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	store, err := kv.NewBadger(kv.BadgerOptions{Dir: settings.DataDir})
	if err != nil {
		return fmt.Errorf("open transcript store: %w", err)
	}
	defer store.Close()

	turns, err := convo.NewStore(store, settings.ConversationID).Load(ctx)
	if err != nil {
		return fmt.Errorf("load transcript: %w", err)
	}
	if len(turns) == 0 {
		return fmt.Errorf("conversation %q has no turns to export", settings.ConversationID)
	}

	blobs, err := newBlobStore(settings)
	if err != nil {
		return err
	}
	path, err := storage.Export(ctx, blobs, settings.ConversationID, settings.UserID, turns)
	if err != nil {
		return err
	}
	fmt.Printf("Exported %d turns to %s (%s backend)\n", len(turns), path, settings.Archive.Backend)
	return nil
}

func newBlobStore(settings *config.Settings) (storage.BlobStore, error) {
	switch settings.Archive.Backend {
	case "local", "":
		return storage.NewLocal(settings.Archive.Dir)
	case "s3":
		if settings.Archive.Bucket == "" {
			return nil, fmt.Errorf("archive backend s3 requires a bucket")
		}
		opts := s3.Options{
			Region:      settings.Archive.Region,
			Credentials: aws.CredentialsProviderFunc(envCredentials),
		}
		if settings.Archive.Endpoint != "" {
			opts.BaseEndpoint = aws.String(settings.Archive.Endpoint)
			opts.UsePathStyle = true
		}
		client := s3.New(opts)
		return storage.NewS3(client, settings.Archive.Bucket, settings.Archive.Prefix), nil
	default:
		return nil, fmt.Errorf("unknown archive backend %q (want local or s3)", settings.Archive.Backend)
	}
}

func envCredentials(_ context.Context) (aws.Credentials, error) {
	id := os.Getenv("AWS_ACCESS_KEY_ID")
	secret := os.Getenv("AWS_SECRET_ACCESS_KEY")
	if id == "" || secret == "" {
		return aws.Credentials{}, fmt.Errorf("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set for the s3 backend")
	}
	return aws.Credentials{
		AccessKeyID:     id,
		SecretAccessKey: secret,
		SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
	}, nil
}
