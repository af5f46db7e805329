package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fastivite/fastivite/internal/build"
	"github.com/fastivite/fastivite/internal/publish"
)

func publishCmd() *cobra.Command {
	var (
		configFile  string
		dir         string
		bucket      string
		prefix      string
		region      string
		endpoint    string
		pathStyle   bool
		concurrency int
		dryRun      bool
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Upload client assets to S3",
		Long: `Upload the built client assets to an S3 bucket or any S3 compatible store.

Credentials are read from AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY and
AWS_SESSION_TOKEN. Files under assets/ get immutable cache headers.

Examples:
  fastivite publish --bucket my-site
  fastivite publish --bucket my-site --prefix v2 --dry-run
  fastivite publish --bucket site --endpoint http://localhost:9000 --path-style`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			pc := &cfg.Publish
			set := cmd.Flags().Changed
			if set("bucket") {
				pc.Bucket = bucket
			}
			if set("prefix") {
				pc.Prefix = prefix
			}
			if set("region") {
				pc.Region = region
			}
			if set("endpoint") {
				pc.Endpoint = endpoint
			}
			if set("path-style") {
				pc.PathStyle = pathStyle
			}
			if dir == "" {
				dir = cfg.Abs(cfg.Build.OutDir + "/" + build.ClientDir)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := publish.Options{
				Dir:         dir,
				Bucket:      pc.Bucket,
				Prefix:      pc.Prefix,
				Concurrency: concurrency,
				DryRun:      dryRun,
			}
			if !dryRun {
				opts.Client = publish.NewClient(*pc)
			}
			result, err := publish.Publish(ctx, opts)
			if err != nil {
				return err
			}
			if dryRun {
				for _, key := range result.Keys {
					info("%s", key)
				}
				success("%d files would be published to s3://%s", len(result.Keys), pc.Bucket)
				return nil
			}
			success("Published %d files (%d bytes) to s3://%s", len(result.Keys), result.Bytes, pc.Bucket)
			return nil
		},
	}

	cmd.Flags().StringVar(&configFile, "config-file", "", "Configuration file")
	cmd.Flags().StringVar(&dir, "dir", "", "Directory to upload (default: <out-dir>/client)")
	cmd.Flags().StringVar(&bucket, "bucket", "", "Target bucket")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Key prefix")
	cmd.Flags().StringVar(&region, "region", "", "Bucket region")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Custom S3 endpoint")
	cmd.Flags().BoolVar(&pathStyle, "path-style", false, "Use path-style addressing")
	cmd.Flags().IntVar(&concurrency, "concurrency", publish.DefaultConcurrency, "Parallel uploads")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List keys without uploading")

	return cmd
}
