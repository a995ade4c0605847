// manifest-autoclose-sweep closes every open manifest whose packages have all
// been delivered. The server closes manifests as deliveries happen; this
// sweep catches the ones missed by crashes or skipped post-commit hooks.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/manifest-autoclose-sweep
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/shipping_backend/config"
	"bitbucket.org/mmdatafocus/shipping_backend/models"
	"bitbucket.org/mmdatafocus/shipping_backend/workflow"
	"gorm.io/gorm"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "Report eligible manifests without closing them")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}

	ids, err := models.GetOpenManifestIds(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list open manifests: %v\n", err)
		os.Exit(1)
	}
	if len(ids) == 0 {
		fmt.Println("no open manifests")
		return
	}

	closed := 0
	for _, id := range ids {
		if *dryRun {
			manifest, err := models.GetManifest(ctx, id)
			if err != nil {
				fmt.Fprintf(os.Stderr, "manifest %d: %v\n", id, err)
				continue
			}
			total, delivered, err := models.CountManifestPackages(db.WithContext(ctx), id)
			if err != nil {
				fmt.Fprintf(os.Stderr, "manifest %d: %v\n", id, err)
				continue
			}
			if workflow.IsEligibleForAutoClosure(manifest, total, delivered) {
				fmt.Printf("manifest %d (%s): eligible, %d/%d delivered\n", id, manifest.Name, delivered, total)
				closed++
			}
			continue
		}

		var didClose bool
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			didClose, err = workflow.AutoCloseIfComplete(tx, id)
			return err
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "manifest %d: %v\n", id, err)
			continue
		}
		if didClose {
			fmt.Printf("manifest %d: closed\n", id)
			closed++
		}
	}

	if *dryRun {
		fmt.Printf("dry run: %d of %d open manifests eligible\n", closed, len(ids))
		return
	}
	fmt.Printf("closed %d of %d open manifests\n", closed, len(ids))
}
