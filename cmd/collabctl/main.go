package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"collab-sync-server/internal/config"
	"collab-sync-server/internal/domain"
	"collab-sync-server/internal/repository"
	"collab-sync-server/internal/service"
	"collab-sync-server/pkg/jwt"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"
)

const CollabCtlVersion = "0.1.0"

func main() {
	usage := `Collab sync server control.

Reads the same environment (.env, DB_DRIVER, JWT_SECRET, ...) as the server.

Usage:
    collabctl token <user_id> [--name=<name>] [--ttl=<ttl>]
    collabctl create-page --title=<title> --owner=<user_id> [--id=<page_id>] [--space=<space_id>]
    collabctl grant <page_id> <user_id> <role>
    collabctl -h | --help
    collabctl --version

Options:
    -h --help          Show this screen.
    --version          Show version.
    --name=<name>      Display name carried in the token.
    --ttl=<ttl>        Token lifetime, e.g. 2h. Defaults to JWT_EXPIRATION.
    --title=<title>    Page title.
    --owner=<user_id>  Creator of the page, who is its admin.
    --id=<page_id>     Page id (uuid). Generated when omitted.
    --space=<space_id> Space the page belongs to.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], CollabCtlVersion)
	if err != nil {
		glog.Fatalf("invalid arguments: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		glog.Fatalf("failed to load configuration: %v", err)
	}

	if token_, _ := opts.Bool("token"); token_ {
		err = token(cfg, opts)
	} else if createPage_, _ := opts.Bool("create-page"); createPage_ {
		err = createPage(cfg, opts)
	} else if grant_, _ := opts.Bool("grant"); grant_ {
		err = grant(cfg, opts)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// token prints an auth token for the subscribe message.
func token(cfg *config.Config, opts docopt.Opts) error {
	userID, _ := opts.String("<user_id>")
	name, _ := opts.String("--name")

	ttl := cfg.JWT.Expiration
	if ttlStr, _ := opts.String("--ttl"); ttlStr != "" {
		d, err := time.ParseDuration(ttlStr)
		if err != nil {
			return fmt.Errorf("invalid --ttl: %w", err)
		}
		ttl = d
	}

	signed, err := jwt.GenerateToken(userID, name, ttl, cfg.JWT.Secret)
	if err != nil {
		return err
	}
	fmt.Println(signed)
	return nil
}

func createPage(cfg *config.Config, opts docopt.Opts) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stores, err := repository.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer stores.Close()

	title, _ := opts.String("--title")
	owner, _ := opts.String("--owner")
	id, _ := opts.String("--id")
	space, _ := opts.String("--space")

	pages := service.NewPageService(stores.Pages, service.NewPermissionService(stores.Pages, stores.Permissions))
	page, err := pages.Create(ctx, &domain.CreatePageRequest{
		ID:        id,
		SpaceID:   space,
		Title:     title,
		CreatedBy: owner,
	})
	if err != nil {
		return err
	}

	fmt.Println(page.ID)
	return nil
}

func grant(cfg *config.Config, opts docopt.Opts) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stores, err := repository.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer stores.Close()

	pageID, _ := opts.String("<page_id>")
	userID, _ := opts.String("<user_id>")
	role, _ := opts.String("<role>")

	permissions := service.NewPermissionService(stores.Pages, stores.Permissions)
	if err := permissions.Grant(ctx, &domain.PermissionGrant{PageID: pageID, UserID: userID, Role: role}); err != nil {
		return err
	}

	fmt.Printf("%s is %s on %s\n", userID, role, pageID)
	return nil
}
