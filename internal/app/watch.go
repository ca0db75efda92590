package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quickreach/backend/internal/syncer"
)

type watchOptions struct {
	email    string
	password string
	signup   bool
}

func newWatchCommand(opts *rootOptions) *cobra.Command {
	wo := &watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sign in and follow your delivery requests live",
		Long: `Sign in against the configured backend and print the signed-in user's
delivery requests every time they change. Press Ctrl+C to stop.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer env.closer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pool, closePool, err := env.connect(ctx)
			if err != nil {
				return err
			}
			defer closePool()

			svc, err := buildServices(ctx, pool, env.cfg, env.logger)
			if err != nil {
				return err
			}
			defer svc.Shutdown(context.Background())
			svc.startBackground(ctx, env.logger)

			client := syncer.NewClient(syncer.NewSession(svc.Accounts), svc.Sync)
			return watch(ctx, client, *wo, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&wo.email, "email", "", "account email")
	cmd.Flags().StringVar(&wo.password, "password", "", "account password")
	cmd.Flags().BoolVar(&wo.signup, "signup", false, "create the account before watching")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

// watch signs in through client and renders every list emission to out
// until ctx is done.
func watch(ctx context.Context, client *syncer.Client, opts watchOptions, out io.Writer) error {
	r := newRenderer()
	fmt.Fprintln(out, r.loading())

	list := client.FollowOwnedRequests(ctx)
	defer list.Close()

	session := client.Session()
	var err error
	if opts.signup {
		err = session.Register(ctx, opts.email, opts.password)
	} else {
		err = session.SignIn(ctx, opts.email, opts.password)
	}
	if err != nil {
		var aerr *syncer.AuthError
		if errors.As(err, &aerr) {
			return errors.New(aerr.Message())
		}
		return err
	}

	state, _ := session.Current()
	for {
		select {
		case <-ctx.Done():
			return nil
		case views, ok := <-list.C():
			if !ok {
				return nil
			}
			fmt.Fprint(out, r.list(state.Email, views))
		}
	}
}
