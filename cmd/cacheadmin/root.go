package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/cacheaside"
	cazap "github.com/unkn0wn-root/cacheaside/log/zap"
	"github.com/unkn0wn-root/cacheaside/store"
	rs "github.com/unkn0wn-root/cacheaside/store/redis"
)

type app struct {
	out    io.Writer
	cfg    Config
	zl     *zap.Logger
	logger cacheaside.Logger
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}
	var cfgPath string
	var verbose bool

	root := &cobra.Command{
		Use:           "cacheadmin",
		Short:         "Operate cache-aside stores",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("verbose") {
				cfg.Verbose = verbose
			}
			a.cfg = cfg
			a.zl = zap.NewNop()
			if cfg.Verbose {
				if a.zl, err = zap.NewDevelopment(); err != nil {
					return err
				}
			}
			a.logger = cazap.New(a.zl)
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = a.zl.Sync()
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (yaml, json or toml)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log cache events to stderr")

	root.AddCommand(a.purgeCmd(), a.bustTagCmd(), a.counterCmd())
	return root
}

func (a *app) dialOptions() goredis.Options {
	return goredis.Options{Password: a.cfg.Redis.Password, DB: a.cfg.Redis.DB}
}

// primary connects to the first configured endpoint.
func (a *app) primary(ctx context.Context) (store.Store, error) {
	return rs.Dialer(a.dialOptions())(ctx, a.cfg.Redis.Addrs[0])
}

func (a *app) purgeCmd() *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "purge <pattern>",
		Short: "Delete every key matching a glob pattern on all endpoints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := cacheaside.NewPurger(cacheaside.PurgeOptions{
				Endpoints:   a.cfg.Redis.Addrs,
				Dial:        rs.Dialer(a.dialOptions()),
				ScanCount:   a.cfg.Purge.ScanCount,
				DeleteBatch: a.cfg.Purge.DeleteBatch,
				Logger:      a.logger,
			})
			if err != nil {
				return err
			}
			deleted, err := p.ClearByPattern(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if list {
				for _, k := range deleted {
					fmt.Fprintln(a.out, k)
				}
			}
			fmt.Fprintf(a.out, "deleted %d keys\n", len(deleted))
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "print each deleted key")
	return cmd
}

func (a *app) bustTagCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bust-tag <tag>...",
		Short: "Delete every key tagged with the given tags",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := a.primary(ctx)
			if err != nil {
				return err
			}
			defer st.Close(ctx)

			tags, err := cacheaside.NewTagIndex(cacheaside.TagOptions{
				Store:  st,
				Prefix: a.cfg.TagPrefix,
				Logger: a.logger,
			})
			if err != nil {
				return err
			}
			n, err := tags.BustTags(ctx, args...)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "deleted %d keys\n", n)
			return nil
		},
	}
}

func (a *app) counterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "counter",
		Short: "Inspect or reset Counter values",
	}

	withCounter := func(run func(ctx context.Context, c *cacheaside.Counter[string], id string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := a.primary(ctx)
			if err != nil {
				return err
			}
			defer st.Close(ctx)
			c, err := cacheaside.NewCounter(cacheaside.CounterOptions[string]{
				Namespace: args[0],
				Store:     st,
				Logger:    a.logger,
			})
			if err != nil {
				return err
			}
			return run(ctx, c, args[1])
		}
	}

	get := &cobra.Command{
		Use:   "get <namespace> <id>",
		Short: "Print a counter; an absent counter is initialised to 0",
		Args:  cobra.ExactArgs(2),
		RunE: withCounter(func(ctx context.Context, c *cacheaside.Counter[string], id string) error {
			n, err := c.Get(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, n)
			return nil
		}),
	}

	var by int64
	incr := &cobra.Command{
		Use:   "incr <namespace> <id>",
		Short: "Add to a counter and print the result",
		Args:  cobra.ExactArgs(2),
		RunE: withCounter(func(ctx context.Context, c *cacheaside.Counter[string], id string) error {
			n, err := c.IncrementBy(ctx, id, by)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, strconv.FormatInt(n, 10))
			return nil
		}),
	}
	incr.Flags().Int64Var(&by, "by", 1, "amount to add")

	clr := &cobra.Command{
		Use:   "clear <namespace> <id>",
		Short: "Delete a counter",
		Args:  cobra.ExactArgs(2),
		RunE: withCounter(func(ctx context.Context, c *cacheaside.Counter[string], id string) error {
			if err := c.Clear(ctx, id); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "cleared")
			return nil
		}),
	}

	cmd.AddCommand(get, incr, clr)
	return cmd
}
