package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pbaille/canvas/internal/api"
	"github.com/pbaille/canvas/internal/canvas"
	"github.com/pbaille/canvas/internal/client"
	"github.com/pbaille/canvas/internal/config"
	"github.com/pbaille/canvas/internal/domain"
	"github.com/pbaille/canvas/internal/embedding"
	"github.com/pbaille/canvas/internal/entrystore"
	"github.com/pbaille/canvas/internal/fetcher"
	"github.com/pbaille/canvas/internal/navigation"
	"github.com/pbaille/canvas/internal/persist"
	"github.com/pbaille/canvas/internal/store"
	"github.com/spf13/cobra"
)

var (
	cfgPath   string
	dbPath    string
	serverURL string
	owner     string
	logLevel  string

	cfg    config.Config
	logger *slog.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "canvas",
		Short: "Infinite canvas workspace",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup(cmd)
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default ~/.canvas/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "use a remote canvas server instead of the local database")
	rootCmd.PersistentFlags().StringVar(&owner, "owner", "", "canvas owner")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(treeCmd())
	rootCmd.AddCommand(addCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(organizeCmd())
	rootCmd.AddCommand(pathCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q", logLevel)
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	v := config.New()
	if err := v.BindPFlag("db", cmd.Flags().Lookup("db")); err != nil {
		return err
	}
	if err := v.BindPFlag("owner", cmd.Flags().Lookup("owner")); err != nil {
		return err
	}
	c, err := config.Load(v, cfgPath)
	if err != nil {
		return err
	}
	cfg = c
	return nil
}

func getStore() (*store.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DB), 0755); err != nil {
		return nil, err
	}
	return store.New(cfg.DB)
}

// backend is the CRUD collaborator the offline commands run against
type backend struct {
	persist.Backend
	// cache is nil for remote backends
	cache embedding.Cache
	close func() error
}

func getBackend() (*backend, error) {
	if serverURL != "" {
		return &backend{Backend: client.New(serverURL), close: func() error { return nil }}, nil
	}
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	return &backend{Backend: s, cache: s, close: s.Close}, nil
}

// loadIndex reads every entry of the configured owner into an in-memory index
func loadIndex(ctx context.Context, s persist.Backend) (*entrystore.Store, error) {
	entries, err := s.ListEntries(ctx, cfg.Owner)
	if err != nil {
		return nil, err
	}
	idx := entrystore.New()
	idx.Replace(entries)
	return idx, nil
}

func navigator(idx *entrystore.Store) *navigation.Navigator {
	return navigation.New(navigation.Options{
		Store:      idx,
		Owner:      cfg.Owner,
		SlugLength: cfg.Navigation.SlugLength,
		Logger:     logger,
	})
}

// resolveID accepts a full id or a unique prefix
func resolveID(idx *entrystore.Store, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	if idx.Has(ref) {
		return ref, nil
	}
	var found string
	idx.ForEach(func(e *domain.Entry) bool {
		if strings.HasPrefix(e.ID, ref) {
			if found != "" {
				found = "!"
				return false
			}
			found = e.ID
		}
		return true
	})
	switch found {
	case "":
		return "", fmt.Errorf("entry not found: %s", ref)
	case "!":
		return "", fmt.Errorf("ambiguous id prefix: %s", ref)
	}
	return found, nil
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			previews, err := fetcher.New(cfg.Fetcher.CacheSize, logger)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Addr
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server := api.New(s, previews, addr, logger)
			return server.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "server address (default from config)")
	return cmd
}

func listCmd() *cobra.Command {
	var parent, path string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List entries of one canvas level",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getBackend()
			if err != nil {
				return err
			}
			defer s.close()

			idx, err := loadIndex(cmd.Context(), s)
			if err != nil {
				return err
			}

			level := ""
			switch {
			case path != "":
				stack := navigator(idx).Resolve(path)
				if len(stack) > 0 {
					level = stack[len(stack)-1]
				}
			case parent != "":
				if level, err = resolveID(idx, parent); err != nil {
					return err
				}
			}

			children := idx.Children(level)
			if len(children) == 0 {
				fmt.Println("No entries yet.")
				return nil
			}

			for _, e := range children {
				marker := " "
				if idx.HasChildren(e.ID) {
					marker = "+"
				}
				fmt.Printf("%s %s  %-60s  %s\n", marker, e.ID[:8], truncate(label(e), 60), humanize.Time(e.UpdatedAt))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&parent, "parent", "p", "", "parent entry id or prefix")
	cmd.Flags().StringVar(&path, "path", "", "canvas path, e.g. /me/projects")
	return cmd
}

func treeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "Show the entry hierarchy",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getBackend()
			if err != nil {
				return err
			}
			defer s.close()

			entries, err := s.ListEntries(cmd.Context(), cfg.Owner)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No entries yet.")
				return nil
			}

			var printTree func(n api.Node, indent int)
			printTree = func(n api.Node, indent int) {
				prefix := strings.Repeat("  ", indent)
				fmt.Printf("%s%s  %s\n", prefix, n.ID[:8], truncate(n.Text, 60))
				for _, c := range n.Children {
					printTree(c, indent+1)
				}
			}
			for _, n := range api.BuildTree(entries) {
				printTree(n, 0)
			}
			return nil
		},
	}
}

func addCmd() *cobra.Command {
	var parent string
	var x, y float64

	cmd := &cobra.Command{
		Use:   "add [text]",
		Short: "Add a text entry",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getBackend()
			if err != nil {
				return err
			}
			defer s.close()

			idx, err := loadIndex(cmd.Context(), s)
			if err != nil {
				return err
			}
			parentID, err := resolveID(idx, parent)
			if err != nil {
				return err
			}

			text := strings.TrimSpace(strings.Join(args, " "))
			if text == "" {
				return fmt.Errorf("empty entry")
			}
			if dup, ok := idx.FindDuplicate(text, parentID, ""); ok {
				return fmt.Errorf("duplicate of %s at this level", dup.ID[:8])
			}

			now := time.Now()
			e := &domain.Entry{
				ID:        domain.NewID(),
				OwnerID:   cfg.Owner,
				Position:  domain.Position{X: x, Y: y},
				Text:      text,
				CreatedAt: now,
				UpdatedAt: now,
			}
			e.SetParent(parentID)

			saved, err := s.CreateOrUpdateEntry(cmd.Context(), e)
			if err != nil {
				return err
			}
			fmt.Printf("Created entry %s\n", saved.ID[:8])
			return nil
		},
	}

	cmd.Flags().StringVarP(&parent, "parent", "p", "", "parent entry id or prefix")
	cmd.Flags().Float64Var(&x, "x", 0, "world x position")
	cmd.Flags().Float64Var(&y, "y", 0, "world y position")
	return cmd
}

func searchCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Fuzzy search entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getBackend()
			if err != nil {
				return err
			}
			defer s.close()

			idx, err := loadIndex(cmd.Context(), s)
			if err != nil {
				return err
			}

			entries := idx.Search(args[0], limit)
			if len(entries) == 0 {
				fmt.Println("No matching entries found.")
				return nil
			}

			nav := navigator(idx)
			for _, e := range entries {
				fmt.Printf("%s  %-60s  %s\n", e.ID[:8], truncate(label(e), 60), nav.PathOf(e.Parent()))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum results")
	return cmd
}

func organizeCmd() *cobra.Command {
	var parent string
	var group bool

	cmd := &cobra.Command{
		Use:   "organize",
		Short: "Declutter one canvas level so no entries overlap",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := getBackend()
			if err != nil {
				return err
			}
			defer s.close()

			idx, err := loadIndex(ctx, s)
			if err != nil {
				return err
			}
			level, err := resolveID(idx, parent)
			if err != nil {
				return err
			}
			children := idx.Children(level)
			if len(children) < 2 {
				fmt.Println("Nothing to organize.")
				return nil
			}

			opts := canvas.Options{
				Backend:    s,
				Viewer:     domain.Viewer{UserID: cfg.Owner, OwnerID: cfg.Owner},
				Config:     cfg,
				Embeddings: s.cache,
				Logger:     logger,
			}
			if group || cfg.Embedding.Enabled {
				svc, err := embedding.New()
				if err != nil {
					return err
				}
				opts.Embedder = svc
				opts.Config.Embedding.Enabled = true
			}

			sess := canvas.New(opts)
			if err := sess.Load(ctx, navigator(idx).PathOf(level)); err != nil {
				return err
			}
			if _, err := sess.Organize(ctx); err != nil {
				_ = sess.Close(ctx)
				return err
			}
			sess.Settle()

			moved := 0
			for _, e := range children {
				got, ok := sess.Entry(e.ID)
				if ok && got.Position != e.Position {
					moved++
				}
			}
			if err := sess.Close(ctx); err != nil {
				return err
			}
			if moved == 0 {
				fmt.Println("Already organized.")
				return nil
			}
			logger.Debug("organized level", "parent", level, "moved", moved)
			fmt.Printf("Moved %d of %d entries\n", moved, len(children))
			return nil
		},
	}

	cmd.Flags().StringVarP(&parent, "parent", "p", "", "parent entry id or prefix")
	cmd.Flags().BoolVar(&group, "group", false, "keep similar entries together (needs VOYAGE_API_KEY)")
	return cmd
}

func pathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path [id]",
		Short: "Print the canvas path that views an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getBackend()
			if err != nil {
				return err
			}
			defer s.close()

			idx, err := loadIndex(cmd.Context(), s)
			if err != nil {
				return err
			}
			id, err := resolveID(idx, args[0])
			if err != nil {
				return err
			}
			fmt.Println(navigator(idx).PathOf(id))
			return nil
		},
	}
}

// label is the display text of an entry, falling back to its media card
func label(e *domain.Entry) string {
	if e.Text != "" {
		return e.Text
	}
	if e.Media != nil {
		if e.Media.Title != "" {
			return e.Media.Title
		}
		if e.Media.Name != "" {
			return fmt.Sprintf("[%s] %s (%s)", e.Media.Kind, e.Media.Name, e.Media.SizeLabel)
		}
		return "[" + e.Media.Kind + "]"
	}
	if len(e.Links) > 0 {
		return e.Links[0].URL
	}
	return ""
}

func truncate(s string, max int) string {
	// Replace newlines with spaces for display
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
