package trailblazer

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/crypt"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/reconciler"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/server"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/service"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/slurm"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/store"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/system"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/tower"
)

type serveOptionsType struct {
	host        string
	port        int
	jwtSecret   string
	databaseURI string
	secretKey   string

	slurmHost  string
	squeueBin  string
	scancelBin string

	towerBaseURL     string
	towerAccessToken string
	towerWorkspaceID string

	oauthClientID     string
	oauthClientSecret string
	oauthRedirectURL  string

	reconcileInterval time.Duration
}

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and the reconciliation loop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd, serveOptionsFromViper())
		},
	}
	setupServeFlags(serveCmd)
	return serveCmd
}

// setupServeFlags declares the flags and binds them into viper so every
// option is also settable through TRAILBLAZER_* environment variables.
func setupServeFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()

	flags.String("host", "0.0.0.0", "Interface the API server binds to.")
	flags.Int("port", 8000, "Port the API server listens on.")
	flags.String("jwt-secret", "", "Secret used to sign session tokens.")
	flags.String("database-uri", "trailblazer.db",
		"Database to connect to: a postgres:// URI or a sqlite file path.")
	flags.String("secret-key", "",
		"Base64-encoded 32-byte key used to encrypt stored refresh tokens.")

	flags.String("slurm-host", "",
		"Remote host to run scheduler commands on over ssh. Empty runs them locally.")
	flags.String("squeue-bin", "squeue", "Path to the squeue binary.")
	flags.String("scancel-bin", "scancel", "Path to the scancel binary.")

	flags.String("tower-base-url", "",
		"Base URL of the workflow platform API. Empty disables the platform back-end.")
	flags.String("tower-access-token", "", "Access token for the workflow platform API.")
	flags.String("tower-workspace-id", "", "Workspace the platform workflows live in.")

	flags.String("oauth-client-id", "", "OAuth client id for browser logins.")
	flags.String("oauth-client-secret", "", "OAuth client secret for browser logins.")
	flags.String("oauth-redirect-url", "", "OAuth redirect URL registered with the provider.")

	flags.Duration("reconcile-interval", reconciler.DefaultInterval,
		"How often ongoing analyses are refreshed against their back-ends.")

	viper.SetEnvPrefix("TRAILBLAZER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if err := viper.BindPFlags(flags); err != nil {
		panic(err)
	}
}

func serveOptionsFromViper() serveOptionsType {
	return serveOptionsType{
		host:              viper.GetString("host"),
		port:              viper.GetInt("port"),
		jwtSecret:         viper.GetString("jwt-secret"),
		databaseURI:       viper.GetString("database-uri"),
		secretKey:         viper.GetString("secret-key"),
		slurmHost:         viper.GetString("slurm-host"),
		squeueBin:         viper.GetString("squeue-bin"),
		scancelBin:        viper.GetString("scancel-bin"),
		towerBaseURL:      viper.GetString("tower-base-url"),
		towerAccessToken:  viper.GetString("tower-access-token"),
		towerWorkspaceID:  viper.GetString("tower-workspace-id"),
		oauthClientID:     viper.GetString("oauth-client-id"),
		oauthClientSecret: viper.GetString("oauth-client-secret"),
		oauthRedirectURL:  viper.GetString("oauth-redirect-url"),
		reconcileInterval: viper.GetDuration("reconcile-interval"),
	}
}

// openDialector picks the database driver from the URI shape. Anything that
// is not a postgres URI is treated as a sqlite file path.
func openDialector(databaseURI string) gorm.Dialector {
	if strings.HasPrefix(databaseURI, "postgres://") || strings.HasPrefix(databaseURI, "postgresql://") {
		return postgres.Open(databaseURI)
	}
	return sqlite.Open(databaseURI)
}

func serve(cmd *cobra.Command, opts serveOptionsType) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cm := system.NewCleanupManager()
	defer cm.Cleanup(context.Background())

	// a signal cancels ctx; cleanup shuts the server down which unblocks
	// ListenAndServe below
	go func() {
		<-ctx.Done()
		cm.Cleanup(context.Background())
	}()

	st, err := store.New(openDialector(opts.databaseURI))
	if err != nil {
		return err
	}

	cipher, err := crypt.New(opts.secretKey)
	if err != nil {
		return err
	}

	slurmClient := slurm.NewCLIClient(slurm.CLIClientParams{
		Host:       opts.slurmHost,
		SqueueBin:  opts.squeueBin,
		ScancelBin: opts.scancelBin,
	})

	jobParams := service.JobServiceParams{
		Store:        st,
		SlurmClient:  slurmClient,
		SlurmAdapter: slurm.NewAdapter(slurmClient, st),
	}
	if opts.towerBaseURL != "" {
		towerClient := tower.NewHTTPClient(tower.HTTPClientParams{
			BaseURL:     opts.towerBaseURL,
			AccessToken: opts.towerAccessToken,
			WorkspaceID: opts.towerWorkspaceID,
		})
		jobParams.TowerAdapter = tower.NewAdapter(towerClient, st)
	} else {
		log.Ctx(ctx).Warn().Msg("no platform base URL configured, platform analyses will not reconcile")
	}
	jobs := service.NewJobService(jobParams)

	analyses := service.NewAnalysisService(service.AnalysisServiceParams{
		Store: st,
		Jobs:  jobs,
	})
	users := service.NewUserService(st, cipher)

	rec, err := reconciler.New(reconciler.Params{
		Service:  analyses,
		Interval: opts.reconcileInterval,
	})
	if err != nil {
		return err
	}
	rec.Start(ctx)
	cm.RegisterCallbackWithContext(func(ctx context.Context) error {
		rec.Stop(ctx)
		return nil
	})

	var exchanger server.CodeExchanger
	if opts.oauthClientID != "" {
		exchanger = server.NewOAuthExchanger(&oauth2.Config{
			ClientID:     opts.oauthClientID,
			ClientSecret: opts.oauthClientSecret,
			RedirectURL:  opts.oauthRedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		})
	}

	apiServer, err := server.NewServer(server.Params{
		Options: server.Options{
			Host:      opts.host,
			Port:      opts.port,
			JWTSecret: opts.jwtSecret,
		},
		Analyses:  analyses,
		Users:     users,
		Exchanger: exchanger,
	})
	if err != nil {
		return err
	}

	log.Ctx(ctx).Info().
		Str("Address", apiServer.URL().String()).
		Dur("ReconcileInterval", opts.reconcileInterval).
		Msg("starting tracker")

	return apiServer.ListenAndServe(ctx, cm)
}
