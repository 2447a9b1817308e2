package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/cargo888/internal/auth"
	"github.com/MarcoPoloResearchLab/cargo888/internal/cargo"
	"github.com/MarcoPoloResearchLab/cargo888/internal/config"
	"github.com/MarcoPoloResearchLab/cargo888/internal/database"
	"github.com/MarcoPoloResearchLab/cargo888/internal/labels"
	"github.com/MarcoPoloResearchLab/cargo888/internal/logging"
	"github.com/MarcoPoloResearchLab/cargo888/internal/notify"
	"github.com/MarcoPoloResearchLab/cargo888/internal/qrrender"
	"github.com/MarcoPoloResearchLab/cargo888/internal/quotes"
	"github.com/MarcoPoloResearchLab/cargo888/internal/server"
	"github.com/MarcoPoloResearchLab/cargo888/internal/users"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cargo-api",
		Short: "888Cargo label and logistics backend",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file loaded before configuration")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Access token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")
	cmd.PersistentFlags().String("qr-logo-path", defaults.GetString("qr.logo_path"), "Logo drawn in the center of label QR codes")
	cmd.PersistentFlags().Bool("qr-compositing", defaults.GetBool("qr.compositing"), "Draw the logo badge on QR images")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "qr.logo_path", "qr-logo-path")
	bindFlag(cmd, "qr.compositing", "qr-compositing")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	// values already present in the environment win over the dotenv file
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        auth.DefaultIssuer,
		Audience:      auth.DefaultAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	usersService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Hasher:   auth.NewPasswordHasher(appConfig.BcryptCost),
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	scanFeed := server.NewScanFeed()
	labelsService, err := labels.NewService(labels.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Suffix:   labels.RandomSuffix,
		Logger:   logger,
		Observer: scanFeed,
	})
	if err != nil {
		return err
	}

	cargoService, err := cargo.NewService(cargo.ServiceConfig{
		Database:       db,
		Clock:          time.Now,
		Logger:         logger,
		OnBoxesDeleted: labelsService.DeleteForBoxes,
	})
	if err != nil {
		return err
	}

	quotesService, err := quotes.NewService(quotes.ServiceConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	renderer := qrrender.New(qrrender.Config{
		Compositing: appConfig.QR.Compositing,
		LogoPath:    appConfig.QR.LogoPath,
		Limits: qrrender.Limits{
			PlainBudget:   appConfig.QR.PlainBudget,
			LogoBudget:    appConfig.QR.LogoBudget,
			TruncateRunes: appConfig.QR.TruncateRunes,
			MaxWidth:      appConfig.QR.MaxWidth,
		},
		Logger: logger,
	})

	detached := notify.NewDetached(logger, appConfig.Notify.Timeout)
	channels, err := notificationChannels(appConfig.Notify)
	if err != nil {
		return err
	}
	notifier := notify.NewNotifier(detached, logger, channels...)
	logger.Info("notification channels configured", zap.Strings("channels", notifier.Channels()))

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:   tokenManager,
		UsersService:   usersService,
		CargoService:   cargoService,
		LabelsService:  labelsService,
		QuotesService:  quotesService,
		Renderer:       renderer,
		Sheets:         qrrender.NewSheetBuilder(renderer, logger),
		Notifier:       notifier,
		ScanFeed:       scanFeed,
		AllowedOrigins: appConfig.AllowedOrigins,
		MaxBodyBytes:   appConfig.MaxBodyBytes,
		ImageDefaults: qrrender.Options{
			Width:  appConfig.QR.DefaultWidth,
			Margin: appConfig.QR.DefaultMargin,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(signalCtx)
	group.Go(func() error {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		shutdownErr := httpServer.Shutdown(shutdownCtx)
		if err := detached.Drain(shutdownCtx); err != nil {
			logger.Warn("detached tasks still running at shutdown", zap.Error(err))
		}
		return shutdownErr
	})
	return group.Wait()
}

// notificationChannels builds the channels whose credentials are configured.
func notificationChannels(cfg config.NotifyConfig) ([]notify.Channel, error) {
	var channels []notify.Channel
	if cfg.SMTP.Host != "" && cfg.SMTP.From != "" {
		email, err := notify.NewEmailChannel(notify.EmailConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
		if err != nil {
			return nil, err
		}
		channels = append(channels, email)
	}
	if cfg.WhatsApp.Token != "" && cfg.WhatsApp.PhoneNumberID != "" {
		whatsApp, err := notify.NewWhatsAppChannel(notify.WhatsAppConfig{
			Token:         cfg.WhatsApp.Token,
			PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
			APIBaseURL:    cfg.WhatsApp.APIBaseURL,
			HTTPClient:    &http.Client{Timeout: cfg.Timeout},
		})
		if err != nil {
			return nil, err
		}
		channels = append(channels, whatsApp)
	}
	return channels, nil
}
