package cmd

import (
	"fmt"
	"net/http"
	_ "net/http/pprof" //ok in production https://medium.com/google-cloud/continuous-profiling-of-go-programs-96d4416af77b
	"os"
	"os/signal"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/swasthsaathi/portal/internal/portal"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve the records API and real-time notifications",
	Long: `Serve the records API, and the websocket and event-stream endpoints
that dashboards subscribe to. Set parameters with environment variables,
for example:

export PORTAL_PORT=4000
export PORTAL_LOG_LEVEL=warn
export PORTAL_LOG_FORMAT=json
export PORTAL_LOG_FILE=/var/log/portal/portal.log
export PORTAL_SEED_FILE=/etc/portal/seed.yaml
export PORTAL_SECRET=somesecret
export PORTAL_TOKEN_TTL=24h
export PORTAL_REQUIRE_TOKEN=false
export PORTAL_QUEUE_SIZE=256
export PORTAL_PROFILE=false
export PORTAL_PORT_PROFILE=6061
export PORTAL_STATS_EVERY=0
portal serve

Notes:
Without PORTAL_SEED_FILE the built-in demo users and patient are loaded.
Without PORTAL_SECRET a random secret is used, so tokens do not survive a restart.
PORTAL_LOG_FILE is reopened on SIGHUP, for use with logrotate.
PORTAL_STATS_EVERY=0 turns off the periodic hub statistics log.
`,
	Run: func(cmd *cobra.Command, args []string) {

		viper.SetEnvPrefix("PORTAL")
		viper.AutomaticEnv()

		viper.SetDefault("log_file", "stdout")
		viper.SetDefault("log_format", "json")
		viper.SetDefault("log_level", "warn")
		viper.SetDefault("port", 4000)
		viper.SetDefault("port_profile", 6061)
		viper.SetDefault("profile", false)
		viper.SetDefault("queue_size", 256)
		viper.SetDefault("require_token", false)
		viper.SetDefault("secret", "")
		viper.SetDefault("seed_file", "")
		viper.SetDefault("stats_every", "0s")
		viper.SetDefault("token_ttl", "24h")

		logFile := viper.GetString("log_file")
		logFormat := viper.GetString("log_format")
		logLevel := viper.GetString("log_level")
		port := viper.GetInt("port")
		portProfile := viper.GetInt("port_profile")
		profile := viper.GetBool("profile")
		queueSize := viper.GetInt("queue_size")
		requireToken := viper.GetBool("require_token")
		secret := viper.GetString("secret")
		seedFile := viper.GetString("seed_file")
		statsEveryStr := viper.GetString("stats_every")
		tokenTTLStr := viper.GetString("token_ttl")

		// parse durations

		statsEvery, err := time.ParseDuration(statsEveryStr)
		if err != nil {
			fmt.Println("cannot parse duration in PORTAL_STATS_EVERY=" + statsEveryStr)
			os.Exit(1)
		}

		tokenTTL, err := time.ParseDuration(tokenTTLStr)
		if err != nil || tokenTTL <= 0 {
			fmt.Println("cannot parse positive duration in PORTAL_TOKEN_TTL=" + tokenTTLStr)
			os.Exit(1)
		}

		if queueSize < 1 {
			fmt.Println("PORTAL_QUEUE_SIZE must be at least 1, not " + strconv.Itoa(queueSize))
			os.Exit(1)
		}

		// set up logging

		if err := configureLogging(logLevel, logFormat); err != nil {
			fmt.Println("PORTAL_" + err.Error())
			os.Exit(1)
		}

		out, stopReopen, err := logOutput(logFile)
		if err != nil {
			fmt.Printf("Failed to log to %s, logging to default stderr: %s\n", logFile, err.Error())
		} else {
			defer stopReopen()
			log.SetOutput(out)
		}

		// Report useful info
		log.Infof("portal version: %s", versionString())
		log.Infof("Log file: [%s]", logFile)
		log.Infof("Log format: [%s]", logFormat)
		log.Infof("Log level: [%s]", logLevel)
		log.Infof("Port: [%d]", port)
		log.Infof("Port for profile: [%d]", portProfile)
		log.Infof("Profiling is on: [%t]", profile)
		log.Infof("Queue size: [%d]", queueSize)
		log.Infof("Require token: [%t]", requireToken)
		if len(secret) >= 8 {
			log.Debugf("Secret: [%s...%s]", secret[:4], secret[len(secret)-4:])
		}
		log.Infof("Seed file: [%s]", seedFile)
		log.Infof("Stats every: [%s]", statsEvery)
		log.Infof("Token TTL: [%s]", tokenTTL)

		// Optionally start the profiling server
		if profile {
			go func() {
				url := "localhost:" + strconv.Itoa(portProfile)
				err := http.ListenAndServe(url, nil)
				if err != nil {
					log.Errorf(err.Error())
				}
			}()
		}

		var wg sync.WaitGroup

		closed := make(chan struct{})

		c := make(chan os.Signal, 1)

		signal.Notify(c, os.Interrupt)

		go func() {
			for range c {
				close(closed)
				wg.Wait()
				os.Exit(0)
			}
		}()

		wg.Add(1)

		config := portal.Config{
			Port:         port,
			SeedFile:     seedFile,
			Secret:       secret,
			TokenTTL:     tokenTTL,
			RequireToken: requireToken,
			QueueSize:    queueSize,
			StatsEvery:   statsEvery,
		}

		errs := make(chan error, 1)

		go func() {
			errs <- portal.Run(closed, &wg, config)
		}()

		wg.Wait()

		if err := <-errs; err != nil {
			fmt.Println("portal stopped: " + err.Error())
			os.Exit(1)
		}

	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
