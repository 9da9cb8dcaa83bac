package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/swasthsaathi/portal/internal/dashboard"
)

// WatchSpec is read from WATCH_<var> environment variables
type WatchSpec struct {
	Server   string `default:"http://localhost:4000"`
	Role     string `default:"doctor"`
	Patient  string
	Token    string
	LogLevel string `split_words:"true" default:"warn"`
}

var watchFlags WatchSpec

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "subscribe like a dashboard and print what arrives",
	Long: `Watch connects to a portal the way a dashboard does, joins the rooms for
its role and patient, and prints each notification as a line of JSON.
It reconnects and subscribes again if the connection drops. Set parameters
with environment variables, or the equivalent flags, for example:

export WATCH_SERVER=http://localhost:4000
export WATCH_ROLE=patient
export WATCH_PATIENT=ABHA1234
export WATCH_TOKEN=<token from /api/login, if the server requires one>
export WATCH_LOG_LEVEL=warn
portal watch
`,
	RunE: func(cmd *cobra.Command, args []string) error {

		spec, err := watchSpec(cmd)
		if err != nil {
			return err
		}

		if err := configureLogging(spec.LogLevel, "text"); err != nil {
			return err
		}
		log.SetOutput(os.Stderr)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		return watch(ctx, os.Stdout, spec)
	},
}

// watchSpec reads the environment, then lets any flag that was set override it
func watchSpec(cmd *cobra.Command) (WatchSpec, error) {

	var spec WatchSpec

	if err := envconfig.Process("watch", &spec); err != nil {
		return spec, err
	}

	flags := cmd.Flags()

	if flags.Changed("server") {
		spec.Server = watchFlags.Server
	}
	if flags.Changed("role") {
		spec.Role = watchFlags.Role
	}
	if flags.Changed("patient") {
		spec.Patient = watchFlags.Patient
	}
	if flags.Changed("token") {
		spec.Token = watchFlags.Token
	}
	if flags.Changed("log-level") {
		spec.LogLevel = watchFlags.LogLevel
	}

	return spec, nil
}

// watch runs a dashboard until ctx is cancelled, writing each event it
// listens for to w
func watch(ctx context.Context, w io.Writer, spec WatchSpec) error {

	m := dashboard.New(dashboard.Config{
		Server:    spec.Server,
		Role:      spec.Role,
		PatientID: spec.Patient,
		Token:     spec.Token,
	})

	m.OnState(func(from, to dashboard.State) {
		log.WithFields(log.Fields{"from": from.String(), "to": to.String()}).Info("dashboard state")
	})

	enc := json.NewEncoder(w)

	for _, eventType := range m.Plan().Events {
		m.On(eventType, func(e dashboard.Event) {
			if err := enc.Encode(e); err != nil {
				log.WithField("error", err.Error()).Error("could not write event")
			}
		})
	}

	log.WithFields(log.Fields{
		"server":  spec.Server,
		"role":    spec.Role,
		"patient": spec.Patient,
		"rooms":   m.Plan().Rooms,
	}).Info("watching")

	if err := m.Run(ctx); err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	return nil
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchFlags.Server, "server", "", "portal base URL (WATCH_SERVER)")
	watchCmd.Flags().StringVar(&watchFlags.Role, "role", "", "doctor, patient or pharmacist (WATCH_ROLE)")
	watchCmd.Flags().StringVar(&watchFlags.Patient, "patient", "", "patient to display (WATCH_PATIENT)")
	watchCmd.Flags().StringVar(&watchFlags.Token, "token", "", "login token (WATCH_TOKEN)")
	watchCmd.Flags().StringVar(&watchFlags.LogLevel, "log-level", "", "trace, debug, info, warn or error (WATCH_LOG_LEVEL)")
}
