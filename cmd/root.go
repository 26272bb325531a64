/*
AZ-WAP - Open Source WhatsApp Web API
Copyright (C) 2025-2026 Aziel Cruzado <contacto@azielcruzado.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package cmd

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	globalConfig "github.com/wafleet/sessionfleet/config"
	"github.com/wafleet/sessionfleet/fleet"
	"github.com/wafleet/sessionfleet/infrastructure/chatbot"
	"github.com/wafleet/sessionfleet/infrastructure/valkey"
	"github.com/wafleet/sessionfleet/pkg/utils"
)

var (
	serverID string

	vkClient *valkey.Client

	controller *fleet.Controller
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "sessionfleet",
	Short: "Multi-tenant WhatsApp session fleet manager",
	Long:  `sessionfleet supervises a pool of WhatsApp sessions: connecting, reconnecting, and routing their events per-tenant.`,
	RunE:  serve,
}

func init() {
	time.Local = time.UTC

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	initFlags()

	cobra.OnInitialize(initEnvConfig)
}

// initFlags binds the persistent flags every subcommand shares to the
// same config package vars that init()-time env vars already populate,
// so a flag simply overrides whatever the environment set.
func initFlags() {
	rootCmd.PersistentFlags().StringVar(&globalConfig.FleetDBURI, "fleet-db-uri", globalConfig.FleetDBURI, "relational session-metadata store DSN")
	rootCmd.PersistentFlags().StringVar(&globalConfig.FleetAuthDBURI, "fleet-auth-db-uri", globalConfig.FleetAuthDBURI, "auth-blob store DSN (defaults to fleet-db-uri)")
	rootCmd.PersistentFlags().StringVar(&globalConfig.StorageMode, "storage-mode", globalConfig.StorageMode, `auth-blob backend: "file" or "mongodb"`)
	rootCmd.PersistentFlags().StringVar(&globalConfig.FleetStorageDir, "fleet-storage-dir", globalConfig.FleetStorageDir, "root directory for on-disk session artifacts")
	rootCmd.PersistentFlags().IntVar(&globalConfig.FleetMaxSessions, "fleet-max-sessions", globalConfig.FleetMaxSessions, "maximum live session registry size")
	rootCmd.PersistentFlags().BoolVar(&globalConfig.AppDebug, "debug", globalConfig.AppDebug, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&globalConfig.WhatsappChannelJID, "whatsapp-channel-jid", globalConfig.WhatsappChannelJID, "newsletter JID new sessions auto-follow")
	rootCmd.PersistentFlags().StringVar(&globalConfig.ChatbotWebhookURL, "chatbot-webhook-url", globalConfig.ChatbotWebhookURL, "HTTP endpoint for operator notifications")
}

// initEnvConfig binds environment variables to viper keys; config
// package vars are already env-populated at import time, so this step
// mainly lets viper-aware tooling discover the same keys rather than
// re-deriving config state from it.
func initEnvConfig() {
	viper.BindEnv("app_debug", "APP_DEBUG")
	viper.BindEnv("fleet_db_uri", "FLEET_DB_URI")
	viper.BindEnv("fleet_auth_db_uri", "FLEET_AUTH_DB_URI")
	viper.BindEnv("storage_mode", "STORAGE_MODE")
	viper.BindEnv("fleet_storage_dir", "FLEET_STORAGE_DIR")
	viper.BindEnv("fleet_max_sessions", "FLEET_MAX_SESSIONS")
	viper.BindEnv("whatsapp_channel_jid", "WHATSAPP_CHANNEL_JID")
	viper.BindEnv("chatbot_webhook_url", "CHATBOT_WEBHOOK_URL")
	viper.BindEnv("valkey_enabled", "VALKEY_ENABLED")
	viper.BindEnv("valkey_address", "VALKEY_ADDRESS")

	if globalConfig.AppDebug {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
}

// bootstrap builds the fleet.Controller from the currently-configured
// storage/cache settings; used by serve (migration opens its own
// database handle instead).
func bootstrap(ctx context.Context) (*fleet.Controller, error) {
	serverID = utils.GetPersistentServerID(globalConfig.AppServerID, globalConfig.PathStorages)

	if err := utils.CreateFolder(globalConfig.PathStorages, "sessions"); err != nil {
		logrus.WithError(err).Warn("[APP] failed to prepare storage folders")
	}

	fleetDB, err := globalConfig.GetFleetDB()
	if err != nil {
		return nil, err
	}
	authDB, err := globalConfig.GetFleetAuthDB()
	if err != nil {
		return nil, err
	}

	if globalConfig.ValkeyEnabled {
		vkClient, err = valkey.NewClient(valkey.Config{
			Address:        globalConfig.ValkeyAddress,
			Password:       globalConfig.ValkeyPassword,
			DB:             globalConfig.ValkeyDB,
			KeyPrefix:      globalConfig.ValkeyKeyPrefix + "-" + serverID,
			ConnectTimeout: 5 * time.Second,
		})
		if err != nil {
			logrus.WithError(err).Warn("[APP] valkey unavailable, continuing without the write-behind cache mirror")
			vkClient = nil
		}
	}

	var sink chatbot.Sink = chatbot.NewHTTPSink(globalConfig.ChatbotWebhookURL)

	return fleet.New(ctx, fleet.Dependencies{
		FleetDB:     fleetDB,
		AuthDB:      authDB,
		ChatbotSink: sink,
		Valkey:      vkClient,
	})
}

// StopApp performs a clean shutdown of the fleet controller and shared
// infrastructure.
func StopApp() {
	logrus.Info("[APP] Stopping application...")
	if controller != nil {
		controller.Shutdown()
	}
	if vkClient != nil {
		vkClient.Close()
	}
	logrus.Info("[APP] Application stopped cleanly.")
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
