package main

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/petrzlen/audiorecord-golang/internal/utils"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "AUDIORECORD"

func newRootCmd() *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:   "audiorecord",
		Short: "Capture PCM audio with per-chunk capture timestamps",
		Long: `audiorecord captures audio from a microphone (or replays a file as if it was one),
buffers it in a lock-free ring and drains it in order to a WAV file, stdout
JSON events, websocket listeners, the speakers or a transcriber.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			initConfig(v)
			return utils.SetupZerolog(v.GetString("log_level"))
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config file, any format viper reads")
	rootCmd.PersistentFlags().String("log-level", "info", "trace, debug, info, warn or error")
	_ = v.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = v.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(newRecordCmd(v))
	rootCmd.AddCommand(newConvertCmd())
	return rootCmd
}

func initConfig(v *viper.Viper) {
	// Load the .env file
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file loaded")
	}

	v.SetEnvPrefix(envPrefix)
	// e.g. AUDIORECORD_SAMPLE_RATE for sample_rate
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("open_ai_api_key", "OPEN_AI_API_KEY")

	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			log.Warn().Err(err).Str("config", cfgFile).Msg("cannot read config file")
		}
	}
}
