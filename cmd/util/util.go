package util

import (
	"github.com/ValentinKolb/memjob/lib/common"
	"github.com/ValentinKolb/memjob/lib/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"strings"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads .env files and makes viper read MEMJOB_* environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("memjob")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// InitLogging configures all loggers with the level of the log-level flag
func InitLogging() error {
	return common.InitLoggers(viper.GetString("log-level"))
}

// SetupStorageFlags adds the storage option flags to a command
func SetupStorageFlags(cmd *cobra.Command) {
	key := "expiration-interval"
	cmd.PersistentFlags().Duration(key, store.DefaultExpirationCheckInterval, WrapString("Sleep between two expiration sweeps"))

	key = "aggregation-interval"
	cmd.PersistentFlags().Duration(key, store.DefaultCountersAggregateInterval, WrapString("Sleep between two counter aggregations"))

	key = "fetch-timeout"
	cmd.PersistentFlags().Duration(key, store.DefaultFetchNextJobTimeout, WrapString("Time after which a fetched but unfinished job becomes fetchable again"))

	key = "fetch-poll-interval"
	cmd.PersistentFlags().Duration(key, store.DefaultFetchPollInterval, WrapString("Maximum time a waiting fetcher sleeps before it rescans the queues"))

	key = "batch-size"
	cmd.PersistentFlags().Int(key, store.DefaultBatchSize, WrapString("Maximum number of entities handled by one maintenance pass"))

	key = "pass-delay"
	cmd.PersistentFlags().Duration(key, store.DefaultPassDelay, WrapString("Pause between two maintenance passes (0 disables the pause)"))
}

// GetStorageOptions reads the storage options from viper
func GetStorageOptions() *store.Options {
	return &store.Options{
		ExpirationCheckInterval:   viper.GetDuration("expiration-interval"),
		CountersAggregateInterval: viper.GetDuration("aggregation-interval"),
		FetchNextJobTimeout:       viper.GetDuration("fetch-timeout"),
		FetchPollInterval:         viper.GetDuration("fetch-poll-interval"),
		BatchSize:                 viper.GetInt("batch-size"),
		PassDelay:                 viper.GetDuration("pass-delay"),
	}
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
