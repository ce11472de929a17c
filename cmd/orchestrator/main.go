package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	cobra.OnInitialize(initConfig)
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// initConfig lets SENTIENT_* environment variables stand in for flags,
// e.g. SENTIENT_ROOM=/etc/sentient/room.yaml.
func initConfig() {
	viper.SetEnvPrefix("SENTIENT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "orchestrator",
		Short: "Sentient room scene orchestrator",
		Long: `Runs themed-room scenes: state machines whose states drive devices over
MQTT, audio and video on entry, exit and along a timeline, and move on
through timeouts, media ends or device messages.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().String("room", "room.yaml", "path to room.yaml")
	_ = viper.BindPFlag("room", root.PersistentFlags().Lookup("room"))

	root.AddCommand(runCmd())
	root.AddCommand(validateCmd())
	root.AddCommand(inspectCmd())
	root.AddCommand(versionCmd())
	return root
}
