// Command mlt precompiles, renders and clears the compiled cache of a
// template directory.
//
// Configuration comes from flags, MLT_* environment variables and an
// optional .mlt.yml file, in that precedence order.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	mlt "github.com/MonkeysCloud/MonkeysLegion-Template"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "mlt",
	Short: "Template compiler and renderer",
	Long: `mlt compiles Blade-style templates into cached programs and renders
them against JSON data.

  mlt compile              Precompile every view
  mlt render pages.home    Render a view to stdout
  mlt clear                Delete all compiled artifacts`,
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".mlt")
		viper.SetConfigType("yml")
		viper.AddConfigPath(".")
	}
	viper.SetEnvPrefix("MLT")
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			fmt.Fprintf(os.Stderr, "reading config: %v\n", err)
			os.Exit(1)
		}
	}
}

func newEngine() *mlt.Engine {
	opts := []mlt.Option{
		mlt.WithCacheDir(viper.GetString("cache-dir")),
	}
	if dirs := viper.GetStringSlice("component-dirs"); len(dirs) > 0 {
		opts = append(opts, mlt.WithComponentDirs(dirs...))
	}
	return mlt.New(viper.GetString("views-dir"), opts...)
}

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Precompile every view under the views directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng := newEngine()
		if err := eng.CompileAll(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "compiled %d units\n", eng.CompileCount())
		return nil
	},
}

var renderCmd = &cobra.Command{
	Use:   "render <view>",
	Short: "Render a view to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data := map[string]any{}
		if dataFile, _ := cmd.Flags().GetString("data"); dataFile != "" {
			raw, err := os.ReadFile(dataFile)
			if err != nil {
				return err
			}
			if err := json.Unmarshal(raw, &data); err != nil {
				return fmt.Errorf("parsing %s: %w", dataFile, err)
			}
		}
		return newEngine().Render(cmd.OutOrStdout(), args[0], data)
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all compiled artifacts under the cache directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		return newEngine().ClearCache()
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .mlt.yml)")
	rootCmd.PersistentFlags().String("views-dir", "views", "directory holding template sources")
	rootCmd.PersistentFlags().String("cache-dir", "cache/views", "directory holding compiled artifacts")
	rootCmd.PersistentFlags().StringSlice("component-dirs", nil, "ordered component search directories")
	viper.BindPFlag("views-dir", rootCmd.PersistentFlags().Lookup("views-dir"))
	viper.BindPFlag("cache-dir", rootCmd.PersistentFlags().Lookup("cache-dir"))
	viper.BindPFlag("component-dirs", rootCmd.PersistentFlags().Lookup("component-dirs"))

	renderCmd.Flags().String("data", "", "JSON file with render data")

	rootCmd.AddCommand(compileCmd, renderCmd, clearCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
