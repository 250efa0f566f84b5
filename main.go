package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var logger *log.Logger

func init() {
	cobra.OnInitialize(initConfig)
	listenCmd.Flags().String("title", "untitled session", "Session title")
	listenCmd.Flags().Bool("tui", false, "Render the live transcript in a terminal UI")
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(listSessionsCmd)

	rootCmd.PersistentFlags().String("backend-url", "", "Realtime transcription backend URL")
	rootCmd.PersistentFlags().String("api-key", "", "Backend API key")
	rootCmd.PersistentFlags().String("database-url", "", "Postgres connection URL")
	rootCmd.PersistentFlags().String("metrics-addr", ":9090", "Prometheus metrics listen address")
	rootCmd.PersistentFlags().String("language", "en", "Transcription language")

	viper.BindPFlag("backend_url", rootCmd.PersistentFlags().Lookup("backend-url"))
	viper.BindPFlag("api_key", rootCmd.PersistentFlags().Lookup("api-key"))
	viper.BindPFlag("database_url", rootCmd.PersistentFlags().Lookup("database-url"))
	viper.BindPFlag("metrics_addr", rootCmd.PersistentFlags().Lookup("metrics-addr"))
	viper.BindPFlag("language", rootCmd.PersistentFlags().Lookup("language"))
}

func initConfig() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.SetEnvPrefix("parley")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Printf("Error reading config file: %s\n", err)
		}
	}

	logger = log.New(os.Stderr)
}

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Parley transcribes live conversations in real time",
	Long:  `Parley captures audio, streams it to a realtime transcription backend, and reconstructs a live transcript that survives connection trouble.`,
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Start a live transcription session",
	Run:   runListen,
}

var listSessionsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List recorded sessions",
	Long:  `List recorded sessions with their details in a formatted table`,
	Run:   runListSessions,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
