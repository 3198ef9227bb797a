package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/reviewpilot/rp/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long:  "Start an HTTP server exposing the sync, review, response, policy, and run endpoints.\nBy default it listens on port 8080. Use --port to change it.",
	RunE: func(cmd *cobra.Command, args []string) error {
		port := viper.GetInt("port")

		s, err := getStore()
		if err != nil {
			return err
		}
		orch, err := getOrchestrator()
		if err != nil {
			return err
		}
		approvals, err := getApprovals()
		if err != nil {
			return err
		}

		server := api.NewServer(s, orch, approvals, getSource(), sourceConfig(), viper.GetString("sync.secret"), newLogger())

		addr := fmt.Sprintf(":%d", port)
		fmt.Printf("Serving API at http://localhost%s\n", addr)
		return http.ListenAndServe(addr, server.Router())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	viper.SetDefault("port", 8080)
	_ = viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))
}
